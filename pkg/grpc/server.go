/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package grpc carries the MonitorService contract over gRPC: JSON codec,
// client stub, service descriptor, server wrapper and transport security.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/carverauto/svcwatch/pkg/logger"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

type loggerKey struct{}

const stopGrace = 5 * time.Second

// Monitors poll the agent every few seconds, so idle connections are kept
// open and pings are allowed without active streams.
var (
	agentKeepalive = keepalive.ServerParameters{
		MaxConnectionIdle:     15 * time.Minute,
		MaxConnectionAgeGrace: time.Minute,
		Time:                  time.Minute,
		Timeout:               20 * time.Second,
	}
	agentEnforcement = keepalive.EnforcementPolicy{
		MinTime:             15 * time.Second,
		PermitWithoutStream: true,
	}
)

// Server is the agent's gRPC server with health reporting, request logging
// and panic recovery. Every service registered before Start is reported
// SERVING until Stop.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	addr     string
	listener net.Listener
	logger   logger.Logger

	extra            []grpc.ServerOption
	noTelemetry      bool
	healthRegistered atomic.Bool
}

// NewServer creates a server that listens on addr once started.
func NewServer(addr string, log logger.Logger, opts ...ServerOption) *Server {
	s := &Server{addr: addr, logger: log, health: health.NewServer()}

	for _, opt := range opts {
		opt(s)
	}

	s.grpc = grpc.NewServer(s.options()...)

	return s
}

func (s *Server) options() []grpc.ServerOption {
	opts := make([]grpc.ServerOption, 0, len(s.extra)+4)

	if !s.noTelemetry {
		opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}

	opts = append(opts,
		grpc.ChainUnaryInterceptor(LoggingInterceptor(s.logger), RecoveryInterceptor(s.logger)),
		grpc.KeepaliveParams(agentKeepalive),
		grpc.KeepaliveEnforcementPolicy(agentEnforcement),
	)

	return append(opts, s.extra...)
}

// WithServerOptions appends raw gRPC server options, such as credentials.
func WithServerOptions(opt ...grpc.ServerOption) ServerOption {
	return func(s *Server) { s.extra = append(s.extra, opt...) }
}

// WithTelemetryDisabled drops the OpenTelemetry stats handler.
func WithTelemetryDisabled() ServerOption {
	return func(s *Server) { s.noTelemetry = true }
}

// WithListener serves on lis instead of listening on addr.
func WithListener(lis net.Listener) ServerOption {
	return func(s *Server) { s.listener = lis }
}

func (s *Server) GetGRPCServer() *grpc.Server {
	return s.grpc
}

// RegisterHealthServer exposes grpc.health.v1 on the server. It fails when
// called twice.
func (s *Server) RegisterHealthServer() error {
	if !s.healthRegistered.CompareAndSwap(false, true) {
		return errHealthServerRegistered
	}

	healthpb.RegisterHealthServer(s.grpc, s.health)

	return nil
}

func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	s.grpc.RegisterService(desc, impl)
}

func (s *Server) setServing(serving healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", serving)

	for name := range s.grpc.GetServiceInfo() {
		s.health.SetServingStatus(name, serving)
	}
}

// Start listens and serves until Stop. The health service is registered on
// first start if nobody did it before.
func (s *Server) Start() error {
	if !s.healthRegistered.Load() {
		_ = s.RegisterHealthServer()
	}

	lis := s.listener
	if lis == nil {
		var err error

		lis, err = (&net.ListenConfig{}).Listen(context.Background(), "tcp", s.addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		}
	}

	s.setServing(healthpb.HealthCheckResponse_SERVING)
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("Agent gRPC server listening")

	err := s.grpc.Serve(lis)
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) && !errors.Is(err, errServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}

// Stop reports NOT_SERVING and drains in-flight calls. Calls still running
// when ctx ends or after stopGrace are cut off.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	ctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()

	drained := make(chan struct{})

	go func() {
		defer close(drained)

		s.grpc.GracefulStop()
	}()

	select {
	case <-drained:
		s.logger.Info().Msg("Agent gRPC server stopped")
	case <-ctx.Done():
		s.logger.Warn().Err(ctx.Err()).Msg("Agent gRPC server did not drain, forcing stop")
		s.grpc.Stop()
		<-drained
	}
}

// LoggingInterceptor logs every call with its status code and hands the
// handler a logger carrying the trace and span ids when a span is active.
func LoggingInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler) (interface{}, error) {
		reqLog := log

		if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
			reqLog = logger.Wrap(log.WithFields(map[string]interface{}{
				"trace_id": sc.TraceID().String(),
				"span_id":  sc.SpanID().String(),
			}))
		}

		start := time.Now()
		resp, err := handler(context.WithValue(ctx, loggerKey{}, reqLog), req)

		code := status.Code(err)

		event := reqLog.Debug()
		if code != codes.OK && code != codes.NotFound {
			event = reqLog.Warn()
		}

		event.Str("method", MethodName(info.FullMethod)).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("Agent call")

		return resp, err
	}
}

// RecoveryInterceptor converts a handler panic into codes.Internal.
func RecoveryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("method", MethodName(info.FullMethod)).Interface("panic", r).
					Msg("Agent call panicked")

				err = status.Error(codes.Internal, errInternalError.Error())
			}
		}()

		return handler(ctx, req)
	}
}

// FromContext returns the request logger set by LoggingInterceptor, or a
// discard logger.
func FromContext(ctx context.Context) logger.Logger {
	if l, ok := ctx.Value(loggerKey{}).(logger.Logger); ok {
		return l
	}

	return logger.NewTestLogger()
}
