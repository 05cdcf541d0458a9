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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	ggrpc "github.com/carverauto/svcwatch/pkg/grpc"
	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
)

const defaultShutdownTimeout = 10 * time.Second

var errServiceRequired = errors.New("service is required")

// Service is a component with background work bound to the server's lifetime.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// GRPCServiceRegistrar registers gRPC services on the server.
type GRPCServiceRegistrar func(*grpc.Server) error

// ServerOptions configures RunServer.
type ServerOptions struct {
	ListenAddr           string
	ServiceName          string
	Service              Service
	RegisterGRPCServices []GRPCServiceRegistrar
	EnableHealthCheck    bool
	Security             *models.SecurityConfig
	Logger               logger.Logger
	ShutdownTimeout      time.Duration

	// Listener overrides ListenAddr, mainly for tests.
	Listener net.Listener
}

// RunServer starts the service and its gRPC server and blocks until ctx is
// cancelled, SIGINT/SIGTERM arrives, or the server fails.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	if opts.Service == nil {
		return errServiceRequired
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := ggrpc.NewSecurityProvider(ctx, opts.Security, log)
	if err != nil {
		return fmt.Errorf("failed to create security provider: %w", err)
	}

	defer func() { _ = provider.Close() }()

	creds, err := provider.GetServerCredentials(ctx)
	if err != nil {
		return fmt.Errorf("failed to load server credentials: %w", err)
	}

	serverOpts := []ggrpc.ServerOption{ggrpc.WithServerOptions(creds)}
	if opts.Listener != nil {
		serverOpts = append(serverOpts, ggrpc.WithListener(opts.Listener))
	}

	server := ggrpc.NewServer(opts.ListenAddr, log, serverOpts...)

	for _, register := range opts.RegisterGRPCServices {
		if err := register(server.GetGRPCServer()); err != nil {
			return fmt.Errorf("failed to register gRPC service: %w", err)
		}
	}

	if opts.EnableHealthCheck {
		if err := server.RegisterHealthServer(); err != nil {
			log.Warn().Err(err).Msg("Health server already registered")
		}
	}

	if err := opts.Service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s: %w", opts.ServiceName, err)
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- server.Start()
	}()

	log.Info().Str("service", opts.ServiceName).Str("addr", opts.ListenAddr).Msg("Service started")

	var runErr error

	select {
	case <-ctx.Done():
		log.Info().Str("service", opts.ServiceName).Msg("Shutdown requested")
	case runErr = <-errCh:
		if runErr != nil {
			log.Error().Err(runErr).Msg("gRPC server failed")
		}
	}

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	server.Stop(shutdownCtx)

	if err := opts.Service.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Str("service", opts.ServiceName).Msg("Service stop failed")

		return errors.Join(runErr, err)
	}

	return runErr
}
