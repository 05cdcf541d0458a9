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

package client

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/status"

	ggrpc "github.com/carverauto/svcwatch/pkg/grpc"
	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
)

// DefaultAgentPort is the port the monitoring agent listens on.
const DefaultAgentPort = 50071

// grpcTransport adapts a grpc.ClientConn to Transport.
type grpcTransport struct {
	conn        *grpc.ClientConn
	dialTimeout time.Duration
	closing     atomic.Bool
	closed      atomic.Bool
}

func newGRPCTransport(conn *grpc.ClientConn, dialTimeout time.Duration) *grpcTransport {
	return &grpcTransport{conn: conn, dialTimeout: dialTimeout}
}

func (t *grpcTransport) State() State {
	if t.closed.Load() {
		return StateClosed
	}

	if t.closing.Load() {
		return StateClosing
	}

	return stateFromConnectivity(t.conn.GetState())
}

func stateFromConnectivity(s connectivity.State) State {
	switch s {
	case connectivity.Connecting:
		return StateOpening
	case connectivity.Ready:
		return StateOpened
	case connectivity.TransientFailure:
		return StateFaulted
	default:
		return StateClosed
	}
}

// Open starts connecting and waits until the channel is ready or failed. The
// wait is bounded by ctx and, when set, the dial timeout.
func (t *grpcTransport) Open(ctx context.Context) error {
	if t.closed.Load() {
		return NewFault(ChannelFaulted, grpc.ErrClientConnClosing)
	}

	if t.dialTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, t.dialTimeout)
		defer cancel()
	}

	t.conn.Connect()

	for {
		s := t.conn.GetState()

		switch s {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure:
			return NewFault(EndpointNotFound, fmt.Errorf("connect to %s failed", t.conn.Target()))
		case connectivity.Shutdown:
			return NewFault(ChannelFaulted, grpc.ErrClientConnClosing)
		case connectivity.Idle, connectivity.Connecting:
		}

		if !t.conn.WaitForStateChange(ctx, s) {
			return NewFault(EndpointNotFound, ctx.Err())
		}
	}
}

func (t *grpcTransport) Close() error {
	if t.closed.Load() || !t.closing.CompareAndSwap(false, true) {
		return nil
	}

	err := t.conn.Close()
	t.closed.Store(true)

	return err
}

// Abort tears the channel down without waiting for in-flight calls.
func (t *grpcTransport) Abort() error {
	t.closing.Store(true)
	err := t.conn.Close()
	t.closed.Store(true)

	return err
}

// brokenTransport stands in when a client could not even be created.
type brokenTransport struct {
	err error
}

func (brokenTransport) State() State                 { return StateFaulted }
func (b brokenTransport) Open(context.Context) error { return NewFault(EndpointNotFound, b.err) }
func (brokenTransport) Close() error                 { return nil }
func (brokenTransport) Abort() error                 { return nil }

// unreachableService answers every call with codes.Unavailable.
type unreachableService struct {
	err error
}

func (u unreachableService) fail() error {
	return status.Error(codes.Unavailable, u.err.Error())
}

func (u unreachableService) GetStatus(context.Context, string) (*models.PollResult, error) {
	return nil, u.fail()
}

func (u unreachableService) Start(context.Context, *models.SubscriptionDescriptor) error {
	return u.fail()
}

func (u unreachableService) Stop(context.Context, *models.SubscriptionDescriptor) error {
	return u.fail()
}

func (u unreachableService) Refresh(context.Context, *models.SubscriptionDescriptor) (models.ServiceState, error) {
	return models.StateError, u.fail()
}

func (u unreachableService) WaitForStatus(context.Context, *models.SubscriptionDescriptor, models.ServiceState) error {
	return u.fail()
}

func (u unreachableService) GetServices(context.Context) ([]models.SubscriptionDescriptor, error) {
	return nil, u.fail()
}

func (u unreachableService) Subscribe(context.Context, *models.SubscriptionDescriptor) error {
	return u.fail()
}

func (u unreachableService) Unsubscribe(context.Context, *models.SubscriptionDescriptor) error {
	return u.fail()
}

func (u unreachableService) UpdateSubscription(context.Context, *models.SubscriptionDescriptor,
	*models.SubscriptionDescriptor) error {
	return u.fail()
}

// DialConfig configures GRPCBuilder.
type DialConfig struct {
	Port             int
	DialTimeout      time.Duration
	Security         ggrpc.SecurityProvider
	Logger           logger.Logger
	DisableTelemetry bool
}

// AgentAddress returns host:port of the agent on machine.
func AgentAddress(machine string, port int) string {
	if port <= 0 {
		port = DefaultAgentPort
	}

	host := models.NormalizeMachine(machine)
	if host == "." {
		host = "localhost"
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

// GRPCBuilder returns a Builder that creates gRPC connections to the agent.
// Creation never fails: a client that cannot be built yields a faulted
// connection whose calls report endpoint-not-found.
func GRPCBuilder(ctx context.Context, cfg DialConfig) Builder {
	return func(machine string) *Connection {
		addr := AgentAddress(machine, cfg.Port)

		conn, err := ggrpc.NewClientConn(ctx, ggrpc.ClientConfig{
			Address:          addr,
			SecurityProvider: cfg.Security,
			Logger:           cfg.Logger,
			DisableTelemetry: cfg.DisableTelemetry,
		})
		if err != nil {
			cfg.Logger.Error().Err(err).Str("machine_name", machine).Msg("Failed to create agent client")

			return NewConnection(machine, brokenTransport{err: err}, unreachableService{err: err}, cfg.Logger)
		}

		return NewConnection(machine, newGRPCTransport(conn, cfg.DialTimeout), ggrpc.NewMonitorServiceClient(conn), cfg.Logger)
	}
}
