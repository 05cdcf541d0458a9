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

// Package client holds the guarded RPC connections to remote monitoring
// agents and the per-machine pool they live in.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ggrpc "github.com/carverauto/svcwatch/pkg/grpc"
	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
)

// State is the lifecycle state of a connection's transport.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpened
	StateClosing
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpened:
		return "opened"
	case StateClosing:
		return "closing"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Transport is the channel beneath a Connection.
type Transport interface {
	State() State
	Open(ctx context.Context) error
	Close() error
	Abort() error
}

var errRecovered = errors.New("recovered panic")

// Action is a remote call made through Execute.
type Action func(ctx context.Context, svc ggrpc.MonitorService) error

// Connection is one guarded RPC channel to the agent on a machine.
type Connection struct {
	machine   string
	local     bool
	transport Transport
	service   ggrpc.MonitorService
	logger    logger.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewConnection wires a transport and the service stub that uses it.
func NewConnection(machine string, transport Transport, service ggrpc.MonitorService, log logger.Logger) *Connection {
	return &Connection{
		machine:   models.NormalizeMachine(machine),
		local:     models.IsLocalMachine(machine),
		transport: transport,
		service:   service,
		logger:    log,
	}
}

func (c *Connection) Machine() string {
	return c.machine
}

// IsLocal reports whether the target machine is this host.
func (c *Connection) IsLocal() bool {
	return c.local
}

func (c *Connection) State() State {
	return c.transport.State()
}

// IsAvailable reports whether the transport is open.
func (c *Connection) IsAvailable() bool {
	return c.transport.State() == StateOpened
}

// Service returns the remote interface handle.
func (c *Connection) Service() ggrpc.MonitorService {
	return c.service
}

// Open connects the transport. Failures are logged; callers check IsAvailable.
func (c *Connection) Open(ctx context.Context) {
	if c.IsAvailable() {
		return
	}

	if err := c.transport.Open(ctx); err != nil {
		c.logger.Warn().Err(err).Str("machine_name", c.machine).Msg("Failed to open agent connection")

		return
	}

	c.logger.Debug().Str("machine_name", c.machine).Msg("Agent connection opened")
}

// Execute runs action against the remote service. When action fails or
// panics the fallbacks run in order, each guarded the same way. It reports
// whether action itself succeeded.
func (c *Connection) Execute(ctx context.Context, action Action, fallback ...func() error) bool {
	err := guard(func() error { return action(ctx, c.service) })
	if err == nil {
		return true
	}

	c.logCallError(err)

	for _, fb := range fallback {
		if fb == nil {
			continue
		}

		if fbErr := guard(fb); fbErr != nil {
			c.logger.Warn().Err(fbErr).Str("machine_name", c.machine).Msg("Fallback failed")
		}
	}

	return false
}

// Call is Execute for actions that produce a value. On failure it returns the
// first fallback's value, or the zero value.
func Call[T any](ctx context.Context, c *Connection, action func(context.Context, ggrpc.MonitorService) (T, error),
	fallback ...func() (T, error)) (T, bool) {
	var result T

	ok := c.Execute(ctx, func(ctx context.Context, svc ggrpc.MonitorService) error {
		v, err := action(ctx, svc)
		if err != nil {
			return err
		}

		result = v

		return nil
	})
	if ok {
		return result, true
	}

	for _, fb := range fallback {
		if fb == nil {
			continue
		}

		var v T

		if err := guard(func() error {
			var fbErr error
			v, fbErr = fb()

			return fbErr
		}); err != nil {
			c.logger.Warn().Err(err).Str("machine_name", c.machine).Msg("Fallback failed")

			continue
		}

		return v, false
	}

	return result, false
}

func (c *Connection) logCallError(err error) {
	if kind, ok := ClassifyFault(err); ok {
		c.logger.Error().Err(err).Str("machine_name", c.machine).Str("fault", kind.String()).
			Msg("Remote call failed")

		return
	}

	c.logger.Warn().Err(err).Str("machine_name", c.machine).Msg("Remote call failed")
}

// Close aborts a faulted transport and closes any other one gracefully.
// Transports must treat Close of an already closed channel as a no-op.
// Further calls return the first result.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		switch c.transport.State() {
		case StateFaulted:
			c.closeErr = c.transport.Abort()
		case StateClosing:
		default:
			c.closeErr = c.transport.Close()
		}
	})

	return c.closeErr
}

// guard turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errRecovered, r)
		}
	}()

	return fn()
}
