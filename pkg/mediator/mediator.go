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

// Package mediator controls one monitored service, delegating to the remote
// monitoring agent while it is available and falling back to the local
// service manager otherwise.
package mediator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/svcwatch/pkg/client"
	"github.com/carverauto/svcwatch/pkg/clock"
	"github.com/carverauto/svcwatch/pkg/events"
	ggrpc "github.com/carverauto/svcwatch/pkg/grpc"
	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
	"github.com/carverauto/svcwatch/pkg/probe"
)

// ErrClosed is returned by operations on a closed mediator.
var ErrClosed = errors.New("mediator closed")

// Mode selects where an operation runs.
type Mode int

const (
	ModeLocal Mode = iota
	ModeDelegated
)

func (m Mode) String() string {
	if m == ModeDelegated {
		return "delegated"
	}

	return "local"
}

// Pool hands out connections to the agent on a machine.
type Pool interface {
	GetClient(machine string) *client.Connection
	RefreshClient(machine string) *client.Connection
}

// Availability reports whether the remote monitoring agent can be used.
type Availability interface {
	IsAvailable() bool
}

// StatusChange is raised whenever a refresh observes a new service state.
type StatusChange struct {
	Identity models.ServiceIdentity
	Previous models.ServiceState
	Current  models.ServiceState
	Mode     Mode
	Time     time.Time
}

// MonitorError carries exceptions queued by the remote agent.
type MonitorError struct {
	Identity   models.ServiceIdentity
	Exceptions []models.MonitorException
}

// Option configures a Mediator.
type Option func(*Mediator)

func WithClock(c clock.Clock) Option {
	return func(m *Mediator) { m.clock = c }
}

// Mediator is the per-service controller. Mode is chosen from the
// availability source at the start of every operation.
type Mediator struct {
	identity     models.ServiceIdentity
	probe        probe.Probe
	pool         Pool
	availability Availability
	clock        clock.Clock
	logger       logger.Logger

	toggling atomic.Bool
	closed   atomic.Bool
	// bumped when a local stop begins and when it ends
	stops atomic.Uint64

	mu         sync.RWMutex
	descriptor models.SubscriptionDescriptor
	lastStatus models.ServiceState

	// serializes the read-refresh-compare sequence of Refresh
	refreshMu sync.Mutex

	Failures      events.Feed[models.TrackingObject]
	MonitorErrors events.Feed[MonitorError]
	StatusChanges events.Feed[StatusChange]
}

// New creates a mediator for the service described by desc.
func New(desc *models.SubscriptionDescriptor, p probe.Probe, pool Pool, availability Availability,
	log logger.Logger, opts ...Option) (*Mediator, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	m := &Mediator{
		identity:     desc.Identity(),
		probe:        p,
		pool:         pool,
		availability: availability,
		clock:        clock.New(),
		logger:       log,
		descriptor:   desc.Clone(),
		lastStatus:   models.StateError,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

func (m *Mediator) Identity() models.ServiceIdentity {
	return m.identity
}

// Mode reports the mode the next operation will run in.
func (m *Mediator) Mode() Mode {
	if m.availability != nil && m.availability.IsAvailable() {
		return ModeDelegated
	}

	return ModeLocal
}

// Descriptor returns a copy of the current subscription descriptor.
func (m *Mediator) Descriptor() models.SubscriptionDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.descriptor.Clone()
}

func (m *Mediator) Status() models.ServiceState {
	return m.probe.Status()
}

// DisplayName prefers the configured display name over the one the service
// manager reports.
func (m *Mediator) DisplayName() string {
	m.mu.RLock()
	name := m.descriptor.DisplayName
	m.mu.RUnlock()

	if name != "" {
		return name
	}

	return m.probe.DisplayName()
}

func (m *Mediator) CanStop() bool {
	return m.probe.CanStop()
}

// IsToggling reports whether a deliberate local stop is in progress.
func (m *Mediator) IsToggling() bool {
	return m.toggling.Load()
}

func (m *Mediator) waitTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.descriptor.WaitTimeout()
}

func (m *Mediator) connection(ctx context.Context) *client.Connection {
	conn := m.pool.GetClient(m.identity.MachineName)
	if conn.State() == client.StateClosed {
		conn.Open(ctx)
	}

	return conn
}

// Start starts the service locally and waits for it to run.
func (m *Mediator) Start(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}

	if err := m.probe.Start(ctx); err != nil {
		return err
	}

	if err := m.probe.WaitForStatus(ctx, models.StateRunning, m.waitTimeout()); err != nil {
		return err
	}

	m.logger.Info().Str("service_name", m.identity.ServiceName).Str("machine_name", m.identity.MachineName).
		Msg("Service started locally")

	return nil
}

// Stop stops the service. Delegated stops are best effort and never fail;
// local stops report service manager errors and timeouts.
func (m *Mediator) Stop(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}

	if m.Mode() == ModeDelegated {
		m.stopRemote(ctx)

		return nil
	}

	return m.stopLocal(ctx)
}

func (m *Mediator) stopRemote(ctx context.Context) {
	desc := m.Descriptor()
	conn := m.connection(ctx)

	ok := conn.Execute(ctx, func(ctx context.Context, svc ggrpc.MonitorService) error {
		return svc.Stop(ctx, &desc)
	})
	if ok {
		m.logger.Info().Str("service_name", m.identity.ServiceName).Str("machine_name", m.identity.MachineName).
			Msg("Service stopped remotely")
	} else {
		m.logger.Error().Str("service_name", m.identity.ServiceName).Str("machine_name", m.identity.MachineName).
			Msg("Failed to stop service remotely")
	}

	m.DisplayMonitorExceptions(ctx)
}

func (m *Mediator) stopLocal(ctx context.Context) error {
	m.stops.Add(1)
	m.toggling.Store(true)

	err := m.probe.Stop(ctx)
	if err == nil {
		err = m.probe.WaitForStatus(ctx, models.StateStopped, m.waitTimeout())
	}

	m.toggling.Store(false)
	m.stops.Add(1)

	if err != nil {
		m.logger.Error().Err(err).Str("service_name", m.identity.ServiceName).
			Str("machine_name", m.identity.MachineName).Msg("Failed to stop service locally")

		return errors.Join(err, m.refresh(ctx, true))
	}

	m.logger.Info().Str("service_name", m.identity.ServiceName).Str("machine_name", m.identity.MachineName).
		Msg("Service stopped locally")

	return m.refresh(ctx, true)
}

// Refresh re-reads the local service state. In local mode a transition to
// Stopped or StopPending that was not caused by Stop raises a failure. In
// delegated mode the remote agent is polled for queued exceptions instead.
func (m *Mediator) Refresh(ctx context.Context) error {
	return m.refresh(ctx, false)
}

// refresh with deliberate set never raises a failure. A refresh that
// overlapped a local stop, even partially, is treated as stale.
func (m *Mediator) refresh(ctx context.Context, deliberate bool) error {
	if m.closed.Load() {
		return ErrClosed
	}

	mode := m.Mode()

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	stopsBefore := m.stops.Load()
	wasToggling := m.toggling.Load()

	previous := m.probe.Status()
	err := m.probe.Refresh(ctx)
	current := m.probe.Status()

	overlapped := m.stops.Load() != stopsBefore

	if err == nil && !overlapped {
		m.recordStatus(current, mode)
	}

	if mode == ModeDelegated {
		m.DisplayMonitorExceptions(ctx)

		return err
	}

	if err != nil {
		return err
	}

	if current == previous || deliberate || overlapped || wasToggling || m.toggling.Load() {
		return nil
	}

	if current.IsStopping() {
		m.raiseFailure(previous, current)
	}

	return nil
}

func (m *Mediator) recordStatus(current models.ServiceState, mode Mode) {
	m.mu.Lock()
	previous := m.lastStatus
	m.lastStatus = current
	m.mu.Unlock()

	if previous == current {
		return
	}

	m.logger.Debug().Str("service_name", m.identity.ServiceName).Str("previous", previous.String()).
		Str("current", current.String()).Str("mode", mode.String()).Msg("Service status changed")

	m.StatusChanges.Publish(StatusChange{
		Identity: m.identity,
		Previous: previous,
		Current:  current,
		Mode:     mode,
		Time:     m.clock.Now(),
	})
}

func (m *Mediator) raiseFailure(previous, current models.ServiceState) {
	desc := m.Descriptor()

	obj := models.TrackingObject{
		ServiceName:            m.identity.ServiceName,
		MachineName:            m.identity.MachineName,
		DisplayName:            m.DisplayName(),
		NotifyOnUnexpectedStop: desc.NotifyOnUnexpectedStop,
		Descriptor:             desc,
		PreviousState:          previous,
		State:                  current,
		Time:                   m.clock.Now(),
	}

	m.logger.Warn().Str("service_name", obj.ServiceName).Str("machine_name", obj.MachineName).
		Str("state", current.String()).Msg("Service stopped unexpectedly")

	m.Failures.Publish(obj)
}

// DisplayMonitorExceptions asks the remote agent for the service status and
// raises MonitorErrors when the agent has queued exceptions. A transport
// fault replaces the pooled connection. Nothing is returned to the caller.
func (m *Mediator) DisplayMonitorExceptions(ctx context.Context) {
	name := m.identity.ServiceName
	conn := m.connection(ctx)

	var callErr error

	result, ok := client.Call(ctx, conn, func(ctx context.Context, svc ggrpc.MonitorService) (*models.PollResult, error) {
		r, err := svc.GetStatus(ctx, name)
		if err != nil {
			callErr = err
		}

		return r, err
	})
	if !ok {
		if kind, fault := client.ClassifyFault(callErr); fault {
			m.logger.Error().Err(callErr).Str("fault", kind.String()).Str("machine_name", m.identity.MachineName).
				Msg("Agent connection faulted, refreshing")
			m.pool.RefreshClient(m.identity.MachineName)
		}

		return
	}

	if result == nil || len(result.Exceptions) == 0 {
		return
	}

	m.MonitorErrors.Publish(MonitorError{
		Identity:   m.identity,
		Exceptions: append([]models.MonitorException(nil), result.Exceptions...),
	})
}

// Subscribe registers the current descriptor with the remote agent.
func (m *Mediator) Subscribe(ctx context.Context) bool {
	if m.closed.Load() || m.Mode() != ModeDelegated {
		return false
	}

	desc := m.Descriptor()

	return m.connection(ctx).Execute(ctx, func(ctx context.Context, svc ggrpc.MonitorService) error {
		return svc.Subscribe(ctx, &desc)
	})
}

// Unsubscribe removes the remote interest. It does nothing in local mode.
func (m *Mediator) Unsubscribe(ctx context.Context) bool {
	if m.Mode() != ModeDelegated {
		return false
	}

	desc := m.Descriptor()

	return m.connection(ctx).Execute(ctx, func(ctx context.Context, svc ggrpc.MonitorService) error {
		return svc.Unsubscribe(ctx, &desc)
	})
}

// UpdateSubscription replaces the descriptor. In delegated mode the old
// interest is unsubscribed and the new one subscribed, both best effort.
func (m *Mediator) UpdateSubscription(ctx context.Context, desc *models.SubscriptionDescriptor) error {
	if m.closed.Load() {
		return ErrClosed
	}

	if err := desc.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	previous := m.descriptor
	m.descriptor = desc.Clone()
	m.mu.Unlock()

	if m.Mode() != ModeDelegated {
		return nil
	}

	next := desc.Clone()
	conn := m.connection(ctx)

	conn.Execute(ctx, func(ctx context.Context, svc ggrpc.MonitorService) error {
		return svc.Unsubscribe(ctx, &previous)
	})
	conn.Execute(ctx, func(ctx context.Context, svc ggrpc.MonitorService) error {
		return svc.Subscribe(ctx, &next)
	})

	return nil
}

// WaitForStatus waits locally with the descriptor's timeout.
func (m *Mediator) WaitForStatus(ctx context.Context, target models.ServiceState) error {
	return m.probe.WaitForStatus(ctx, target, m.waitTimeout())
}

// Close unsubscribes from the remote agent when it is reachable. Later
// operations return ErrClosed. The pooled connection stays with the pool.
func (m *Mediator) Close(ctx context.Context) {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}

	m.Unsubscribe(ctx)
}
