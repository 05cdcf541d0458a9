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

//go:generate mockgen -destination=mock_probe.go -package=probe github.com/carverauto/svcwatch/pkg/probe Probe

// Package probe wraps the platform service manager for a single named service.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/svcwatch/pkg/clock"
	"github.com/carverauto/svcwatch/pkg/models"
)

var (
	// ErrProbe wraps every failure reported by the platform service manager.
	ErrProbe = errors.New("service control failed")
	// ErrTimeout is returned when WaitForStatus gives up.
	ErrTimeout = errors.New("timed out waiting for service status")
	// ErrNotInstalled is returned by operations on a service that does not exist.
	ErrNotInstalled = errors.New("service not installed")
	// ErrUnsupported is returned when the platform or target machine cannot be controlled.
	ErrUnsupported = errors.New("service control not supported")
)

const defaultPollInterval = 250 * time.Millisecond

// Probe is the local view of one OS service. Status, DisplayName and CanStop
// return the values cached by the last Refresh, Start, Stop or WaitForStatus.
type Probe interface {
	Name() string
	Status() models.ServiceState
	DisplayName() string
	CanStop() bool
	IsInstalled(ctx context.Context) (bool, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Refresh(ctx context.Context) error
	WaitForStatus(ctx context.Context, target models.ServiceState, timeout time.Duration) error
}

// Info is one snapshot read from the service manager.
type Info struct {
	State       models.ServiceState
	DisplayName string
	CanStop     bool
	Installed   bool
}

// Controller talks to the platform service manager. Query reports a missing
// service with Installed=false and a nil error.
type Controller interface {
	Query(ctx context.Context) (Info, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Option configures a ServiceProbe.
type Option func(*ServiceProbe)

// WithClock replaces the clock driving WaitForStatus polling.
func WithClock(c clock.Clock) Option {
	return func(p *ServiceProbe) { p.clock = c }
}

// WithPollInterval sets how often WaitForStatus re-queries the service.
func WithPollInterval(d time.Duration) Option {
	return func(p *ServiceProbe) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// ServiceProbe caches the last observed Info of a service.
type ServiceProbe struct {
	name         string
	controller   Controller
	clock        clock.Clock
	pollInterval time.Duration

	mu   sync.RWMutex
	info Info
}

// New returns a probe for name on machine using the platform controller.
func New(name, machine string, opts ...Option) (*ServiceProbe, error) {
	ctrl, err := newPlatformController(name, machine)
	if err != nil {
		return nil, err
	}

	return NewWithController(name, ctrl, opts...), nil
}

// NewWithController returns a probe over an explicit controller.
func NewWithController(name string, ctrl Controller, opts ...Option) *ServiceProbe {
	p := &ServiceProbe{
		name:         name,
		controller:   ctrl,
		clock:        clock.New(),
		pollInterval: defaultPollInterval,
		info:         Info{State: models.StateError, DisplayName: name},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *ServiceProbe) Name() string {
	return p.name
}

func (p *ServiceProbe) Status() models.ServiceState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.info.State
}

func (p *ServiceProbe) DisplayName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.info.DisplayName
}

func (p *ServiceProbe) CanStop() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.info.CanStop
}

// IsInstalled queries the service manager without touching the cache.
func (p *ServiceProbe) IsInstalled(ctx context.Context) (bool, error) {
	info, err := p.controller.Query(ctx)
	if err != nil {
		return false, p.wrap(err)
	}

	return info.Installed, nil
}

func (p *ServiceProbe) Start(ctx context.Context) error {
	if err := p.controller.Start(ctx); err != nil {
		return p.wrap(err)
	}

	return p.Refresh(ctx)
}

func (p *ServiceProbe) Stop(ctx context.Context) error {
	if err := p.controller.Stop(ctx); err != nil {
		return p.wrap(err)
	}

	return p.Refresh(ctx)
}

// Refresh re-reads the service and updates the cache.
func (p *ServiceProbe) Refresh(ctx context.Context) error {
	info, err := p.controller.Query(ctx)
	if err != nil {
		return p.wrap(err)
	}

	if !info.Installed {
		return fmt.Errorf("%w: %s", ErrNotInstalled, p.name)
	}

	if info.DisplayName == "" {
		info.DisplayName = p.name
	}

	p.mu.Lock()
	p.info = info
	p.mu.Unlock()

	return nil
}

// WaitForStatus polls until the service reaches target. A timeout <= 0 waits
// until ctx ends.
func (p *ServiceProbe) WaitForStatus(ctx context.Context, target models.ServiceState, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := p.Refresh(ctx); err != nil {
		return p.waitErr(ctx, target, err)
	}

	if p.Status() == target {
		return nil
	}

	ticker := p.clock.Ticker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return p.waitErr(ctx, target, ctx.Err())
		case <-ticker.Chan():
			if err := p.Refresh(ctx); err != nil {
				return p.waitErr(ctx, target, err)
			}

			if p.Status() == target {
				return nil
			}
		}
	}
}

func (p *ServiceProbe) waitErr(ctx context.Context, target models.ServiceState, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s did not reach %s (last %s)", ErrTimeout, p.name, target, p.Status())
	}

	return err
}

func (p *ServiceProbe) wrap(err error) error {
	if errors.Is(err, ErrProbe) || errors.Is(err, ErrNotInstalled) || errors.Is(err, ErrUnsupported) {
		return err
	}

	return fmt.Errorf("%w: %s: %w", ErrProbe, p.name, err)
}
