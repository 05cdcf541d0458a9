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

// Package watchdog tracks whether the local monitoring agent service is
// installed and running.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/carverauto/svcwatch/pkg/clock"
	"github.com/carverauto/svcwatch/pkg/events"
	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
	"github.com/carverauto/svcwatch/pkg/probe"
)

// DefaultInterval is the time between checks.
const DefaultInterval = 3 * time.Second

// Option configures a Watchdog.
type Option func(*Watchdog)

func WithClock(c clock.Clock) Option {
	return func(w *Watchdog) { w.clock = c }
}

func WithInterval(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.interval = d
		}
	}
}

// Watchdog polls the agent service and reports availability flips.
// A check that errors counts as not installed or not available.
type Watchdog struct {
	agent    probe.Probe
	clock    clock.Clock
	interval time.Duration
	logger   logger.Logger

	mu        sync.RWMutex
	installed bool
	available bool

	AvailabilityChanged events.Feed[bool]
	InstalledChanged    events.Feed[bool]
}

// New returns a watchdog over the agent service probe. Both flags start false.
func New(agent probe.Probe, log logger.Logger, opts ...Option) *Watchdog {
	w := &Watchdog{
		agent:    agent,
		clock:    clock.New(),
		interval: DefaultInterval,
		logger:   log,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// IsAvailable reports whether the agent was running at the last check.
func (w *Watchdog) IsAvailable() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.available
}

func (w *Watchdog) IsInstalled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.installed
}

// Run checks immediately and then on every tick until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	w.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			w.Check(ctx)
		}
	}
}

// Check performs one installed/running check and updates both flags.
func (w *Watchdog) Check(ctx context.Context) {
	installed := w.checkInstalled(ctx)
	w.setInstalled(installed)

	if !installed {
		w.setAvailable(false)

		return
	}

	w.setAvailable(w.checkRunning(ctx))
}

func (w *Watchdog) checkInstalled(ctx context.Context) bool {
	installed, err := w.agent.IsInstalled(ctx)
	if err != nil {
		w.logger.Debug().Err(err).Str("service_name", w.agent.Name()).Msg("Agent install check failed")

		return false
	}

	return installed
}

func (w *Watchdog) checkRunning(ctx context.Context) bool {
	if err := w.agent.Refresh(ctx); err != nil {
		w.logger.Debug().Err(err).Str("service_name", w.agent.Name()).Msg("Agent status check failed")

		return false
	}

	return w.agent.Status() == models.StateRunning
}

func (w *Watchdog) setInstalled(v bool) {
	w.mu.Lock()
	changed := w.installed != v
	w.installed = v
	w.mu.Unlock()

	if changed {
		w.logger.Info().Bool("installed", v).Str("service_name", w.agent.Name()).Msg("Agent install state changed")
		w.InstalledChanged.Publish(v)
	}
}

func (w *Watchdog) setAvailable(v bool) {
	w.mu.Lock()
	changed := w.available != v
	w.available = v
	w.mu.Unlock()

	if changed {
		w.logger.Info().Bool("available", v).Str("service_name", w.agent.Name()).Msg("Agent availability changed")
		w.AvailabilityChanged.Publish(v)
	}
}
