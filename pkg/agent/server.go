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

// Package agent is the remote monitoring agent. It keeps one tracking entry
// per subscription, polls the local service manager for each, and serves
// the MonitorService RPC contract.
package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/carverauto/svcwatch/pkg/clock"
	ggrpc "github.com/carverauto/svcwatch/pkg/grpc"
	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
	"github.com/carverauto/svcwatch/pkg/probe"
)

// ProbeFactory creates the probe for a local service.
type ProbeFactory func(serviceName string) (probe.Probe, error)

// Notifier sends the email for an unexpected stop.
type Notifier interface {
	Dispatch(ctx context.Context, obj *models.TrackingObject) error
}

// Option configures a Server.
type Option func(*Server)

func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

func WithNotifier(n Notifier) Option {
	return func(s *Server) { s.notifier = n }
}

func WithProbeFactory(f ProbeFactory) Option {
	return func(s *Server) { s.newProbe = f }
}

func defaultProbeFactory(name string) (probe.Probe, error) {
	return probe.New(name, ".")
}

// Server owns the tracking entries and their poll loops.
type Server struct {
	config   *ServerConfig
	newProbe ProbeFactory
	notifier Notifier
	clock    clock.Clock
	logger   logger.Logger

	mu      sync.Mutex
	probes  map[string]probe.Probe
	entries map[trackingKey]*trackingEntry
	order   []trackingKey
	runCtx  context.Context
	stopRun context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates an agent server. cfg is validated and defaulted.
func NewServer(cfg *ServerConfig, log logger.Logger, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:   cfg,
		newProbe: defaultProbeFactory,
		clock:    clock.New(),
		logger:   log,
		probes:   make(map[string]probe.Probe),
		entries:  make(map[trackingKey]*trackingEntry),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Server) ListenAddr() string {
	return s.config.ListenAddr
}

func (s *Server) SecurityConfig() *models.SecurityConfig {
	return s.config.Security
}

// MonitorService returns the RPC implementation backed by this server.
func (s *Server) MonitorService() ggrpc.MonitorService {
	return &monitorService{server: s}
}

// RegisterServices registers the MonitorService on a gRPC server.
func (s *Server) RegisterServices(gs *grpc.Server) error {
	ggrpc.RegisterMonitorServiceServer(gs, s.MonitorService())

	return nil
}

// Start begins polling every tracked entry.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runCtx != nil {
		return nil
	}

	s.runCtx, s.stopRun = context.WithCancel(ctx)

	for _, key := range s.order {
		s.launch(s.entries[key])
	}

	s.logger.Info().Int("entries", len(s.entries)).Dur("poll_interval", s.pollInterval()).Msg("Agent started")

	return nil
}

// Stop ends every poll loop and drops all tracking entries.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopRun != nil {
		s.stopRun()
	}

	s.entries = make(map[trackingKey]*trackingEntry)
	s.order = nil
	s.runCtx, s.stopRun = nil, nil
	s.mu.Unlock()

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Agent stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) pollInterval() time.Duration {
	return time.Duration(s.config.PollInterval)
}

// launch starts the poll loop of e. Callers hold s.mu.
func (s *Server) launch(e *trackingEntry) {
	if s.runCtx == nil || e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(s.runCtx)
	e.cancel = cancel
	e.done = make(chan struct{})

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer close(e.done)

		s.run(ctx, e)
	}()
}

func (s *Server) run(ctx context.Context, e *trackingEntry) {
	ticker := s.clock.Ticker(s.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.poll(ctx, e)
		}
	}
}

func (s *Server) poll(ctx context.Context, e *trackingEntry) {
	failure, err := e.tick(ctx, s.clock.Now())
	if err != nil {
		s.logger.Debug().Err(err).Str("service_name", e.key.service).Str("entry", e.id).Msg("Poll failed")

		return
	}

	if failure == nil {
		return
	}

	s.logger.Warn().Str("service_name", failure.ServiceName).Str("state", failure.State.String()).
		Str("entry", e.id).Msg("Service stopped unexpectedly")

	if !failure.NotifyOnUnexpectedStop || s.notifier == nil {
		return
	}

	if err := s.notifier.Dispatch(ctx, failure); err != nil {
		s.logger.Error().Err(err).Str("service_name", failure.ServiceName).Msg("Failed to dispatch notification")
	}
}

// probeFor returns the shared probe of a local service, creating it once.
func (s *Server) probeFor(name string) (probe.Probe, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.probes[key]; ok {
		return p, nil
	}

	p, err := s.newProbe(name)
	if err != nil {
		return nil, err
	}

	s.probes[key] = p

	return p, nil
}

// entriesFor returns the entries tracking the named service.
func (s *Server) entriesFor(name string) []*trackingEntry {
	name = strings.ToLower(strings.TrimSpace(name))

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*trackingEntry

	for _, key := range s.order {
		if key.service == name {
			out = append(out, s.entries[key])
		}
	}

	return out
}

func (s *Server) subscribe(ctx context.Context, desc *models.SubscriptionDescriptor) error {
	p, err := s.probeFor(desc.ServiceName)
	if err != nil {
		return err
	}

	if err := p.Refresh(ctx); err != nil {
		return err
	}

	key := keyOf(desc)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		e.setDescriptor(desc)

		return nil
	}

	e := newTrackingEntry(desc, p, s.config.MaxQueued)
	s.entries[key] = e
	s.order = append(s.order, key)
	s.launch(e)

	s.logger.Info().Str("service_name", desc.ServiceName).Str("authority", desc.Authority).Str("entry", e.id).
		Msg("Subscribed")

	return nil
}

func (s *Server) unsubscribe(ctx context.Context, desc *models.SubscriptionDescriptor) error {
	key := keyOf(desc)

	s.mu.Lock()

	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()

		return nil
	}

	delete(s.entries, key)

	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i:i], s.order[i+1:]...)

			break
		}
	}
	s.mu.Unlock()

	s.logger.Info().Str("service_name", desc.ServiceName).Str("entry", e.id).Msg("Unsubscribed")

	if e.cancel == nil {
		return nil
	}

	e.cancel()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) descriptors() []models.SubscriptionDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.SubscriptionDescriptor, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.entries[key].Descriptor())
	}

	return out
}
