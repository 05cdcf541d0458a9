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

// Package monitor wires the registry, the agent watchdog, notifications and
// status publishing into the long-running monitor process.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/carverauto/svcwatch/pkg/client"
	"github.com/carverauto/svcwatch/pkg/clock"
	"github.com/carverauto/svcwatch/pkg/events"
	ggrpc "github.com/carverauto/svcwatch/pkg/grpc"
	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/mediator"
	"github.com/carverauto/svcwatch/pkg/models"
	"github.com/carverauto/svcwatch/pkg/notify"
	"github.com/carverauto/svcwatch/pkg/probe"
	"github.com/carverauto/svcwatch/pkg/registry"
	"github.com/carverauto/svcwatch/pkg/watchdog"
)

const natsClientName = "svcwatch"

// ProbeFactory creates the local probe of a service.
type ProbeFactory func(name, machine string) (probe.Probe, error)

// Notifier sends the report of an unexpected stop.
type Notifier interface {
	Dispatch(ctx context.Context, obj *models.TrackingObject) error
}

// StatusPublisher forwards status changes outside the process.
type StatusPublisher interface {
	PublishStatus(id models.ServiceIdentity, previous, current models.ServiceState, mode string, at time.Time) error
}

type Option func(*Monitor)

func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

func WithProbeFactory(f ProbeFactory) Option {
	return func(m *Monitor) { m.probes = f }
}

// WithPool replaces the gRPC connection pool.
func WithPool(p mediator.Pool) Option {
	return func(m *Monitor) { m.pool = p }
}

// WithAvailability replaces the watchdog as the source of agent availability.
func WithAvailability(a mediator.Availability) Option {
	return func(m *Monitor) { m.availability = a }
}

func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

func WithStatusPublisher(p StatusPublisher) Option {
	return func(m *Monitor) { m.publisher = p }
}

// localOnly is used when the agent service cannot be probed at all.
type localOnly struct{}

func (localOnly) IsAvailable() bool { return false }

// Monitor owns the registry of monitored services.
type Monitor struct {
	ctx    context.Context
	clock  clock.Clock
	logger logger.Logger

	probes       ProbeFactory
	pool         mediator.Pool
	availability mediator.Availability
	watchdog     *watchdog.Watchdog
	notifier     Notifier
	publisher    StatusPublisher
	registry     *registry.Registry

	mu      sync.Mutex
	config  *Config
	relays  map[models.ServiceKey][]func()
	closers []func() error

	reloadCh  chan time.Duration
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func defaultProbeFactory(name, machine string) (probe.Probe, error) {
	p, err := probe.New(name, machine)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// New builds the monitor from cfg and attaches every configured service.
// ctx bounds background work such as notification delivery.
func New(ctx context.Context, cfg *Config, log logger.Logger, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		ctx:      ctx,
		clock:    clock.New(),
		logger:   log,
		probes:   defaultProbeFactory,
		config:   cfg,
		relays:   make(map[models.ServiceKey][]func()),
		reloadCh: make(chan time.Duration, 1),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	if err := m.initPool(ctx); err != nil {
		return nil, err
	}

	m.initAvailability()
	m.initNotifier()

	if err := m.initPublisher(ctx); err != nil {
		m.closeResources()

		return nil, err
	}

	m.registry = registry.New(*cfg.Logging, log)

	for i := range cfg.Services {
		if err := m.add(ctx, cfg.Services[i]); err != nil {
			m.registry.Close(ctx)
			m.closeResources()

			return nil, err
		}
	}

	return m, nil
}

func (m *Monitor) initPool(ctx context.Context) error {
	if m.pool != nil {
		return nil
	}

	provider, err := ggrpc.NewSecurityProvider(ctx, m.config.Security, m.logger)
	if err != nil {
		return fmt.Errorf("failed to create security provider: %w", err)
	}

	pool := client.NewPool(client.GRPCBuilder(ctx, client.DialConfig{
		Port:        m.config.AgentPort,
		DialTimeout: time.Duration(m.config.DialTimeout),
		Security:    provider,
		Logger:      m.logger,
	}), m.logger)

	m.pool = pool
	m.closers = append(m.closers, pool.Close, provider.Close)

	return nil
}

func (m *Monitor) initAvailability() {
	if m.availability != nil {
		return
	}

	agent, err := m.probes(m.config.AgentServiceName, ".")
	if err != nil {
		m.logger.Warn().Err(err).Str("service_name", m.config.AgentServiceName).
			Msg("Agent service cannot be probed, monitoring locally only")

		m.availability = localOnly{}

		return
	}

	m.watchdog = watchdog.New(agent, m.logger,
		watchdog.WithClock(m.clock),
		watchdog.WithInterval(time.Duration(m.config.WatchdogInterval)))
	m.availability = m.watchdog

	m.watchdog.AvailabilityChanged.Subscribe(func(available bool) {
		if available {
			m.subscribeAll(m.ctx)
		}
	})
}

func (m *Monitor) initNotifier() {
	if m.notifier != nil {
		return
	}

	d := notify.NewDispatcher(m.logger, notify.WithClock(m.clock))
	m.notifier = d
	m.closers = append(m.closers, func() error {
		d.Wait()

		return nil
	})
}

func (m *Monitor) initPublisher(ctx context.Context) error {
	if m.publisher != nil || m.config.NATS == nil || m.config.NATS.URL == "" {
		return nil
	}

	nc, err := events.Connect(ctx, m.config.NATS.URL, natsClientName, m.logger)
	if err != nil {
		return err
	}

	m.publisher = events.NewNATSPublisher(nc, m.config.NATS.SubjectPrefix, natsClientName, m.logger)
	m.closers = append(m.closers, func() error {
		nc.Close()

		return nil
	})

	return nil
}

func (m *Monitor) Registry() *registry.Registry {
	return m.registry
}

// Watchdog returns nil when the agent service could not be probed.
func (m *Monitor) Watchdog() *watchdog.Watchdog {
	return m.watchdog
}

// add attaches a new entity for details. A service whose probe cannot be
// created is kept in the registry without a mediator.
func (m *Monitor) add(ctx context.Context, details models.ServiceDetails) error {
	entity := registry.NewEntity(details, m.logger)
	desc := m.descriptor(&details)

	p, err := m.probes(details.ServiceName, details.MachineName)
	if err != nil {
		m.logger.Error().Err(err).Str("service_name", details.ServiceName).
			Str("machine_name", details.MachineName).Msg("Failed to create service probe")

		return m.registry.Add(entity)
	}

	// establish the baseline state so the first poll is not taken for a stop
	if err := p.Refresh(ctx); err != nil {
		m.logger.Debug().Err(err).Str("service_name", details.ServiceName).Msg("Initial refresh failed")
	}

	med, err := mediator.New(&desc, p, m.pool, m.availability,
		logger.Wrap(m.logger.WithComponent("mediator")), mediator.WithClock(m.clock))
	if err != nil {
		return err
	}

	entity.AttachMediator(med)

	relays := []func(){
		entity.Failures.Subscribe(m.onFailure),
		entity.StatusChanges.Subscribe(m.onStatusChange),
		entity.MonitorErrors.Subscribe(m.onMonitorError),
	}

	if err := m.registry.Add(entity); err != nil {
		release(relays)
		entity.Close(ctx)

		return err
	}

	m.mu.Lock()
	m.relays[entity.Key()] = relays
	m.mu.Unlock()

	med.Subscribe(ctx)

	return nil
}

func (m *Monitor) remove(ctx context.Context, key models.ServiceKey) {
	entity, ok := m.registry.Remove(key)
	if !ok {
		return
	}

	m.mu.Lock()
	relays := m.relays[key]
	delete(m.relays, key)
	m.mu.Unlock()

	release(relays)
	entity.Close(ctx)
}

func release(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

func (m *Monitor) descriptor(details *models.ServiceDetails) models.SubscriptionDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.config.Descriptor(details)
}

func (m *Monitor) subscribeAll(ctx context.Context) {
	for _, e := range m.registry.Items() {
		if med := e.Mediator(); med != nil {
			med.Subscribe(ctx)
		}
	}
}

func (m *Monitor) onFailure(obj models.TrackingObject) {
	if !obj.NotifyOnUnexpectedStop {
		m.logger.Info().Str("service_name", obj.ServiceName).Str("machine_name", obj.MachineName).
			Msg("Unexpected stop, notification disabled")

		return
	}

	if err := m.notifier.Dispatch(m.ctx, &obj); err != nil {
		m.logger.Error().Err(err).Str("service_name", obj.ServiceName).Msg("Failed to dispatch notification")
	}
}

func (m *Monitor) onStatusChange(c mediator.StatusChange) {
	if m.publisher == nil {
		return
	}

	if err := m.publisher.PublishStatus(c.Identity, c.Previous, c.Current, c.Mode.String(), c.Time); err != nil {
		m.logger.Warn().Err(err).Str("service_name", c.Identity.ServiceName).Msg("Failed to publish status change")
	}
}

func (m *Monitor) onMonitorError(e mediator.MonitorError) {
	for _, ex := range e.Exceptions {
		m.logger.Warn().Str("service_name", e.Identity.ServiceName).Str("machine_name", e.Identity.MachineName).
			Str("kind", ex.Kind).Time("at", ex.Time).Msg(ex.Message)
	}
}

// Reconcile applies a new configuration: services no longer listed are
// disposed, new ones are attached and changed ones get their subscription
// updated. A changed poll interval takes effect on the next tick.
func (m *Monitor) Reconcile(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	old := m.config
	m.config = cfg
	m.mu.Unlock()

	shared := old.Authority != cfg.Authority ||
		!reflect.DeepEqual(old.Email, cfg.Email) ||
		!reflect.DeepEqual(old.SMTP, cfg.SMTP)

	wanted := make(map[models.ServiceKey]struct{}, len(cfg.Services))
	for i := range cfg.Services {
		wanted[cfg.Services[i].Identity().Key()] = struct{}{}
	}

	for _, e := range m.registry.Items() {
		if _, ok := wanted[e.Key()]; !ok {
			m.logger.Info().Str("service", e.Key().String()).Msg("Service removed from config")
			m.remove(ctx, e.Key())
		}
	}

	var errs []error

	for i := range cfg.Services {
		details := cfg.Services[i]
		key := details.Identity().Key()

		entity, ok := m.registry.Get(key)
		if !ok {
			m.logger.Info().Str("service", key.String()).Msg("Service added to config")

			if err := m.add(ctx, details); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}

			continue
		}

		if entity.Mediator() == nil {
			// retry probe creation for a service that could not be attached
			m.remove(ctx, key)

			if err := m.add(ctx, details); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}

			continue
		}

		if !shared && reflect.DeepEqual(entity.Details(), details) {
			continue
		}

		desc := cfg.Descriptor(&details)
		if err := entity.Update(ctx, details, &desc); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	if old.PollInterval != cfg.PollInterval {
		select {
		case m.reloadCh <- time.Duration(cfg.PollInterval):
		default:
		}
	}

	return errors.Join(errs...)
}

// Run polls every service immediately and then every poll interval until ctx
// is cancelled or Close is called. The watchdog runs alongside.
func (m *Monitor) Run(ctx context.Context) error {
	m.wg.Add(1)
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if m.watchdog != nil {
		m.wg.Add(1)

		go func() {
			defer m.wg.Done()

			m.watchdog.Run(ctx)
		}()
	}

	m.mu.Lock()
	interval := time.Duration(m.config.PollInterval)
	m.mu.Unlock()

	ticker := m.clock.Ticker(interval)
	defer func() { ticker.Stop() }()

	m.logger.Info().Dur("interval", interval).Int("services", m.registry.Len()).Msg("Starting monitor")

	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		case <-ticker.Chan():
			m.poll(ctx)
		case next := <-m.reloadCh:
			ticker.Stop()
			ticker = m.clock.Ticker(next)
			m.logger.Info().Dur("interval", next).Msg("Poll interval hot-reloaded")
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	if err := m.registry.RefreshAll(ctx); err != nil {
		m.logger.Debug().Err(err).Msg("Poll completed with errors")
	}
}

// Close stops Run, disposes every entity and releases the pool, the NATS
// connection and pending notifications.
func (m *Monitor) Close(ctx context.Context) error {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()

	m.mu.Lock()
	for key, relays := range m.relays {
		release(relays)
		delete(m.relays, key)
	}
	m.mu.Unlock()

	m.registry.Close(ctx)

	return m.closeResources()
}

func (m *Monitor) closeResources() error {
	var errs []error

	for _, fn := range m.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}

	m.closers = nil

	return errors.Join(errs...)
}
