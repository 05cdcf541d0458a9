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

package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/svcwatch/pkg/client"
	"github.com/carverauto/svcwatch/pkg/clock"
	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/mediator"
	"github.com/carverauto/svcwatch/pkg/models"
	"github.com/carverauto/svcwatch/pkg/probe"
	"github.com/carverauto/svcwatch/pkg/registry"
	"github.com/carverauto/svcwatch/pkg/watchdog"
)

// stubProbe reports state and switches to pending on the next Refresh.
type stubProbe struct {
	name string

	mu        sync.Mutex
	state     models.ServiceState
	pending   *models.ServiceState
	refreshes int
}

func (p *stubProbe) transition(s models.ServiceState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = &s
}

func (p *stubProbe) Name() string        { return p.name }
func (p *stubProbe) DisplayName() string { return p.name }
func (p *stubProbe) CanStop() bool       { return true }

func (p *stubProbe) Status() models.ServiceState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

func (p *stubProbe) IsInstalled(context.Context) (bool, error) { return true, nil }
func (p *stubProbe) Start(context.Context) error               { return nil }
func (p *stubProbe) Stop(context.Context) error                { return nil }

func (p *stubProbe) Refresh(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.refreshes++

	if p.pending != nil {
		p.state = *p.pending
		p.pending = nil
	}

	return nil
}

func (p *stubProbe) WaitForStatus(context.Context, models.ServiceState, time.Duration) error {
	return nil
}

func (p *stubProbe) refreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.refreshes
}

type probeSet struct {
	mu     sync.Mutex
	probes map[string]*stubProbe
	broken map[string]bool
}

func newProbeSet() *probeSet {
	return &probeSet{probes: make(map[string]*stubProbe), broken: make(map[string]bool)}
}

func (s *probeSet) factory(name, machine string) (probe.Probe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken[name] {
		return nil, probe.ErrUnsupported
	}

	p := &stubProbe{name: name, state: models.StateRunning}
	s.probes[name+"@"+models.NormalizeMachine(machine)] = p

	return p, nil
}

func (s *probeSet) get(key string) *stubProbe {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.probes[key]
}

type offline struct{}

func (offline) IsAvailable() bool { return false }

type unusedPool struct{}

func (unusedPool) GetClient(string) *client.Connection     { return nil }
func (unusedPool) RefreshClient(string) *client.Connection { return nil }

type recordingNotifier struct {
	mu      sync.Mutex
	objects []models.TrackingObject
}

func (n *recordingNotifier) Dispatch(_ context.Context, obj *models.TrackingObject) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.objects = append(n.objects, *obj)

	return nil
}

func (n *recordingNotifier) sent() []models.TrackingObject {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]models.TrackingObject(nil), n.objects...)
}

type statusRecord struct {
	service  string
	previous models.ServiceState
	current  models.ServiceState
	mode     string
}

type recordingPublisher struct {
	mu      sync.Mutex
	records []statusRecord
}

func (p *recordingPublisher) PublishStatus(id models.ServiceIdentity, previous, current models.ServiceState,
	mode string, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.records = append(p.records, statusRecord{id.ServiceName, previous, current, mode})

	return nil
}

type harness struct {
	monitor   *Monitor
	probes    *probeSet
	notifier  *recordingNotifier
	publisher *recordingPublisher
}

func newHarness(t *testing.T, cfg *Config, opts ...Option) *harness {
	t.Helper()

	h := &harness{probes: newProbeSet(), notifier: &recordingNotifier{}, publisher: &recordingPublisher{}}

	base := []Option{
		WithProbeFactory(h.probes.factory),
		WithPool(unusedPool{}),
		WithAvailability(offline{}),
		WithNotifier(h.notifier),
		WithStatusPublisher(h.publisher),
	}

	m, err := New(context.Background(), cfg, logger.NewTestLogger(), append(base, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = m.Close(context.Background()) })

	h.monitor = m

	return h
}

func testConfig(services ...models.ServiceDetails) *Config {
	return &Config{
		Services: services,
		Email:    models.EmailInfo{From: "watch@example.com", To: []string{"ops@example.com"}},
	}
}

func TestConfigValidateDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultAgentServiceName, cfg.AgentServiceName)
	assert.Equal(t, client.DefaultAgentPort, cfg.AgentPort)
	assert.Equal(t, models.Duration(watchdog.DefaultInterval), cfg.WatchdogInterval)
	assert.Equal(t, models.Duration(defaultPollInterval), cfg.PollInterval)
	assert.Equal(t, models.Duration(defaultDialTimeout), cfg.DialTimeout)
	assert.NotNil(t, cfg.Logging)
}

func TestConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{
			name: "empty service name",
			cfg:  Config{Services: []models.ServiceDetails{{ServiceName: " "}}},
			want: models.ErrEmptyServiceName,
		},
		{
			name: "duplicate key ignores case and local alias",
			cfg: Config{Services: []models.ServiceDetails{
				{ServiceName: "Spooler"},
				{ServiceName: "spooler", MachineName: "."},
			}},
			want: errDuplicateService,
		},
		{
			name: "negative interval",
			cfg:  Config{PollInterval: models.Duration(-time.Second)},
			want: errInvalidInterval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.cfg.Validate(), tt.want)
		})
	}
}

func TestNewAttachesServices(t *testing.T) {
	h := newHarness(t, testConfig(
		models.ServiceDetails{ServiceName: "alpha"},
		models.ServiceDetails{ServiceName: "beta", MachineName: "web01"},
	))

	items := h.monitor.Registry().Items()
	require.Len(t, items, 2)
	assert.Equal(t, "alpha", items[0].Key().ServiceName)
	assert.Equal(t, "web01", items[1].Key().MachineName)

	for _, e := range items {
		assert.NotNil(t, e.Mediator())
		assert.Equal(t, models.StateRunning, e.Status())
	}

	assert.Equal(t, 1, h.probes.get("alpha@.").refreshCount(), "baseline refresh")
}

func TestProbeFailureLeavesEntityUnattached(t *testing.T) {
	probes := newProbeSet()
	probes.broken["ghost"] = true

	m, err := New(context.Background(), testConfig(models.ServiceDetails{ServiceName: "ghost"}),
		logger.NewTestLogger(),
		WithProbeFactory(probes.factory), WithPool(unusedPool{}), WithAvailability(offline{}),
		WithNotifier(&recordingNotifier{}))
	require.NoError(t, err)

	defer func() { _ = m.Close(context.Background()) }()

	e, ok := m.Registry().Get(models.ServiceKey{ServiceName: "ghost", MachineName: "."})
	require.True(t, ok)
	assert.Nil(t, e.Mediator())
	assert.Equal(t, models.StateError, e.Status())
	assert.Equal(t, registry.UnattachedDisplayName, e.DisplayName())
}

func TestUnexpectedStopNotifies(t *testing.T) {
	h := newHarness(t, testConfig(
		models.ServiceDetails{ServiceName: "alpha", NotifyOnUnexpectedStop: true},
		models.ServiceDetails{ServiceName: "beta"},
	))

	h.probes.get("alpha@.").transition(models.StateStopped)
	h.probes.get("beta@.").transition(models.StateStopped)

	h.monitor.poll(context.Background())

	sent := h.notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alpha", sent[0].ServiceName)
	assert.Equal(t, models.StateRunning, sent[0].PreviousState)
	assert.Equal(t, models.StateStopped, sent[0].State)
	assert.Equal(t, "watch@example.com", sent[0].Descriptor.Email.From)
}

func TestStatusChangesArePublished(t *testing.T) {
	h := newHarness(t, testConfig(models.ServiceDetails{ServiceName: "alpha"}))

	h.monitor.poll(context.Background())

	h.probes.get("alpha@.").transition(models.StateStopPending)
	h.monitor.poll(context.Background())

	h.publisher.mu.Lock()
	defer h.publisher.mu.Unlock()

	require.Len(t, h.publisher.records, 2)
	assert.Equal(t, statusRecord{"alpha", models.StateError, models.StateRunning, "local"}, h.publisher.records[0])
	assert.Equal(t, statusRecord{"alpha", models.StateRunning, models.StateStopPending, "local"}, h.publisher.records[1])
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(
		models.ServiceDetails{ServiceName: "alpha"},
		models.ServiceDetails{ServiceName: "beta"},
	))

	next := testConfig(
		models.ServiceDetails{ServiceName: "beta", DisplayName: "Beta Service"},
		models.ServiceDetails{ServiceName: "gamma"},
	)

	require.NoError(t, h.monitor.Reconcile(ctx, next))

	reg := h.monitor.Registry()
	require.Equal(t, 2, reg.Len())

	_, ok := reg.Get(models.ServiceKey{ServiceName: "alpha", MachineName: "."})
	assert.False(t, ok)

	beta, ok := reg.Get(models.ServiceKey{ServiceName: "beta", MachineName: "."})
	require.True(t, ok)
	assert.Equal(t, "Beta Service", beta.Details().DisplayName)
	assert.Equal(t, "Beta Service", beta.Mediator().Descriptor().DisplayName)

	_, ok = reg.Get(models.ServiceKey{ServiceName: "gamma", MachineName: "."})
	assert.True(t, ok)
}

func TestReconcileSharedSettingsUpdateAll(t *testing.T) {
	h := newHarness(t, testConfig(models.ServiceDetails{ServiceName: "alpha"}))

	next := testConfig(models.ServiceDetails{ServiceName: "alpha"})
	next.Email.From = "other@example.com"

	require.NoError(t, h.monitor.Reconcile(context.Background(), next))

	e, ok := h.monitor.Registry().Get(models.ServiceKey{ServiceName: "alpha", MachineName: "."})
	require.True(t, ok)
	assert.Equal(t, "other@example.com", e.Mediator().Descriptor().Email.From)
}

func TestReconcileRejectsInvalidConfig(t *testing.T) {
	h := newHarness(t, testConfig(models.ServiceDetails{ServiceName: "alpha"}))

	err := h.monitor.Reconcile(context.Background(), testConfig(models.ServiceDetails{}))
	require.ErrorIs(t, err, models.ErrEmptyServiceName)
	assert.Equal(t, 1, h.monitor.Registry().Len())
}

func TestRunPollsOnTicks(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockClock := clock.NewMockClock(ctrl)
	mockTicker := clock.NewMockTicker(ctrl)
	reloaded := clock.NewMockTicker(ctrl)

	tickCh := make(chan time.Time)

	var tickRecv <-chan time.Time = tickCh

	var idle <-chan time.Time = make(chan time.Time)

	mockClock.EXPECT().Now().Return(time.Unix(1700000000, 0)).AnyTimes()
	mockClock.EXPECT().Ticker(5 * time.Second).Return(mockTicker)
	mockClock.EXPECT().Ticker(time.Minute).Return(reloaded)
	mockTicker.EXPECT().Chan().Return(tickRecv).AnyTimes()
	mockTicker.EXPECT().Stop()
	reloaded.EXPECT().Chan().Return(idle).AnyTimes()
	reloaded.EXPECT().Stop()

	h := newHarness(t, testConfig(models.ServiceDetails{ServiceName: "alpha"}), WithClock(mockClock))
	p := h.probes.get("alpha@.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- h.monitor.Run(ctx) }()

	require.Eventually(t, func() bool { return p.refreshCount() == 2 }, time.Second, time.Millisecond)

	tickCh <- time.Now()

	require.Eventually(t, func() bool { return p.refreshCount() == 3 }, time.Second, time.Millisecond)

	next := testConfig(models.ServiceDetails{ServiceName: "alpha"})
	next.PollInterval = models.Duration(time.Minute)
	require.NoError(t, h.monitor.Reconcile(context.Background(), next))

	require.Eventually(t, func() bool { return len(h.monitor.reloadCh) == 0 }, time.Second, time.Millisecond)

	require.NoError(t, h.monitor.Close(context.Background()))
	require.NoError(t, <-done)
}

func TestCloseDisposesEntities(t *testing.T) {
	h := newHarness(t, testConfig(models.ServiceDetails{ServiceName: "alpha"}))
	e := h.monitor.Registry().Items()[0]

	require.NoError(t, h.monitor.Close(context.Background()))

	assert.Equal(t, 0, h.monitor.Registry().Len())
	assert.ErrorIs(t, e.Refresh(context.Background()), mediator.ErrClosed)
}

func TestReconcileRetriesUnattachedService(t *testing.T) {
	probes := newProbeSet()
	probes.broken["ghost"] = true

	cfg := testConfig(models.ServiceDetails{ServiceName: "ghost"})

	m, err := New(context.Background(), cfg, logger.NewTestLogger(),
		WithProbeFactory(probes.factory), WithPool(unusedPool{}), WithAvailability(offline{}),
		WithNotifier(&recordingNotifier{}))
	require.NoError(t, err)

	defer func() { _ = m.Close(context.Background()) }()

	key := models.ServiceKey{ServiceName: "ghost", MachineName: "."}

	e, _ := m.Registry().Get(key)
	require.Nil(t, e.Mediator())

	probes.mu.Lock()
	delete(probes.broken, "ghost")
	probes.mu.Unlock()

	require.NoError(t, m.Reconcile(context.Background(), testConfig(models.ServiceDetails{ServiceName: "ghost"})))

	e, ok := m.Registry().Get(key)
	require.True(t, ok)
	assert.NotNil(t, e.Mediator())
}
