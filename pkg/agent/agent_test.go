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

package agent

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/carverauto/svcwatch/pkg/client"
	"github.com/carverauto/svcwatch/pkg/clock"
	ggrpc "github.com/carverauto/svcwatch/pkg/grpc"
	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
	"github.com/carverauto/svcwatch/pkg/probe"
)

type fakeProbe struct {
	mu        sync.Mutex
	name      string
	state     models.ServiceState
	missing   bool
	stopCalls int
}

func (f *fakeProbe) Name() string { return f.name }

func (f *fakeProbe) Status() models.ServiceState {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

func (f *fakeProbe) DisplayName() string { return "Fake " + f.name }
func (*fakeProbe) CanStop() bool         { return true }

func (f *fakeProbe) IsInstalled(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return !f.missing, nil
}

func (f *fakeProbe) Start(context.Context) error {
	f.set(models.StateRunning)

	return nil
}

func (f *fakeProbe) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopCalls++
	f.state = models.StateStopped

	return nil
}

func (f *fakeProbe) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.missing {
		return fmt.Errorf("%w: %s", probe.ErrNotInstalled, f.name)
	}

	return nil
}

func (f *fakeProbe) WaitForStatus(_ context.Context, target models.ServiceState, _ time.Duration) error {
	if f.Status() != target {
		return probe.ErrTimeout
	}

	return nil
}

func (f *fakeProbe) set(state models.ServiceState) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = state
}

// gatedController blocks the first Query issued after arm until the
// returned release channel is closed. That Query reports Running.
type gatedController struct {
	mu      sync.Mutex
	state   models.ServiceState
	gate    chan struct{}
	entered chan struct{}
}

func (c *gatedController) arm() (release, entered chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gate = make(chan struct{})
	c.entered = make(chan struct{})

	return c.gate, c.entered
}

func (c *gatedController) Query(context.Context) (probe.Info, error) {
	c.mu.Lock()
	gate, entered := c.gate, c.entered
	c.gate, c.entered = nil, nil
	state := c.state
	c.mu.Unlock()

	if gate != nil {
		close(entered)
		<-gate

		state = models.StateRunning
	}

	return probe.Info{State: state, CanStop: true, Installed: true}, nil
}

func (c *gatedController) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = models.StateRunning

	return nil
}

func (c *gatedController) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = models.StateStopped

	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	objs []models.TrackingObject
	ch   chan struct{}
}

func (r *recordingNotifier) Dispatch(_ context.Context, obj *models.TrackingObject) error {
	r.mu.Lock()
	r.objs = append(r.objs, *obj)
	r.mu.Unlock()

	if r.ch != nil {
		r.ch <- struct{}{}
	}

	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.objs)
}

type harness struct {
	server   *Server
	svc      ggrpc.MonitorService
	probes   map[string]*fakeProbe
	notifier *recordingNotifier
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		probes:   map[string]*fakeProbe{"spooler": {name: "spooler", state: models.StateRunning}},
		notifier: &recordingNotifier{},
	}

	factory := func(name string) (probe.Probe, error) {
		if p, ok := h.probes[name]; ok {
			return p, nil
		}

		return &fakeProbe{name: name, missing: true}, nil
	}

	opts = append([]Option{WithProbeFactory(factory), WithNotifier(h.notifier)}, opts...)

	s, err := NewServer(&ServerConfig{}, logger.NewTestLogger(), opts...)
	require.NoError(t, err)

	h.server = s
	h.svc = s.MonitorService()

	return h
}

func spooler() *models.SubscriptionDescriptor {
	return &models.SubscriptionDescriptor{
		ServiceName:            "spooler",
		MachineName:            "server1",
		NotifyOnUnexpectedStop: true,
		Authority:              "console-a",
	}
}

func TestServerConfigDefaults(t *testing.T) {
	cfg := &ServerConfig{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, defaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, models.Duration(defaultPollInterval), cfg.PollInterval)
	assert.Equal(t, defaultMaxQueued, cfg.MaxQueued)
	assert.NotNil(t, cfg.Logging)

	require.ErrorIs(t, (&ServerConfig{PollInterval: -1}).Validate(), errInvalidPollInterval)
}

func TestUnexpectedStopIsQueuedAndNotified(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.svc.Subscribe(ctx, spooler()))

	entry := h.server.entriesFor("spooler")[0]

	h.server.poll(ctx, entry)
	assert.Zero(t, h.notifier.count())

	h.probes["spooler"].set(models.StateStopped)
	h.server.poll(ctx, entry)
	h.server.poll(ctx, entry)

	assert.Equal(t, 1, h.notifier.count())
	assert.Len(t, entry.FailDates(), 1)
	assert.True(t, entry.IsStopped())

	result, err := h.svc.GetStatus(ctx, "spooler")
	require.NoError(t, err)
	assert.Equal(t, models.StateStopped, result.State)
	require.Len(t, result.Exceptions, 1)
	assert.Equal(t, exceptionUnexpectedStop, result.Exceptions[0].Kind)

	result, err = h.svc.GetStatus(ctx, "spooler")
	require.NoError(t, err)
	assert.Empty(t, result.Exceptions, "exceptions are drained by GetStatus")
}

func TestNotifyFlagRespected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	desc := spooler()
	desc.NotifyOnUnexpectedStop = false
	require.NoError(t, h.svc.Subscribe(ctx, desc))

	entry := h.server.entriesFor("spooler")[0]

	h.probes["spooler"].set(models.StateStopped)
	h.server.poll(ctx, entry)

	assert.Zero(t, h.notifier.count())
	assert.Len(t, entry.FailDates(), 1)
}

func TestDeliberateStopIsNotAFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.svc.Subscribe(ctx, spooler()))
	require.NoError(t, h.svc.Stop(ctx, spooler()))

	entry := h.server.entriesFor("spooler")[0]
	h.server.poll(ctx, entry)

	assert.Zero(t, h.notifier.count())
	assert.Empty(t, entry.FailDates())
	assert.Equal(t, 1, h.probes["spooler"].stopCalls)

	require.NoError(t, h.svc.Start(ctx, spooler()))
	h.server.poll(ctx, entry)
	assert.Zero(t, h.notifier.count())
}

func TestSlowPollOverlappingStopIsDiscarded(t *testing.T) {
	ctx := context.Background()
	ctrl := &gatedController{state: models.StateRunning}

	h := newHarness(t, WithProbeFactory(func(name string) (probe.Probe, error) {
		return probe.NewWithController(name, ctrl, probe.WithPollInterval(time.Millisecond)), nil
	}))

	require.NoError(t, h.svc.Subscribe(ctx, spooler()))

	entry := h.server.entriesFor("spooler")[0]

	release, entered := ctrl.arm()
	done := make(chan struct{})

	go func() {
		defer close(done)

		h.server.poll(ctx, entry)
	}()

	<-entered
	require.NoError(t, h.svc.Stop(ctx, spooler()))

	close(release)
	<-done

	h.server.poll(ctx, entry)
	h.server.poll(ctx, entry)

	assert.Zero(t, h.notifier.count())
	assert.Empty(t, entry.FailDates())
	assert.True(t, entry.IsStopped())
}

func TestSubscribeNotInstalled(t *testing.T) {
	h := newHarness(t)

	err := h.svc.Subscribe(context.Background(), &models.SubscriptionDescriptor{ServiceName: "ghost"})
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Empty(t, h.server.descriptors())
}

func TestSubscribeValidates(t *testing.T) {
	h := newHarness(t)

	err := h.svc.Subscribe(context.Background(), &models.SubscriptionDescriptor{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = h.svc.Stop(context.Background(), nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.probes["w3svc"] = &fakeProbe{name: "w3svc", state: models.StateRunning}

	require.NoError(t, h.svc.Subscribe(ctx, spooler()))
	require.NoError(t, h.svc.Subscribe(ctx, spooler()), "subscribe is idempotent")

	web := &models.SubscriptionDescriptor{ServiceName: "w3svc", MachineName: "server1"}
	require.NoError(t, h.svc.Subscribe(ctx, web))

	services, err := h.svc.GetServices(ctx)
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.Equal(t, "spooler", services[0].ServiceName)
	assert.Equal(t, "w3svc", services[1].ServiceName)

	renamed := spooler()
	renamed.DisplayName = "Print Spooler"
	require.NoError(t, h.svc.UpdateSubscription(ctx, spooler(), renamed))

	services, _ = h.svc.GetServices(ctx)
	require.Len(t, services, 2)
	assert.Equal(t, "Print Spooler", services[0].DisplayName)

	moved := spooler()
	moved.Authority = "console-b"
	require.NoError(t, h.svc.UpdateSubscription(ctx, spooler(), moved))

	services, _ = h.svc.GetServices(ctx)
	require.Len(t, services, 2)
	assert.Equal(t, "w3svc", services[0].ServiceName)
	assert.Equal(t, "console-b", services[1].Authority)

	require.NoError(t, h.svc.Unsubscribe(ctx, web))
	require.NoError(t, h.svc.Unsubscribe(ctx, web))

	services, _ = h.svc.GetServices(ctx)
	assert.Len(t, services, 1)
}

func TestRefreshAndWait(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	state, err := h.svc.Refresh(ctx, spooler())
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, state)

	require.NoError(t, h.svc.WaitForStatus(ctx, spooler(), models.StateRunning))

	err = h.svc.WaitForStatus(ctx, spooler(), models.StatePaused)
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

func TestPollLoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockClock := clock.NewMockClock(ctrl)
	ticker := clock.NewMockTicker(ctrl)
	ticks := make(chan time.Time)

	mockClock.EXPECT().Ticker(defaultPollInterval).Return(ticker)
	mockClock.EXPECT().Now().Return(time.Unix(1700000000, 0)).AnyTimes()
	ticker.EXPECT().Chan().Return((<-chan time.Time)(ticks)).AnyTimes()
	ticker.EXPECT().Stop()

	h := newHarness(t, WithClock(mockClock))
	h.notifier.ch = make(chan struct{}, 1)

	ctx := context.Background()

	require.NoError(t, h.server.Start(ctx))
	require.NoError(t, h.svc.Subscribe(ctx, spooler()))

	h.probes["spooler"].set(models.StateStopped)
	ticks <- time.Now()

	select {
	case <-h.notifier.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no notification after tick")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	require.NoError(t, h.server.Stop(stopCtx))
	assert.Empty(t, h.server.descriptors())
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("%w: x", probe.ErrNotInstalled), codes.NotFound},
		{fmt.Errorf("%w: x", probe.ErrTimeout), codes.DeadlineExceeded},
		{fmt.Errorf("%w: x", probe.ErrProbe), codes.FailedPrecondition},
		{models.ErrEmptyServiceName, codes.InvalidArgument},
		{context.Canceled, codes.Canceled},
		{status.Error(codes.Aborted, "x"), codes.Aborted},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.code, status.Code(toStatus(tt.err)), tt.err.Error())

		_, fault := client.ClassifyFault(toStatus(tt.err))
		if tt.code != codes.Canceled {
			assert.False(t, fault, "%v must not look like a transport fault", tt.err)
		}
	}

	assert.NoError(t, toStatus(nil))
}

func TestMonitorServiceOverGRPC(t *testing.T) {
	h := newHarness(t)

	lis := bufconn.Listen(1 << 20)
	srv := ggrpc.NewServer("bufnet", logger.NewTestLogger(), ggrpc.WithListener(lis), ggrpc.WithTelemetryDisabled())
	require.NoError(t, h.server.RegisterServices(srv.GetGRPCServer()))

	go func() {
		_ = srv.Start()
	}()

	t.Cleanup(func() { srv.Stop(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	remote := ggrpc.NewMonitorServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, remote.Subscribe(ctx, spooler()))

	result, err := remote.GetStatus(ctx, "spooler")
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, result.State)

	_, err = remote.GetStatus(ctx, "ghost")
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.False(t, client.IsFault(err))
}
