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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/status"

	ggrpc "github.com/carverauto/svcwatch/pkg/grpc"
	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
)

var errBoom = errors.New("boom")

type fakeTransport struct {
	mu      sync.Mutex
	state   State
	openErr error
	closes  int
	aborts  int
}

func (f *fakeTransport) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

func (f *fakeTransport) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.openErr != nil {
		f.state = StateFaulted

		return f.openErr
	}

	f.state = StateOpened

	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closes++
	f.state = StateClosed

	return nil
}

func (f *fakeTransport) Abort() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.aborts++
	f.state = StateClosed

	return nil
}

func newTestConnection(t *testing.T, tr Transport) (*Connection, *ggrpc.MockMonitorService) {
	t.Helper()

	ctrl := gomock.NewController(t)
	svc := ggrpc.NewMockMonitorService(ctrl)

	return NewConnection("Host1", tr, svc, logger.NewTestLogger()), svc
}

func countingBuilder(built *atomic.Int32) Builder {
	return func(machine string) *Connection {
		built.Add(1)

		return NewConnection(machine, &fakeTransport{}, nil, logger.NewTestLogger())
	}
}

func TestPoolGetClient(t *testing.T) {
	var built atomic.Int32

	pool := NewPool(countingBuilder(&built), logger.NewTestLogger())

	a := pool.GetClient("host-a")
	b := pool.GetClient("host-b")

	assert.NotSame(t, a, b)
	assert.Same(t, a, pool.GetClient("host-a"))
	assert.Same(t, a, pool.GetClient("HOST-A"), "keys are case-insensitive")
	assert.Equal(t, 2, pool.Len())
	assert.Equal(t, int32(2), built.Load())
}

func TestPoolGetClientConcurrent(t *testing.T) {
	var built atomic.Int32

	pool := NewPool(countingBuilder(&built), logger.NewTestLogger())

	const workers = 32

	results := make([]*Connection, workers)

	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			results[i] = pool.GetClient("shared")
		}(i)
	}

	wg.Wait()

	for _, c := range results {
		assert.Same(t, results[0], c)
	}

	assert.Equal(t, 1, pool.Len())
}

func TestPoolRefreshClient(t *testing.T) {
	transports := []*fakeTransport{}

	pool := NewPool(func(machine string) *Connection {
		tr := &fakeTransport{state: StateOpened}
		transports = append(transports, tr)

		return NewConnection(machine, tr, nil, logger.NewTestLogger())
	}, logger.NewTestLogger())

	first := pool.GetClient("host")
	second := pool.RefreshClient("host")

	assert.NotSame(t, first, second)
	assert.Same(t, second, pool.GetClient("host"))
	assert.Equal(t, 1, transports[0].closes, "evicted connection is closed")
	assert.Equal(t, 0, transports[1].closes)

	third := pool.RefreshClient("never-seen")
	assert.NotNil(t, third)
	assert.Equal(t, 2, pool.Len())
}

func TestPoolClose(t *testing.T) {
	var built atomic.Int32

	pool := NewPool(countingBuilder(&built), logger.NewTestLogger())
	pool.GetClient("a")
	pool.GetClient("b")

	require.NoError(t, pool.Close())
	assert.Equal(t, 0, pool.Len())
}

func TestConnectionOpen(t *testing.T) {
	tr := &fakeTransport{}
	conn, _ := newTestConnection(t, tr)

	conn.Open(context.Background())
	assert.True(t, conn.IsAvailable())

	failing := &fakeTransport{openErr: NewFault(EndpointNotFound, errBoom)}
	conn, _ = newTestConnection(t, failing)

	conn.Open(context.Background())
	assert.False(t, conn.IsAvailable())
	assert.Equal(t, StateFaulted, conn.State())
}

func TestConnectionIdentity(t *testing.T) {
	conn, _ := newTestConnection(t, &fakeTransport{})
	assert.Equal(t, "host1", conn.Machine())
	assert.False(t, conn.IsLocal())

	local := NewConnection(".", &fakeTransport{}, nil, logger.NewTestLogger())
	assert.True(t, local.IsLocal())
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	desc := &models.SubscriptionDescriptor{ServiceName: "svc", MachineName: "host1"}

	t.Run("action succeeds", func(t *testing.T) {
		conn, svc := newTestConnection(t, &fakeTransport{state: StateOpened})
		svc.EXPECT().Stop(gomock.Any(), desc).Return(nil)

		fallbackRan := false

		ok := conn.Execute(ctx, func(ctx context.Context, s ggrpc.MonitorService) error {
			return s.Stop(ctx, desc)
		}, func() error {
			fallbackRan = true

			return nil
		})

		assert.True(t, ok)
		assert.False(t, fallbackRan)
	})

	t.Run("action fails runs fallback", func(t *testing.T) {
		conn, svc := newTestConnection(t, &fakeTransport{state: StateOpened})
		svc.EXPECT().Stop(gomock.Any(), desc).Return(status.Error(codes.Unavailable, "down"))

		fallbackRan := false

		ok := conn.Execute(ctx, func(ctx context.Context, s ggrpc.MonitorService) error {
			return s.Stop(ctx, desc)
		}, func() error {
			fallbackRan = true

			return nil
		})

		assert.False(t, ok)
		assert.True(t, fallbackRan)
	})

	t.Run("action and fallback fail", func(t *testing.T) {
		conn, _ := newTestConnection(t, &fakeTransport{state: StateOpened})

		assert.NotPanics(t, func() {
			ok := conn.Execute(ctx, func(context.Context, ggrpc.MonitorService) error {
				panic("remote exploded")
			}, func() error {
				return errBoom
			}, nil, func() error {
				panic("fallback exploded")
			})
			assert.False(t, ok)
		})
	})
}

func TestCall(t *testing.T) {
	ctx := context.Background()
	desc := &models.SubscriptionDescriptor{ServiceName: "svc"}

	conn, svc := newTestConnection(t, &fakeTransport{state: StateOpened})
	svc.EXPECT().Refresh(gomock.Any(), desc).Return(models.StateRunning, nil)

	state, ok := Call(ctx, conn, func(ctx context.Context, s ggrpc.MonitorService) (models.ServiceState, error) {
		return s.Refresh(ctx, desc)
	})
	assert.True(t, ok)
	assert.Equal(t, models.StateRunning, state)

	svc.EXPECT().Refresh(gomock.Any(), desc).Return(models.StateError, status.Error(codes.Internal, "bad"))

	state, ok = Call(ctx, conn, func(ctx context.Context, s ggrpc.MonitorService) (models.ServiceState, error) {
		return s.Refresh(ctx, desc)
	}, func() (models.ServiceState, error) {
		return models.StateStopped, nil
	})
	assert.False(t, ok)
	assert.Equal(t, models.StateStopped, state)
}

func TestConnectionClose(t *testing.T) {
	faulted := &fakeTransport{state: StateFaulted}
	conn, _ := newTestConnection(t, faulted)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Equal(t, 1, faulted.aborts)
	assert.Equal(t, 0, faulted.closes)

	open := &fakeTransport{state: StateOpened}
	conn, _ = newTestConnection(t, open)

	require.NoError(t, conn.Close())
	assert.Equal(t, 1, open.closes)
	assert.Equal(t, 0, open.aborts)
}

func TestClassifyFault(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind FaultKind
		ok   bool
	}{
		{"nil", nil, 0, false},
		{"plain", errBoom, 0, false},
		{"wrapped fault", fmt.Errorf("call: %w", NewFault(ProtocolError, errBoom)), ProtocolError, true},
		{"unavailable", status.Error(codes.Unavailable, "x"), EndpointNotFound, true},
		{"internal", status.Error(codes.Internal, "x"), ProtocolError, true},
		{"unimplemented", status.Error(codes.Unimplemented, "x"), ProtocolError, true},
		{"canceled by peer", status.Error(codes.Canceled, "x"), ChannelFaulted, true},
		{"caller canceled", context.Canceled, 0, false},
		{"not found", status.Error(codes.NotFound, "x"), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := ClassifyFault(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.ok, IsFault(tt.err))
		})
	}

	assert.ErrorIs(t, NewFault(ChannelFaulted, errBoom), ErrTransportFault)
	assert.ErrorIs(t, NewFault(ChannelFaulted, errBoom), errBoom)
}

func TestAgentAddress(t *testing.T) {
	assert.Equal(t, "localhost:50071", AgentAddress(".", 0))
	assert.Equal(t, "host1:9000", AgentAddress("HOST1", 9000))
}

func TestUnreachableService(t *testing.T) {
	svc := unreachableService{err: errBoom}

	_, err := svc.GetStatus(context.Background(), "svc")
	kind, ok := ClassifyFault(err)
	assert.True(t, ok)
	assert.Equal(t, EndpointNotFound, kind)
}

func TestStateFromConnectivity(t *testing.T) {
	assert.Equal(t, StateClosed, stateFromConnectivity(connectivity.Idle))
	assert.Equal(t, StateOpening, stateFromConnectivity(connectivity.Connecting))
	assert.Equal(t, StateOpened, stateFromConnectivity(connectivity.Ready))
	assert.Equal(t, StateFaulted, stateFromConnectivity(connectivity.TransientFailure))
	assert.Equal(t, StateClosed, stateFromConnectivity(connectivity.Shutdown))
}
