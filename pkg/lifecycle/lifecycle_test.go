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

package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/carverauto/svcwatch/pkg/logger"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockService) Stop(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestRunServerStopsOnCancel(t *testing.T) {
	svc := &mockService{}
	svc.On("Start", mock.Anything).Return(nil)
	svc.On("Stop", mock.Anything).Return(nil)

	registered := false
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- RunServer(ctx, &ServerOptions{
			ServiceName:       "test",
			Service:           svc,
			EnableHealthCheck: true,
			Listener:          bufconn.Listen(1 << 16),
			Logger:            logger.NewTestLogger(),
			RegisterGRPCServices: []GRPCServiceRegistrar{
				func(*grpc.Server) error {
					registered = true
					return nil
				},
			},
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunServer did not return after cancel")
	}

	assert.True(t, registered)
	svc.AssertExpectations(t)
}

func TestRunServerStartFailure(t *testing.T) {
	svc := &mockService{}
	svc.On("Start", mock.Anything).Return(errors.New("no probes"))

	err := RunServer(context.Background(), &ServerOptions{
		ServiceName: "test",
		Service:     svc,
		Listener:    bufconn.Listen(1 << 16),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no probes")
	svc.AssertNotCalled(t, "Stop", mock.Anything)
}

func TestRunServerRequiresService(t *testing.T) {
	require.ErrorIs(t, RunServer(context.Background(), &ServerOptions{}), errServiceRequired)
}

func TestCreateComponentLogger(t *testing.T) {
	log, err := CreateComponentLogger("watchdog", &logger.Config{Level: "debug"})
	require.NoError(t, err)
	assert.NotNil(t, log)

	_, err = CreateComponentLogger("watchdog", &logger.Config{Level: "shouting"})
	require.Error(t, err)
}
