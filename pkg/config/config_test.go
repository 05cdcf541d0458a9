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

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
)

var errNoName = errors.New("name required")

type testConfig struct {
	Name     string          `json:"name"`
	Interval models.Duration `json:"interval"`
}

func (c *testConfig) Validate() error {
	if c.Name == "" {
		return errNoName
	}

	if c.Interval == 0 {
		c.Interval = models.Duration(3 * time.Second)
	}

	return nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")

	writeFile(t, path, `{"name":"svcwatch"}`)

	var cfg testConfig
	require.NoError(t, LoadAndValidate(context.Background(), path, &cfg))
	assert.Equal(t, "svcwatch", cfg.Name)
	assert.Equal(t, models.Duration(3*time.Second), cfg.Interval)

	writeFile(t, path, `{"name":"svcwatch","interval":"10s"}`)
	require.NoError(t, LoadAndValidate(context.Background(), path, &cfg))
	assert.Equal(t, models.Duration(10*time.Second), cfg.Interval)

	writeFile(t, path, `{"interval":5000000000}`)
	require.ErrorIs(t, LoadAndValidate(context.Background(), path, &testConfig{}), errNoName)

	writeFile(t, path, `{"name":"a","bogus":true}`)
	require.Error(t, LoadAndValidate(context.Background(), path, &testConfig{}))

	writeFile(t, path, `{"name":"a"}{"name":"b"}`)
	require.ErrorIs(t, LoadAndValidate(context.Background(), path, &testConfig{}), errTrailingData)

	require.ErrorIs(t, LoadFile(context.Background(), path, testConfig{}), errInvalidConfigPtr)
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	writeFile(t, path, `{"name":"one"}`)

	w := NewWatcher[testConfig](path, logger.NewTestLogger())

	var got []string

	w.OnChange(func(c *testConfig) { got = append(got, c.Name) })

	ctx := context.Background()

	assert.False(t, w.Reload(ctx), "initial content is not republished")

	writeFile(t, path, `{"name":"two"}`)
	assert.True(t, w.Reload(ctx))
	assert.False(t, w.Reload(ctx), "same content twice")

	writeFile(t, path, `{"name":""}`)
	assert.False(t, w.Reload(ctx), "invalid config rejected")

	writeFile(t, path, `not json`)
	assert.False(t, w.Reload(ctx))

	assert.Equal(t, []string{"two"}, got)
}

func TestWatcherWatchPicksUpWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	writeFile(t, path, `{"name":"one"}`)

	w := NewWatcher[testConfig](path, logger.NewTestLogger())
	w.debounce = 10 * time.Millisecond

	var (
		mu   sync.Mutex
		last string
	)

	w.OnChange(func(c *testConfig) {
		mu.Lock()
		last = c.Name
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})

	go func() {
		_ = w.Watch(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, `{"name":"two"}`)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return last == "two"
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}

func TestRestartBackOffGrowsAndResets(t *testing.T) {
	bo := newRestartBackOff()

	first := bo.NextBackOff()
	assert.InDelta(t, float64(restartBackoffBase), float64(first), float64(restartBackoffBase)*0.2)

	var last time.Duration
	for range 10 {
		last = bo.NextBackOff()
	}

	assert.LessOrEqual(t, last, restartBackoffLimit+restartBackoffLimit/5)
	assert.GreaterOrEqual(t, last, restartBackoffLimit-restartBackoffLimit/5)

	bo.Reset()

	next := bo.NextBackOff()
	assert.InDelta(t, float64(restartBackoffBase), float64(next), float64(restartBackoffBase)*0.2)
}
