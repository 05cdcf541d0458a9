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
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fsnotify/fsnotify"

	"github.com/carverauto/svcwatch/pkg/logger"
)

const (
	defaultDebounce     = 250 * time.Millisecond
	restartBackoffBase  = 250 * time.Millisecond
	restartBackoffLimit = 5 * time.Second
)

// Watcher reloads a JSON config file when it changes on disk and hands every
// distinct, valid version to the subscribers.
type Watcher[T any] struct {
	path     string
	logger   logger.Logger
	debounce time.Duration

	mu       sync.Mutex
	lastHash [sha256.Size]byte
	subs     []func(*T)
}

// NewWatcher creates a watcher for path. The initial content is not published.
func NewWatcher[T any](path string, log logger.Logger) *Watcher[T] {
	w := &Watcher[T]{path: path, logger: log, debounce: defaultDebounce}

	if data, err := os.ReadFile(path); err == nil {
		w.lastHash = sha256.Sum256(data)
	}

	return w
}

// OnChange registers fn for every accepted reload.
func (w *Watcher[T]) OnChange(fn func(*T)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.subs = append(w.subs, fn)
}

// Reload reads the file and publishes it when the content changed and validates.
// It reports whether a new config was published.
func (w *Watcher[T]) Reload(ctx context.Context) bool {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Config read failed")

		return false
	}

	hash := sha256.Sum256(data)

	w.mu.Lock()
	unchanged := bytes.Equal(hash[:], w.lastHash[:])
	w.mu.Unlock()

	if unchanged {
		w.logger.Debug().Str("path", w.path).Msg("Config unchanged, skipping publish")

		return false
	}

	cfg := new(T)
	if err := Decode(data, cfg); err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Config parse failed")

		return false
	}

	if err := ValidateConfig(cfg); err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Config rejected")

		return false
	}

	if ctx.Err() != nil {
		return false
	}

	w.mu.Lock()
	w.lastHash = hash
	subs := append([]func(*T){}, w.subs...)
	w.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}

	w.logger.Info().Str("path", w.path).Msg("Config reloaded")

	return true
}

func newRestartBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = restartBackoffBase
	bo.MaxInterval = restartBackoffLimit
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2

	return bo
}

// Watch blocks until ctx ends. The fsnotify watcher is recreated with backoff
// when it breaks.
func (w *Watcher[T]) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)
	bo := newRestartBackOff()

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)

	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()

		if timer != nil {
			timer.Stop()
		}

		timer = time.AfterFunc(w.debounce, func() { w.Reload(ctx) })
	}

	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		err := w.watchOnce(ctx, dir, file, schedule)
		if ctx.Err() != nil {
			return nil
		}

		if err == nil {
			bo.Reset()
		}

		delay := bo.NextBackOff()
		w.logger.Warn().Err(err).Str("dir", dir).Dur("backoff", delay).Msg("Config watcher stopped, restarting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (w *Watcher[T]) watchOnce(ctx context.Context, dir, file string, schedule func()) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	defer func() { _ = fw.Close() }()

	if err := fw.Add(dir); err != nil {
		return err
	}

	w.logger.Debug().Str("dir", dir).Str("file", file).Msg("Config watcher started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return fsnotify.ErrClosed
			}

			if strings.EqualFold(filepath.Base(ev.Name), file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return fsnotify.ErrClosed
			}

			if err == fsnotify.ErrEventOverflow {
				schedule()

				continue
			}

			w.logger.Warn().Err(err).Str("dir", dir).Msg("Config watch error")
		}
	}
}
