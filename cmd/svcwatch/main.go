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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/carverauto/svcwatch/pkg/config"
	"github.com/carverauto/svcwatch/pkg/dashboard"
	"github.com/carverauto/svcwatch/pkg/lifecycle"
	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/monitor"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/svcwatch/svcwatch.json", "Path to monitor config file")
	tui := flag.Bool("tui", false, "Show the terminal dashboard")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg monitor.Config

	if err := config.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	if *tui {
		// keep log lines off the dashboard screen
		cfg.Logging.Output = logger.OutputFile
	}

	monitorLogger, err := lifecycle.CreateComponentLogger("monitor", cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	m, err := monitor.New(ctx, &cfg, monitorLogger)
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}

	defer func() {
		if err := m.Close(context.Background()); err != nil {
			monitorLogger.Error().Err(err).Msg("Error closing monitor")
		}
	}()

	watcher := config.NewWatcher[monitor.Config](*configPath, monitorLogger)
	watcher.OnChange(func(next *monitor.Config) {
		if err := m.Reconcile(ctx, next); err != nil {
			monitorLogger.Error().Err(err).Msg("Failed to apply config change")
		}
	})

	go func() {
		if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitorLogger.Error().Err(err).Msg("Config watcher stopped")
		}
	}()

	if !*tui {
		if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitorLogger.Error().Err(err).Msg("Monitor stopped")
		}
	}()

	return dashboard.Run(ctx, m.Registry(), monitorLogger)
}
