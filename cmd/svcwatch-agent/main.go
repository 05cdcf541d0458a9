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
	"flag"
	"fmt"
	"log"

	"github.com/carverauto/svcwatch/pkg/agent"
	"github.com/carverauto/svcwatch/pkg/config"
	"github.com/carverauto/svcwatch/pkg/lifecycle"
	"github.com/carverauto/svcwatch/pkg/notify"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/svcwatch/agent.json", "Path to agent config file")
	flag.Parse()

	ctx := context.Background()

	var cfg agent.ServerConfig

	if err := config.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	agentLogger, err := lifecycle.CreateComponentLogger("agent", cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	dispatcher := notify.NewDispatcher(agentLogger)
	defer dispatcher.Wait()

	server, err := agent.NewServer(&cfg, agentLogger, agent.WithNotifier(dispatcher))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return lifecycle.RunServer(ctx, &lifecycle.ServerOptions{
		ListenAddr:           server.ListenAddr(),
		ServiceName:          "MonitorService",
		Service:              server,
		EnableHealthCheck:    true,
		RegisterGRPCServices: []lifecycle.GRPCServiceRegistrar{server.RegisterServices},
		Security:             server.SecurityConfig(),
		Logger:               agentLogger,
	})
}
