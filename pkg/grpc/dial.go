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

package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/carverauto/svcwatch/pkg/logger"
)

var errAddressRequired = errors.New("address is required")

// ClientConfig describes how to dial a monitoring agent.
type ClientConfig struct {
	Address           string
	SecurityProvider  SecurityProvider
	Logger            logger.Logger
	DisableTelemetry  bool
	KeepaliveInterval time.Duration
}

// NewClientConn creates a lazily connecting ClientConn to cfg.Address with
// the JSON codec as the default content-subtype.
func NewClientConn(ctx context.Context, cfg ClientConfig) (*grpc.ClientConn, error) {
	if cfg.Address == "" {
		return nil, errAddressRequired
	}

	provider := cfg.SecurityProvider
	if provider == nil {
		provider = &NoSecurityProvider{}
	}

	creds, err := provider.GetClientCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get client credentials: %w", err)
	}

	interval := cfg.KeepaliveInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}

	opts := []grpc.DialOption{
		creds,
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                interval,
			Timeout:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	if !cfg.DisableTelemetry {
		opts = append(opts, grpc.WithStatsHandler(otelgrpc.NewClientHandler()))
	}

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", cfg.Address, err)
	}

	if cfg.Logger != nil {
		cfg.Logger.Debug().Str("address", cfg.Address).Msg("Created agent client")
	}

	return conn, nil
}
