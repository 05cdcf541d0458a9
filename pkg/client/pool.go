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
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
)

// Builder creates the connection for a machine.
type Builder func(machine string) *Connection

// Pool caches one Connection per machine. Keys are case-insensitive.
type Pool struct {
	builder Builder
	logger  logger.Logger

	mu    sync.Mutex
	conns map[string]*Connection
	group singleflight.Group
}

// NewPool creates an empty pool.
func NewPool(builder Builder, log logger.Logger) *Pool {
	return &Pool{
		builder: builder,
		logger:  log,
		conns:   make(map[string]*Connection),
	}
}

func poolKey(machine string) string {
	return models.NormalizeMachine(machine)
}

func (p *Pool) lookup(key string) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conns[key]
}

// GetClient returns the cached connection for machine, creating it on first
// access. Concurrent first accesses for one machine build a single connection.
func (p *Pool) GetClient(machine string) *Connection {
	key := poolKey(machine)

	if c := p.lookup(key); c != nil {
		return c
	}

	v, _, _ := p.group.Do(key, func() (interface{}, error) {
		if c := p.lookup(key); c != nil {
			return c, nil
		}

		built := p.builder(machine)

		p.mu.Lock()
		if existing, ok := p.conns[key]; ok {
			p.mu.Unlock()

			_ = built.Close()

			return existing, nil
		}

		p.conns[key] = built
		p.mu.Unlock()

		p.logger.Debug().Str("machine_name", key).Msg("Created agent connection")

		return built, nil
	})

	return v.(*Connection)
}

// RefreshClient evicts and closes the cached connection for machine and
// returns a newly built one.
func (p *Pool) RefreshClient(machine string) *Connection {
	key := poolKey(machine)
	fresh := p.builder(machine)

	p.mu.Lock()
	old := p.conns[key]
	p.conns[key] = fresh
	p.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			p.logger.Warn().Err(err).Str("machine_name", key).Msg("Failed to close evicted connection")
		}
	}

	p.logger.Info().Str("machine_name", key).Msg("Refreshed agent connection")

	return fresh
}

// Len returns the number of cached connections.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.conns)
}

// Close closes every cached connection and empties the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*Connection)
	p.mu.Unlock()

	var firstErr error

	for _, c := range conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
