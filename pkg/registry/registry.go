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

package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/svcwatch/pkg/events"
	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/mediator"
	"github.com/carverauto/svcwatch/pkg/models"
)

// ErrDuplicate is returned when adding a service that is already registered.
var ErrDuplicate = errors.New("service already registered")

const defaultRefreshConcurrency = 8

// ChangeKind describes a registry change.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeRemoved
	ChangeStatus
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	case ChangeStatus:
		return "status"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change is published on every add, remove and status change.
type Change struct {
	Kind   ChangeKind
	Entity *Entity
	Status *mediator.StatusChange
}

type entry struct {
	entity *Entity
	relay  func()
}

// Registry is the ordered collection of monitored services.
type Registry struct {
	logging logger.Config
	logger  logger.Logger

	mu      sync.RWMutex
	entries []entry

	Changes events.Feed[Change]
}

// New creates an empty registry sharing the given logging configuration.
func New(logging logger.Config, log logger.Logger) *Registry {
	return &Registry{logging: logging, logger: log}
}

func (r *Registry) Logging() logger.Config {
	return r.logging
}

func (r *Registry) indexOf(key models.ServiceKey) int {
	for i, e := range r.entries {
		if e.entity.Key() == key {
			return i
		}
	}

	return -1
}

// Add appends e to the registry.
func (r *Registry) Add(e *Entity) error {
	key := e.Key()

	r.mu.Lock()
	if r.indexOf(key) >= 0 {
		r.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}

	relay := e.StatusChanges.Subscribe(func(c mediator.StatusChange) {
		r.Changes.Publish(Change{Kind: ChangeStatus, Entity: e, Status: &c})
	})
	r.entries = append(r.entries, entry{entity: e, relay: relay})
	r.mu.Unlock()

	r.logger.Debug().Str("service", key.String()).Msg("Service added")
	r.Changes.Publish(Change{Kind: ChangeAdded, Entity: e})

	return nil
}

// Remove takes the entity out of the registry without closing it.
func (r *Registry) Remove(key models.ServiceKey) (*Entity, bool) {
	r.mu.Lock()

	i := r.indexOf(key)
	if i < 0 {
		r.mu.Unlock()

		return nil, false
	}

	removed := r.entries[i]
	r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
	r.mu.Unlock()

	removed.relay()

	r.logger.Debug().Str("service", key.String()).Msg("Service removed")
	r.Changes.Publish(Change{Kind: ChangeRemoved, Entity: removed.entity})

	return removed.entity, true
}

func (r *Registry) Get(key models.ServiceKey) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexOf(key); i >= 0 {
		return r.entries[i].entity, true
	}

	return nil, false
}

// Items returns the entities in insertion order.
func (r *Registry) Items() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]*Entity, len(r.entries))
	for i, e := range r.entries {
		items[i] = e.entity
	}

	return items
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Equal compares the registries item by item (by service details) and
// their logging configuration.
func (r *Registry) Equal(other *Registry) bool {
	if r == nil || other == nil {
		return r == other
	}

	if !r.logging.Equal(&other.logging) {
		return false
	}

	a, b := r.Items(), other.Items()
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if !reflect.DeepEqual(a[i].Details(), b[i].Details()) {
			return false
		}
	}

	return true
}

// RefreshAll refreshes every attached entity concurrently. Each failure is
// logged; the joined failures are returned.
func (r *Registry) RefreshAll(ctx context.Context) error {
	items := r.Items()

	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultRefreshConcurrency)

	for _, e := range items {
		if e.Mediator() == nil {
			continue
		}

		g.Go(func() error {
			if err := e.Refresh(gctx); err != nil {
				r.logger.Warn().Err(err).Str("service", e.Key().String()).Msg("Refresh failed")

				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", e.Key(), err))
				mu.Unlock()
			}

			return nil
		})
	}

	_ = g.Wait()

	return errors.Join(errs...)
}

// Close closes and removes every entity.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	for _, e := range entries {
		e.relay()
		e.entity.Close(ctx)
	}
}
