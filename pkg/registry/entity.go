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

// Package registry holds the monitored services shown to operators.
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/carverauto/svcwatch/pkg/events"
	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/mediator"
	"github.com/carverauto/svcwatch/pkg/models"
)

// ErrUnattached is returned by operations on an entity without a mediator.
var ErrUnattached = errors.New("mediator is not attached")

// UnattachedDisplayName is reported by an entity without a mediator.
const UnattachedDisplayName = "Mediator is Null"

// Entity is one monitored service. Reads are always safe; without a mediator
// they report StateError and UnattachedDisplayName.
type Entity struct {
	logger logger.Logger

	mu       sync.RWMutex
	details  models.ServiceDetails
	mediator *mediator.Mediator
	detach   []func()

	// Failures receives the unexpected stops of the attached mediator.
	Failures      events.Feed[models.TrackingObject]
	StatusChanges events.Feed[mediator.StatusChange]
	MonitorErrors events.Feed[mediator.MonitorError]
}

func NewEntity(details models.ServiceDetails, log logger.Logger) *Entity {
	return &Entity{details: details, logger: log}
}

// AttachMediator makes m the controller of the entity, releasing the relays
// of any previous mediator.
func (e *Entity) AttachMediator(m *mediator.Mediator) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, fn := range e.detach {
		fn()
	}

	e.mediator = m
	e.detach = nil

	if m == nil {
		return
	}

	e.detach = append(e.detach,
		m.Failures.Subscribe(e.Failures.Publish),
		m.StatusChanges.Subscribe(e.StatusChanges.Publish),
		m.MonitorErrors.Subscribe(e.MonitorErrors.Publish),
	)
}

func (e *Entity) Mediator() *mediator.Mediator {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.mediator
}

func (e *Entity) Details() models.ServiceDetails {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.details
}

func (e *Entity) Key() models.ServiceKey {
	d := e.Details()
	return d.Identity().Key()
}

func (e *Entity) Identity() models.ServiceIdentity {
	d := e.Details()
	return d.Identity()
}

func (e *Entity) attached() (*mediator.Mediator, error) {
	m := e.Mediator()
	if m == nil {
		return nil, ErrUnattached
	}

	return m, nil
}

func (e *Entity) Start(ctx context.Context) error {
	m, err := e.attached()
	if err != nil {
		return err
	}

	return m.Start(ctx)
}

func (e *Entity) Stop(ctx context.Context) error {
	m, err := e.attached()
	if err != nil {
		return err
	}

	return m.Stop(ctx)
}

func (e *Entity) Refresh(ctx context.Context) error {
	m, err := e.attached()
	if err != nil {
		return err
	}

	return m.Refresh(ctx)
}

// Update stores new details and pushes desc to the mediator.
func (e *Entity) Update(ctx context.Context, details models.ServiceDetails, desc *models.SubscriptionDescriptor) error {
	e.mu.Lock()
	e.details = details
	m := e.mediator
	e.mu.Unlock()

	if m == nil {
		return ErrUnattached
	}

	return m.UpdateSubscription(ctx, desc)
}

func (e *Entity) Status() models.ServiceState {
	if m := e.Mediator(); m != nil {
		return m.Status()
	}

	return models.StateError
}

func (e *Entity) DisplayName() string {
	if m := e.Mediator(); m != nil {
		return m.DisplayName()
	}

	return UnattachedDisplayName
}

func (e *Entity) CanStop() bool {
	if m := e.Mediator(); m != nil {
		return m.CanStop()
	}

	return false
}

// Mode reports where operations currently run; unattached entities are local.
func (e *Entity) Mode() mediator.Mode {
	if m := e.Mediator(); m != nil {
		return m.Mode()
	}

	return mediator.ModeLocal
}

// Close closes the mediator and drops the relays.
func (e *Entity) Close(ctx context.Context) {
	e.mu.Lock()
	m := e.mediator

	for _, fn := range e.detach {
		fn()
	}

	e.detach = nil
	e.mu.Unlock()

	if m != nil {
		m.Close(ctx)
	}
}
