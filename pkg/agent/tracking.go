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

package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/svcwatch/pkg/models"
	"github.com/carverauto/svcwatch/pkg/probe"
)

const (
	exceptionProbe          = "probe"
	exceptionUnexpectedStop = "unexpected_stop"
)

// trackingKey identifies one subscribed interest.
type trackingKey struct {
	service   string
	machine   string
	authority string
}

func keyOf(desc *models.SubscriptionDescriptor) trackingKey {
	k := desc.Identity().Key()

	return trackingKey{service: k.ServiceName, machine: k.MachineName, authority: strings.ToLower(desc.Authority)}
}

// trackingEntry is the agent-side bookkeeping for one subscription.
type trackingEntry struct {
	id    string
	key   trackingKey
	probe probe.Probe

	toggling atomic.Bool
	// bumped when a deliberate Start or Stop begins and when it settles
	ops    atomic.Uint64
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	descriptor models.SubscriptionDescriptor
	lastState  models.ServiceState
	isStopped  bool
	failDates  []time.Time
	exceptions []models.MonitorException
	maxQueued  int
}

func newTrackingEntry(desc *models.SubscriptionDescriptor, p probe.Probe, maxQueued int) *trackingEntry {
	return &trackingEntry{
		id:         uuid.NewString(),
		key:        keyOf(desc),
		probe:      p,
		descriptor: desc.Clone(),
		lastState:  p.Status(),
		maxQueued:  maxQueued,
	}
}

func (e *trackingEntry) Descriptor() models.SubscriptionDescriptor {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.descriptor.Clone()
}

func (e *trackingEntry) setDescriptor(desc *models.SubscriptionDescriptor) {
	e.mu.Lock()
	e.descriptor = desc.Clone()
	e.mu.Unlock()
}

func (e *trackingEntry) queue(exc models.MonitorException) {
	e.exceptions = append(e.exceptions, exc)
	if over := len(e.exceptions) - e.maxQueued; e.maxQueued > 0 && over > 0 {
		e.exceptions = append(e.exceptions[:0:0], e.exceptions[over:]...)
	}
}

// drain returns and clears the queued exceptions.
func (e *trackingEntry) drain() []models.MonitorException {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.exceptions
	e.exceptions = nil

	return out
}

// IsStopped reports whether the last poll saw the service stopped.
func (e *trackingEntry) IsStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.isStopped
}

func (e *trackingEntry) FailDates() []time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]time.Time(nil), e.failDates...)
}

// tick refreshes the probe and records the transition. It returns the
// failure to report when the service stopped without a deliberate Stop.
// A refresh that overlapped a deliberate operation is discarded since its
// reading may predate the settled state.
func (e *trackingEntry) tick(ctx context.Context, now time.Time) (*models.TrackingObject, error) {
	opsBefore := e.ops.Load()
	wasToggling := e.toggling.Load()

	err := e.probe.Refresh(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.queue(models.NewMonitorException(exceptionProbe, err, now))

		return nil, err
	}

	if wasToggling || e.toggling.Load() || e.ops.Load() != opsBefore {
		return nil, nil
	}

	previous := e.lastState
	current := e.probe.Status()
	e.lastState = current
	e.isStopped = current == models.StateStopped

	if current == previous || !current.IsStopping() {
		return nil, nil
	}

	e.failDates = append(e.failDates, now)
	e.queue(models.MonitorException{
		Kind:    exceptionUnexpectedStop,
		Message: fmt.Sprintf("%s stopped unexpectedly (%s)", e.descriptor.ServiceName, current),
		Time:    now,
	})

	return &models.TrackingObject{
		ServiceName:            e.descriptor.ServiceName,
		MachineName:            e.descriptor.MachineName,
		DisplayName:            displayName(&e.descriptor, e.probe),
		NotifyOnUnexpectedStop: e.descriptor.NotifyOnUnexpectedStop,
		Descriptor:             e.descriptor.Clone(),
		PreviousState:          previous,
		State:                  current,
		Time:                   now,
	}, nil
}

// settle records the state reached by a deliberate operation so the next
// tick does not treat it as a transition.
func (e *trackingEntry) settle() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastState = e.probe.Status()
	e.isStopped = e.lastState == models.StateStopped
	e.ops.Add(1)
}

// begin marks the start of a deliberate operation. Every begin is followed
// by a settle.
func (e *trackingEntry) begin() {
	e.ops.Add(1)
}

func displayName(desc *models.SubscriptionDescriptor, p probe.Probe) string {
	if desc.DisplayName != "" {
		return desc.DisplayName
	}

	return p.DisplayName()
}
