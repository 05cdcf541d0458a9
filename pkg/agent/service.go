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
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ggrpc "github.com/carverauto/svcwatch/pkg/grpc"
	"github.com/carverauto/svcwatch/pkg/models"
	"github.com/carverauto/svcwatch/pkg/probe"
)

type monitorService struct {
	server *Server
}

var _ ggrpc.MonitorService = (*monitorService)(nil)

// toStatus maps local failures to status codes the client does not treat as
// transport faults.
func toStatus(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, models.ErrEmptyServiceName):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, probe.ErrNotInstalled):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, probe.ErrTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.FailedPrecondition, err.Error())
	}
}

func validate(desc *models.SubscriptionDescriptor) error {
	if desc == nil {
		return status.Error(codes.InvalidArgument, "descriptor is required")
	}

	return toStatus(desc.Validate())
}

// GetStatus reports the state of the named service and drains the
// exceptions queued by its tracking entries.
func (m *monitorService) GetStatus(ctx context.Context, serviceName string) (*models.PollResult, error) {
	if serviceName == "" {
		return nil, toStatus(models.ErrEmptyServiceName)
	}

	p, err := m.server.probeFor(serviceName)
	if err != nil {
		return nil, toStatus(err)
	}

	entries := m.server.entriesFor(serviceName)
	result := &models.PollResult{ServiceName: serviceName}

	if err := p.Refresh(ctx); err != nil {
		if len(entries) == 0 {
			return nil, toStatus(err)
		}

		result.Exceptions = append(result.Exceptions, models.NewMonitorException(exceptionProbe, err, m.server.clock.Now()))
	}

	result.State = p.Status()

	for _, e := range entries {
		result.Exceptions = append(result.Exceptions, e.drain()...)
	}

	return result, nil
}

func (m *monitorService) Start(ctx context.Context, desc *models.SubscriptionDescriptor) error {
	if err := validate(desc); err != nil {
		return err
	}

	p, err := m.server.probeFor(desc.ServiceName)
	if err != nil {
		return toStatus(err)
	}

	entries := m.server.entriesFor(desc.ServiceName)
	for _, e := range entries {
		e.begin()
	}

	err = p.Start(ctx)
	if err == nil {
		err = p.WaitForStatus(ctx, models.StateRunning, desc.WaitTimeout())
	}

	for _, e := range entries {
		e.settle()
	}

	return toStatus(err)
}

// Stop marks the tracking entries of the service as toggling so the
// deliberate stop is not reported as a failure.
func (m *monitorService) Stop(ctx context.Context, desc *models.SubscriptionDescriptor) error {
	if err := validate(desc); err != nil {
		return err
	}

	p, err := m.server.probeFor(desc.ServiceName)
	if err != nil {
		return toStatus(err)
	}

	entries := m.server.entriesFor(desc.ServiceName)
	for _, e := range entries {
		e.begin()
		e.toggling.Store(true)
	}

	err = p.Stop(ctx)
	if err == nil {
		err = p.WaitForStatus(ctx, models.StateStopped, desc.WaitTimeout())
	}

	for _, e := range entries {
		e.settle()
		e.toggling.Store(false)
	}

	if err != nil {
		m.server.logger.Error().Err(err).Str("service_name", desc.ServiceName).Msg("Failed to stop service")
	} else {
		m.server.logger.Info().Str("service_name", desc.ServiceName).Msg("Service stopped on request")
	}

	return toStatus(err)
}

func (m *monitorService) Refresh(ctx context.Context, desc *models.SubscriptionDescriptor) (models.ServiceState, error) {
	if err := validate(desc); err != nil {
		return models.StateError, err
	}

	p, err := m.server.probeFor(desc.ServiceName)
	if err != nil {
		return models.StateError, toStatus(err)
	}

	if err := p.Refresh(ctx); err != nil {
		return models.StateError, toStatus(err)
	}

	return p.Status(), nil
}

func (m *monitorService) WaitForStatus(ctx context.Context, desc *models.SubscriptionDescriptor,
	target models.ServiceState) error {
	if err := validate(desc); err != nil {
		return err
	}

	p, err := m.server.probeFor(desc.ServiceName)
	if err != nil {
		return toStatus(err)
	}

	return toStatus(p.WaitForStatus(ctx, target, desc.WaitTimeout()))
}

func (m *monitorService) GetServices(context.Context) ([]models.SubscriptionDescriptor, error) {
	return m.server.descriptors(), nil
}

func (m *monitorService) Subscribe(ctx context.Context, desc *models.SubscriptionDescriptor) error {
	if err := validate(desc); err != nil {
		return err
	}

	return toStatus(m.server.subscribe(ctx, desc))
}

func (m *monitorService) Unsubscribe(ctx context.Context, desc *models.SubscriptionDescriptor) error {
	if err := validate(desc); err != nil {
		return err
	}

	return toStatus(m.server.unsubscribe(ctx, desc))
}

// UpdateSubscription replaces the descriptor in place when the key is
// unchanged and re-subscribes otherwise.
func (m *monitorService) UpdateSubscription(ctx context.Context, oldDesc, newDesc *models.SubscriptionDescriptor) error {
	if err := validate(oldDesc); err != nil {
		return err
	}

	if err := validate(newDesc); err != nil {
		return err
	}

	if keyOf(oldDesc) != keyOf(newDesc) {
		if err := m.server.unsubscribe(ctx, oldDesc); err != nil {
			return toStatus(err)
		}
	}

	return toStatus(m.server.subscribe(ctx, newDesc))
}
