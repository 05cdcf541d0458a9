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

	"google.golang.org/grpc"

	"github.com/carverauto/svcwatch/pkg/models"
)

type monitorServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewMonitorServiceClient returns a MonitorService that calls the agent over cc.
func NewMonitorServiceClient(cc grpc.ClientConnInterface) MonitorService {
	return &monitorServiceClient{cc: cc}
}

func (c *monitorServiceClient) invoke(ctx context.Context, method string, in, out interface{}) error {
	return c.cc.Invoke(ctx, method, in, out, grpc.CallContentSubtype(CodecName))
}

func (c *monitorServiceClient) GetStatus(ctx context.Context, serviceName string) (*models.PollResult, error) {
	out := new(models.PollResult)
	if err := c.invoke(ctx, methodGetStatus, &StatusRequest{ServiceName: serviceName}, out); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *monitorServiceClient) Start(ctx context.Context, desc *models.SubscriptionDescriptor) error {
	return c.invoke(ctx, methodStart, &DescriptorRequest{Descriptor: *desc}, new(Empty))
}

func (c *monitorServiceClient) Stop(ctx context.Context, desc *models.SubscriptionDescriptor) error {
	return c.invoke(ctx, methodStop, &DescriptorRequest{Descriptor: *desc}, new(Empty))
}

func (c *monitorServiceClient) Refresh(ctx context.Context, desc *models.SubscriptionDescriptor) (models.ServiceState, error) {
	out := new(StateReply)
	if err := c.invoke(ctx, methodRefresh, &DescriptorRequest{Descriptor: *desc}, out); err != nil {
		return models.StateError, err
	}

	return out.State, nil
}

func (c *monitorServiceClient) WaitForStatus(
	ctx context.Context, desc *models.SubscriptionDescriptor, status models.ServiceState) error {
	return c.invoke(ctx, methodWaitForStatus, &WaitRequest{Descriptor: *desc, Status: status}, new(Empty))
}

func (c *monitorServiceClient) GetServices(ctx context.Context) ([]models.SubscriptionDescriptor, error) {
	out := new(ServicesReply)
	if err := c.invoke(ctx, methodGetServices, &Empty{}, out); err != nil {
		return nil, err
	}

	return out.Services, nil
}

func (c *monitorServiceClient) Subscribe(ctx context.Context, desc *models.SubscriptionDescriptor) error {
	return c.invoke(ctx, methodSubscribe, &DescriptorRequest{Descriptor: *desc}, new(Empty))
}

func (c *monitorServiceClient) Unsubscribe(ctx context.Context, desc *models.SubscriptionDescriptor) error {
	return c.invoke(ctx, methodUnsubscribe, &DescriptorRequest{Descriptor: *desc}, new(Empty))
}

func (c *monitorServiceClient) UpdateSubscription(
	ctx context.Context, oldDesc, newDesc *models.SubscriptionDescriptor) error {
	return c.invoke(ctx, methodUpdateSubscription, &UpdateRequest{Old: *oldDesc, New: *newDesc}, new(Empty))
}
