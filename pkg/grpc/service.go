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

//go:generate mockgen -destination=mock_service.go -package=grpc github.com/carverauto/svcwatch/pkg/grpc MonitorService

package grpc

import (
	"context"

	"github.com/carverauto/svcwatch/pkg/models"
)

// ServiceName is the fully qualified gRPC service name of the monitoring agent.
const ServiceName = "svcwatch.MonitorService"

const (
	methodGetStatus          = "/" + ServiceName + "/GetStatus"
	methodStart              = "/" + ServiceName + "/Start"
	methodStop               = "/" + ServiceName + "/Stop"
	methodRefresh            = "/" + ServiceName + "/Refresh"
	methodWaitForStatus      = "/" + ServiceName + "/WaitForStatus"
	methodGetServices        = "/" + ServiceName + "/GetServices"
	methodSubscribe          = "/" + ServiceName + "/Subscribe"
	methodUnsubscribe        = "/" + ServiceName + "/Unsubscribe"
	methodUpdateSubscription = "/" + ServiceName + "/UpdateSubscription"
)

// MonitorService is the contract between a mediator and the remote monitoring
// agent. The agent implements it; NewMonitorServiceClient returns the stub.
type MonitorService interface {
	// GetStatus returns the current state of serviceName and drains the
	// exceptions queued for it since the previous call.
	GetStatus(ctx context.Context, serviceName string) (*models.PollResult, error)
	Start(ctx context.Context, desc *models.SubscriptionDescriptor) error
	Stop(ctx context.Context, desc *models.SubscriptionDescriptor) error
	Refresh(ctx context.Context, desc *models.SubscriptionDescriptor) (models.ServiceState, error)
	WaitForStatus(ctx context.Context, desc *models.SubscriptionDescriptor, status models.ServiceState) error
	GetServices(ctx context.Context) ([]models.SubscriptionDescriptor, error)
	Subscribe(ctx context.Context, desc *models.SubscriptionDescriptor) error
	Unsubscribe(ctx context.Context, desc *models.SubscriptionDescriptor) error
	UpdateSubscription(ctx context.Context, oldDesc, newDesc *models.SubscriptionDescriptor) error
}

// StatusRequest asks for the poll result of one service.
type StatusRequest struct {
	ServiceName string `json:"service_name"`
}

// DescriptorRequest carries a single subscription descriptor.
type DescriptorRequest struct {
	Descriptor models.SubscriptionDescriptor `json:"descriptor"`
}

// WaitRequest asks the agent to block until the service reaches Status.
type WaitRequest struct {
	Descriptor models.SubscriptionDescriptor `json:"descriptor"`
	Status     models.ServiceState           `json:"status"`
}

// UpdateRequest replaces Old with New on the agent.
type UpdateRequest struct {
	Old models.SubscriptionDescriptor `json:"old"`
	New models.SubscriptionDescriptor `json:"new"`
}

type StateReply struct {
	State models.ServiceState `json:"state"`
}

type ServicesReply struct {
	Services []models.SubscriptionDescriptor `json:"services"`
}

// Empty is the request or reply of calls that carry no data.
type Empty struct{}
