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
	"strings"

	"google.golang.org/grpc"
)

// MonitorServiceDesc describes MonitorService for grpc.Server.RegisterService.
var MonitorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MonitorService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetStatus",
			Handler: unary(methodGetStatus, func(ctx context.Context, s MonitorService, in *StatusRequest) (interface{}, error) {
				return s.GetStatus(ctx, in.ServiceName)
			}),
		},
		{
			MethodName: "Start",
			Handler: unary(methodStart, func(ctx context.Context, s MonitorService, in *DescriptorRequest) (interface{}, error) {
				return &Empty{}, s.Start(ctx, &in.Descriptor)
			}),
		},
		{
			MethodName: "Stop",
			Handler: unary(methodStop, func(ctx context.Context, s MonitorService, in *DescriptorRequest) (interface{}, error) {
				return &Empty{}, s.Stop(ctx, &in.Descriptor)
			}),
		},
		{
			MethodName: "Refresh",
			Handler: unary(methodRefresh, func(ctx context.Context, s MonitorService, in *DescriptorRequest) (interface{}, error) {
				state, err := s.Refresh(ctx, &in.Descriptor)

				return &StateReply{State: state}, err
			}),
		},
		{
			MethodName: "WaitForStatus",
			Handler: unary(methodWaitForStatus, func(ctx context.Context, s MonitorService, in *WaitRequest) (interface{}, error) {
				return &Empty{}, s.WaitForStatus(ctx, &in.Descriptor, in.Status)
			}),
		},
		{
			MethodName: "GetServices",
			Handler: unary(methodGetServices, func(ctx context.Context, s MonitorService, _ *Empty) (interface{}, error) {
				services, err := s.GetServices(ctx)

				return &ServicesReply{Services: services}, err
			}),
		},
		{
			MethodName: "Subscribe",
			Handler: unary(methodSubscribe, func(ctx context.Context, s MonitorService, in *DescriptorRequest) (interface{}, error) {
				return &Empty{}, s.Subscribe(ctx, &in.Descriptor)
			}),
		},
		{
			MethodName: "Unsubscribe",
			Handler: unary(methodUnsubscribe, func(ctx context.Context, s MonitorService, in *DescriptorRequest) (interface{}, error) {
				return &Empty{}, s.Unsubscribe(ctx, &in.Descriptor)
			}),
		},
		{
			MethodName: "UpdateSubscription",
			Handler: unary(methodUpdateSubscription, func(ctx context.Context, s MonitorService, in *UpdateRequest) (interface{}, error) {
				return &Empty{}, s.UpdateSubscription(ctx, &in.Old, &in.New)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "svcwatch/monitor.json",
}

// RegisterMonitorServiceServer registers impl on any service registrar.
func RegisterMonitorServiceServer(s grpc.ServiceRegistrar, impl MonitorService) {
	s.RegisterService(&MonitorServiceDesc, impl)
}

// MethodName strips the service prefix from a full gRPC method name.
func MethodName(fullMethod string) string {
	return strings.TrimPrefix(fullMethod, "/"+ServiceName+"/")
}

type unaryCall[Req any] func(ctx context.Context, s MonitorService, in *Req) (interface{}, error)

func unary[Req any](fullMethod string, call unaryCall[Req]) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error,
		interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}

		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			resp, err := call(ctx, srv.(MonitorService), req.(*Req))
			if err != nil {
				return nil, err
			}

			return resp, nil
		}

		if interceptor == nil {
			return handler(ctx, in)
		}

		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}

		return interceptor(ctx, in, info, handler)
	}
}
