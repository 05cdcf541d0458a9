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
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrTransportFault marks errors that mean the channel to the agent is unusable.
var ErrTransportFault = errors.New("transport fault")

// FaultKind classifies a transport fault.
type FaultKind int

const (
	ChannelFaulted FaultKind = iota + 1
	ProtocolError
	EndpointNotFound
)

func (k FaultKind) String() string {
	switch k {
	case ChannelFaulted:
		return "channel-faulted"
	case ProtocolError:
		return "protocol-error"
	case EndpointNotFound:
		return "endpoint-not-found"
	default:
		return "none"
	}
}

// FaultError is a classified transport fault.
type FaultError struct {
	Kind FaultKind
	Err  error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransportFault, e.Kind, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

func (*FaultError) Is(target error) bool {
	return target == ErrTransportFault
}

// NewFault wraps err as a fault of the given kind.
func NewFault(kind FaultKind, err error) error {
	return &FaultError{Kind: kind, Err: err}
}

// ClassifyFault maps err to a fault kind. ok is false for errors that are not
// transport faults, such as application errors returned by the agent.
func ClassifyFault(err error) (kind FaultKind, ok bool) {
	if err == nil {
		return 0, false
	}

	var fe *FaultError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}

	if errors.Is(err, ErrTransportFault) {
		return ChannelFaulted, true
	}

	st, isStatus := status.FromError(err)
	if !isStatus {
		return 0, false
	}

	switch st.Code() {
	case codes.Unavailable:
		return EndpointNotFound, true
	case codes.Internal, codes.Unimplemented, codes.DataLoss, codes.Unknown:
		return ProtocolError, true
	case codes.Canceled:
		if errors.Is(err, context.Canceled) {
			return 0, false
		}

		return ChannelFaulted, true
	default:
		return 0, false
	}
}

// IsFault reports whether err is any transport fault.
func IsFault(err error) bool {
	_, ok := ClassifyFault(err)

	return ok
}
