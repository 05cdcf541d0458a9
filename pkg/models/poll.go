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

package models

import (
	"time"
)

// MonitorException is the wire form of an error observed by a monitor.
type MonitorException struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// NewMonitorException captures err as a MonitorException.
func NewMonitorException(kind string, err error, at time.Time) MonitorException {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	return MonitorException{Kind: kind, Message: msg, Time: at}
}

func (e MonitorException) Error() string {
	if e.Kind == "" {
		return e.Message
	}

	return e.Kind + ": " + e.Message
}

// Equal compares kind, message and time.
func (e MonitorException) Equal(other MonitorException) bool {
	return e.Kind == other.Kind && e.Message == other.Message && e.Time.Equal(other.Time)
}

// PollResult is produced by a probe in response to a status query.
type PollResult struct {
	ServiceName string             `json:"service_name"`
	State       ServiceState       `json:"state"`
	Exceptions  []MonitorException `json:"exceptions,omitempty"`
}

// Equal reports structural equality: name, state and element-wise exceptions.
func (p *PollResult) Equal(other *PollResult) bool {
	if p == nil || other == nil {
		return p == other
	}

	if p.ServiceName != other.ServiceName || p.State != other.State {
		return false
	}

	if len(p.Exceptions) != len(other.Exceptions) {
		return false
	}

	for i := range p.Exceptions {
		if !p.Exceptions[i].Equal(other.Exceptions[i]) {
			return false
		}
	}

	return true
}

// TrackingObject is the payload of an unexpected-stop failure event.
type TrackingObject struct {
	ServiceName            string                 `json:"service_name"`
	MachineName            string                 `json:"machine_name"`
	DisplayName            string                 `json:"display_name"`
	NotifyOnUnexpectedStop bool                   `json:"notify_on_unexpected_stop"`
	Descriptor             SubscriptionDescriptor `json:"descriptor"`
	PreviousState          ServiceState           `json:"previous_state"`
	State                  ServiceState           `json:"state"`
	Time                   time.Time              `json:"time"`
}
