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

// Package models holds the value objects exchanged between the monitor, the
// remote agent and the notification pipeline.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ServiceState is the last observed run state of a monitored service.
type ServiceState int

const (
	StateError ServiceState = iota
	StateRunning
	StateStopped
	StatePaused
	StateStartPending
	StateStopPending
	StatePausePending
	StateContinuePending
)

var stateNames = map[ServiceState]string{
	StateError:           "Error",
	StateRunning:         "Running",
	StateStopped:         "Stopped",
	StatePaused:          "Paused",
	StateStartPending:    "StartPending",
	StateStopPending:     "StopPending",
	StatePausePending:    "PausePending",
	StateContinuePending: "ContinuePending",
}

func (s ServiceState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("ServiceState(%d)", int(s))
}

// IsStopping reports whether the state counts as a stop for unexpected-stop detection.
func (s ServiceState) IsStopping() bool {
	return s == StateStopped || s == StateStopPending
}

// ParseServiceState converts a state name (case-insensitive) back to a ServiceState.
func ParseServiceState(name string) (ServiceState, error) {
	for state, n := range stateNames {
		if strings.EqualFold(n, name) {
			return state, nil
		}
	}

	return StateError, fmt.Errorf("%w: %q", errUnknownState, name)
}

func (s ServiceState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ServiceState) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}

	parsed, err := ParseServiceState(name)
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}
