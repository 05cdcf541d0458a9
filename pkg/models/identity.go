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
	"os"
	"strings"
)

// ServiceIdentity uniquely identifies a monitored service.
type ServiceIdentity struct {
	ServiceName string `json:"service_name"`
	MachineName string `json:"machine_name"`
	CommonName  string `json:"common_name,omitempty"`
}

// ServiceKey is the stable (serviceName, machineName) key used by the pool and registry.
type ServiceKey struct {
	ServiceName string
	MachineName string
}

func (k ServiceKey) String() string {
	return k.ServiceName + "@" + k.MachineName
}

// Key returns the case-insensitive identity key. An empty machine name means
// the local machine and is normalized to ".".
func (id ServiceIdentity) Key() ServiceKey {
	return ServiceKey{
		ServiceName: strings.ToLower(strings.TrimSpace(id.ServiceName)),
		MachineName: NormalizeMachine(id.MachineName),
	}
}

// Validate checks the identity can be used as a key.
func (id ServiceIdentity) Validate() error {
	if strings.TrimSpace(id.ServiceName) == "" {
		return ErrEmptyServiceName
	}

	return nil
}

// Name returns the common name when set, the service name otherwise.
func (id ServiceIdentity) Name() string {
	if id.CommonName != "" {
		return id.CommonName
	}

	return id.ServiceName
}

// NormalizeMachine lower-cases a machine name and maps the empty name to ".".
func NormalizeMachine(machine string) string {
	machine = strings.ToLower(strings.TrimSpace(machine))
	if machine == "" {
		return "."
	}

	return machine
}

// IsLocalMachine reports whether machine names the host this process runs on.
func IsLocalMachine(machine string) bool {
	switch m := NormalizeMachine(machine); m {
	case ".", "localhost", "127.0.0.1", "::1":
		return true
	default:
		host, err := os.Hostname()
		if err != nil {
			return false
		}

		host = strings.ToLower(host)
		if idx := strings.IndexByte(host, '.'); idx > 0 && !strings.Contains(m, ".") {
			host = host[:idx]
		}

		return m == host
	}
}
