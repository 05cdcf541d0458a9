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
	"errors"
	"time"

	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
)

const (
	defaultListenAddr   = ":50071"
	defaultPollInterval = 3 * time.Second
	defaultMaxQueued    = 64
)

var errInvalidPollInterval = errors.New("poll_interval must not be negative")

// ServerConfig is the agent process configuration.
type ServerConfig struct {
	ListenAddr   string                 `json:"listen_addr"`
	PollInterval models.Duration        `json:"poll_interval"`
	MaxQueued    int                    `json:"max_queued_exceptions"`
	Logging      *logger.Config         `json:"logging,omitempty"`
	Security     *models.SecurityConfig `json:"security,omitempty"`
}

// Validate fills defaults and rejects impossible values.
func (c *ServerConfig) Validate() error {
	if c.PollInterval < 0 {
		return errInvalidPollInterval
	}

	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	if c.PollInterval == 0 {
		c.PollInterval = models.Duration(defaultPollInterval)
	}

	if c.MaxQueued <= 0 {
		c.MaxQueued = defaultMaxQueued
	}

	if c.Logging == nil {
		c.Logging = logger.DefaultConfig()
	}

	return nil
}
