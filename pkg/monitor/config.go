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

package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/svcwatch/pkg/client"
	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
	"github.com/carverauto/svcwatch/pkg/watchdog"
)

const (
	DefaultAgentServiceName = "svcwatch-agent"
	defaultPollInterval     = 5 * time.Second
	defaultDialTimeout      = 5 * time.Second
)

var (
	errInvalidInterval  = errors.New("intervals must not be negative")
	errDuplicateService = errors.New("duplicate service")
)

// NATSConfig enables publishing of status changes.
type NATSConfig struct {
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
}

// Config is the monitor process configuration.
type Config struct {
	AgentServiceName string                  `json:"agent_service_name"`
	AgentPort        int                     `json:"agent_port"`
	WatchdogInterval models.Duration         `json:"watchdog_interval"`
	PollInterval     models.Duration         `json:"poll_interval"`
	DialTimeout      models.Duration         `json:"dial_timeout"`
	Authority        string                  `json:"authority,omitempty"`
	Services         []models.ServiceDetails `json:"services"`
	Email            models.EmailInfo        `json:"email"`
	SMTP             models.SMTPInfo         `json:"smtp"`
	Logging          *logger.Config          `json:"logging,omitempty"`
	Security         *models.SecurityConfig  `json:"security,omitempty"`
	NATS             *NATSConfig             `json:"nats,omitempty"`
}

// Validate implements config.Validator and fills in defaults.
func (c *Config) Validate() error {
	if c.AgentServiceName == "" {
		c.AgentServiceName = DefaultAgentServiceName
	}

	if c.AgentPort <= 0 {
		c.AgentPort = client.DefaultAgentPort
	}

	if c.WatchdogInterval < 0 || c.PollInterval < 0 || c.DialTimeout < 0 {
		return errInvalidInterval
	}

	if c.WatchdogInterval == 0 {
		c.WatchdogInterval = models.Duration(watchdog.DefaultInterval)
	}

	if c.PollInterval == 0 {
		c.PollInterval = models.Duration(defaultPollInterval)
	}

	if c.DialTimeout == 0 {
		c.DialTimeout = models.Duration(defaultDialTimeout)
	}

	if c.Logging == nil {
		c.Logging = logger.DefaultConfig()
	}

	seen := make(map[models.ServiceKey]struct{}, len(c.Services))

	for i := range c.Services {
		id := c.Services[i].Identity()
		if err := id.Validate(); err != nil {
			return fmt.Errorf("services[%d]: %w", i, err)
		}

		key := id.Key()
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: %s", errDuplicateService, key)
		}

		seen[key] = struct{}{}
	}

	return nil
}

// Descriptor builds the subscription descriptor of one configured service.
func (c *Config) Descriptor(details *models.ServiceDetails) models.SubscriptionDescriptor {
	return details.Descriptor(c.Email, c.SMTP, c.Authority)
}
