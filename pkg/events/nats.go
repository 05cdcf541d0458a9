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

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
)

const (
	DefaultSubjectPrefix = "svcwatch.status"
	statusEventType      = "com.carverauto.svcwatch.service.status"
)

// StatusEvent is the CloudEvents-style envelope published for every status change.
type StatusEvent struct {
	SpecVersion string              `json:"specversion"`
	ID          string              `json:"id"`
	Source      string              `json:"source"`
	Type        string              `json:"type"`
	Subject     string              `json:"subject"`
	Time        time.Time           `json:"time"`
	ServiceName string              `json:"service_name"`
	MachineName string              `json:"machine_name"`
	Previous    models.ServiceState `json:"previous_state"`
	Current     models.ServiceState `json:"current_state"`
	Mode        string              `json:"mode"`
}

// Publisher is the subset of *nats.Conn the status publisher needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes StatusEvents to <prefix>.<machine>.<service>.
type NATSPublisher struct {
	conn   Publisher
	prefix string
	source string
	logger logger.Logger
}

// NewNATSPublisher wraps conn. An empty prefix uses DefaultSubjectPrefix.
func NewNATSPublisher(conn Publisher, prefix, source string, log logger.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	return &NATSPublisher{conn: conn, prefix: prefix, source: source, logger: log}
}

// Subject returns the subject used for a service on a machine.
func (p *NATSPublisher) Subject(machine, service string) string {
	return p.prefix + "." + subjectToken(models.NormalizeMachine(machine)) + "." + subjectToken(service)
}

// PublishStatus sends one status change.
func (p *NATSPublisher) PublishStatus(id models.ServiceIdentity, previous, current models.ServiceState,
	mode string, at time.Time) error {
	subject := p.Subject(id.MachineName, id.ServiceName)

	event := StatusEvent{
		SpecVersion: "1.0",
		ID:          uuid.New().String(),
		Source:      p.source,
		Type:        statusEventType,
		Subject:     subject,
		Time:        at,
		ServiceName: id.ServiceName,
		MachineName: id.MachineName,
		Previous:    previous,
		Current:     current,
		Mode:        mode,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish status event: %w", err)
	}

	p.logger.Debug().Str("subject", subject).Str("event_id", event.ID).Msg("Published status event")

	return nil
}

func subjectToken(s string) string {
	if s == "." {
		return "local"
	}

	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(strings.ToLower(s))
}

// Connect dials NATS with reconnect logging on log.
func Connect(_ context.Context, url, name string, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")

	return nc, nil
}
