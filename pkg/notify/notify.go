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

// Package notify builds and sends the email sent when a monitored service
// stops unexpectedly.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/carverauto/svcwatch/pkg/clock"
	"github.com/carverauto/svcwatch/pkg/events"
	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
)

var (
	// ErrConfig marks notification settings that can never succeed.
	ErrConfig = errors.New("notification config error")
	// ErrMissingFrom is returned when the sender address is empty.
	ErrMissingFrom = fmt.Errorf("%w: missing from address", ErrConfig)
	// ErrNoRecipients is returned when no To, CC or Bcc address is set.
	ErrNoRecipients = fmt.Errorf("%w: no recipients", ErrConfig)
	// ErrNotification wraps delivery failures.
	ErrNotification = errors.New("notification failed")
)

// Outcome is how one dispatch ended.
type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is published once per dispatched message.
type Result struct {
	Object  models.TrackingObject
	Message *Message
	Outcome Outcome
	Err     error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSender replaces the delivery for both network and pickup messages.
func WithSender(s Sender) Option {
	return func(d *Dispatcher) { d.sender = s }
}

func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithHostname overrides how the local host name is resolved.
func WithHostname(fn func(ctx context.Context) string) Option {
	return func(d *Dispatcher) { d.hostname = fn }
}

// Dispatcher turns failure events into emails. Sends run in the background
// and each one publishes exactly one of Sent, Failed or Cancelled.
type Dispatcher struct {
	sender   Sender
	clock    clock.Clock
	hostname func(ctx context.Context) string
	logger   logger.Logger

	wg sync.WaitGroup

	Sent      events.Feed[Result]
	Failed    events.Feed[Result]
	Cancelled events.Feed[Result]
}

func NewDispatcher(log logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:   methodSender{network: SMTPSender{}, pickup: PickupSender{}},
		clock:    clock.New(),
		hostname: localHostname,
		logger:   log,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func localHostname(ctx context.Context) string {
	if info, err := host.InfoWithContext(ctx); err == nil && info.Hostname != "" {
		return info.Hostname
	}

	h, _ := os.Hostname()

	return h
}

func (d *Dispatcher) reporter(ctx context.Context) string {
	info, err := host.InfoWithContext(ctx)
	if err != nil || info.Hostname == "" {
		return d.hostname(ctx)
	}

	if info.Platform == "" {
		return info.Hostname
	}

	return fmt.Sprintf("%s (%s %s)", info.Hostname, info.Platform, info.PlatformVersion)
}

// Dispatch builds the message synchronously and sends it in the background.
// Only build errors are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, obj *models.TrackingObject) error {
	msg, err := d.Build(ctx, obj)
	if err != nil {
		d.logger.Error().Err(err).Str("service_name", obj.ServiceName).Msg("Failed to build notification")

		return err
	}

	smtp := obj.Descriptor.SMTP
	result := Result{Object: *obj, Message: msg}

	d.wg.Add(1)

	go func() {
		defer d.wg.Done()

		d.complete(ctx, result, d.send(ctx, &smtp, msg))
	}()

	return nil
}

func (d *Dispatcher) send(ctx context.Context, smtp *models.SMTPInfo, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrNotification, r)
		}
	}()

	return d.sender.Send(ctx, smtp, msg)
}

func (d *Dispatcher) complete(ctx context.Context, result Result, err error) {
	result.Err = err

	switch {
	case err == nil:
		result.Outcome = OutcomeSent
		d.logger.Info().Str("service_name", result.Object.ServiceName).Str("subject", result.Message.Subject).
			Str("attachments", result.Message.Report.Status).Msg("Notification sent")
		d.Sent.Publish(result)
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		result.Outcome = OutcomeCancelled
		d.logger.Warn().Err(err).Str("service_name", result.Object.ServiceName).Msg("Notification cancelled")
		d.Cancelled.Publish(result)
	default:
		result.Outcome = OutcomeFailed
		d.logger.Error().Err(err).Str("service_name", result.Object.ServiceName).Msg("Notification failed")
		d.Failed.Publish(result)
	}
}

// Wait blocks until every background send has completed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
