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

package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/carverauto/svcwatch/pkg/models"
)

const defaultSendTimeout = 30 * time.Second

// Sender delivers a built message.
type Sender interface {
	Send(ctx context.Context, cfg *models.SMTPInfo, msg *Message) error
}

// SMTPSender delivers through an SMTP relay.
type SMTPSender struct {
	Timeout time.Duration
}

func (s SMTPSender) clientOptions(cfg *models.SMTPInfo) []mail.Option {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}

	opts := []mail.Option{mail.WithTimeout(timeout)}

	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}

	if cfg.EnableSSL {
		opts = append(opts, mail.WithSSLPort(false))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}

	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	return opts
}

func (s SMTPSender) Send(ctx context.Context, cfg *models.SMTPInfo, msg *Message) error {
	if cfg.Host == "" {
		return fmt.Errorf("%w: smtp host is empty", ErrConfig)
	}

	c, err := mail.NewClient(cfg.Host, s.clientOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	if err := c.DialAndSendWithContext(ctx, msg.Mail); err != nil {
		return fmt.Errorf("%w: %w", ErrNotification, err)
	}

	return nil
}

// PickupSender writes messages as .eml files into the configured pickup
// directory for an external relay to collect.
type PickupSender struct{}

func (PickupSender) Send(ctx context.Context, cfg *models.SMTPInfo, msg *Message) error {
	if cfg.PickupDirectory == "" {
		return fmt.Errorf("%w: pickup directory is empty", ErrConfig)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.PickupDirectory, 0o750); err != nil {
		return fmt.Errorf("%w: %w", ErrNotification, err)
	}

	path := filepath.Join(cfg.PickupDirectory, msg.ID+".eml")
	if err := msg.Mail.WriteToFile(path); err != nil {
		return fmt.Errorf("%w: %w", ErrNotification, err)
	}

	return nil
}

// methodSender routes by the descriptor's delivery method.
type methodSender struct {
	network Sender
	pickup  Sender
}

func (m methodSender) Send(ctx context.Context, cfg *models.SMTPInfo, msg *Message) error {
	if cfg.DeliveryMethod == models.DeliveryPickupDirectory {
		return m.pickup.Send(ctx, cfg, msg)
	}

	return m.network.Send(ctx, cfg, msg)
}
