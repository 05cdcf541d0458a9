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
	"math"
	"strings"
	"time"
)

// DeliveryMethod selects how notification emails leave the process.
type DeliveryMethod string

const (
	DeliveryNetwork         DeliveryMethod = "network"
	DeliveryPickupDirectory DeliveryMethod = "pickup_directory"
)

// EmailInfo is the addressing part of a notification.
type EmailInfo struct {
	From          string   `json:"from"`
	To            []string `json:"to"`
	CC            []string `json:"cc,omitempty"`
	Bcc           []string `json:"bcc,omitempty"`
	SubjectPrefix string   `json:"subject_prefix,omitempty"`
	PlainText     bool     `json:"plain_text,omitempty"`
}

// SMTPInfo is the transport part of a notification. MaxMailsPerMinute and
// MaxMailsPerDay are carried for configuration compatibility only.
type SMTPInfo struct {
	Host              string         `json:"host"`
	Port              int            `json:"port"`
	Username          string         `json:"username,omitempty"`
	Password          string         `json:"password,omitempty"` //nolint:gosec // config field, not a credential
	EnableSSL         bool           `json:"enable_ssl"`
	DeliveryMethod    DeliveryMethod `json:"delivery_method,omitempty"`
	PickupDirectory   string         `json:"pickup_directory,omitempty"`
	MaxMailsPerMinute int            `json:"max_mails_per_minute,omitempty"`
	MaxMailsPerDay    int            `json:"max_mails_per_day,omitempty"`
}

// LogFileRef points at a log file that should be attached to a failure report.
type LogFileRef struct {
	Path        string `json:"path"`
	DisplayName string `json:"display_name,omitempty"`
}

// Name returns the attachment name for the file.
func (l LogFileRef) Name() string {
	if l.DisplayName != "" {
		return l.DisplayName
	}

	idx := strings.LastIndexAny(l.Path, `/\`)

	return l.Path[idx+1:]
}

// SubscriptionDescriptor is the immutable snapshot exchanged with the remote
// agent on subscribe, update and unsubscribe.
type SubscriptionDescriptor struct {
	ServiceName            string       `json:"service_name"`
	MachineName            string       `json:"machine_name"`
	DisplayName            string       `json:"display_name,omitempty"`
	NotifyOnUnexpectedStop bool         `json:"notify_on_unexpected_stop"`
	Timeout                Duration     `json:"timeout"`
	Email                  EmailInfo    `json:"email"`
	SMTP                   SMTPInfo     `json:"smtp"`
	LogFiles               []LogFileRef `json:"log_files,omitempty"`
	Authority              string       `json:"authority,omitempty"`
}

// Validate enforces the descriptor invariants.
func (d *SubscriptionDescriptor) Validate() error {
	if strings.TrimSpace(d.ServiceName) == "" {
		return ErrEmptyServiceName
	}

	return nil
}

// Identity returns the identity the descriptor refers to.
func (d *SubscriptionDescriptor) Identity() ServiceIdentity {
	return ServiceIdentity{ServiceName: d.ServiceName, MachineName: d.MachineName, CommonName: d.DisplayName}
}

// WaitTimeout maps a zero timeout to the maximum duration ("wait forever").
func (d *SubscriptionDescriptor) WaitTimeout() time.Duration {
	if d.Timeout <= 0 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(d.Timeout)
}

// Clone returns a deep copy so callers can hold a snapshot safely.
func (d *SubscriptionDescriptor) Clone() SubscriptionDescriptor {
	c := *d
	c.Email.To = append([]string(nil), d.Email.To...)
	c.Email.CC = append([]string(nil), d.Email.CC...)
	c.Email.Bcc = append([]string(nil), d.Email.Bcc...)
	c.LogFiles = append([]LogFileRef(nil), d.LogFiles...)

	return c
}

// ServiceDetails is the persisted per-service configuration of the monitor.
type ServiceDetails struct {
	ServiceName            string       `json:"service_name"`
	MachineName            string       `json:"machine_name,omitempty"`
	CommonName             string       `json:"common_name,omitempty"`
	DisplayName            string       `json:"display_name,omitempty"`
	NotifyOnUnexpectedStop bool         `json:"notify_on_unexpected_stop"`
	Timeout                Duration     `json:"timeout,omitempty"`
	LogFiles               []LogFileRef `json:"log_files,omitempty"`
	ConfigFiles            []string     `json:"config_files,omitempty"`
}

// Identity returns the service identity of the details.
func (s *ServiceDetails) Identity() ServiceIdentity {
	return ServiceIdentity{ServiceName: s.ServiceName, MachineName: s.MachineName, CommonName: s.CommonName}
}

// Descriptor builds the subscription descriptor for the details using the
// shared email and SMTP settings.
func (s *ServiceDetails) Descriptor(email EmailInfo, smtp SMTPInfo, authority string) SubscriptionDescriptor {
	d := SubscriptionDescriptor{
		ServiceName:            s.ServiceName,
		MachineName:            s.MachineName,
		DisplayName:            s.DisplayName,
		NotifyOnUnexpectedStop: s.NotifyOnUnexpectedStop,
		Timeout:                s.Timeout,
		Email:                  email,
		SMTP:                   smtp,
		LogFiles:               s.LogFiles,
		Authority:              authority,
	}

	return d.Clone()
}
