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
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"github.com/carverauto/svcwatch/pkg/models"
)

// Attachment status lines.
const (
	StatusNoLogs        = "No log files specified"
	StatusLogsMissing   = "Log files are missing"
	StatusAllAttached   = "All log files attached"
	StatusSomeAttached  = "Some log files attached"
	messageIDDomain     = "svcwatch"
	notificationXMailer = "svcwatch"
)

// AttachmentFailure notes a log file that could not be attached.
type AttachmentFailure struct {
	File   models.LogFileRef
	Reason string
}

// AttachmentReport summarizes which log files made it into the message.
type AttachmentReport struct {
	Status   string
	Attached []models.LogFileRef
	Missing  []models.LogFileRef
	Failures []AttachmentFailure
}

// Message is a built notification ready to send.
type Message struct {
	ID      string
	Subject string
	Report  AttachmentReport
	Mail    *mail.Msg
}

type bodyData struct {
	Sentence    string
	Time        string
	Machine     string
	ServiceName string
	DisplayName string
	State       string
	Status      string
	Failures    []AttachmentFailure
	ReportedBy  string
}

var htmlBody = template.Must(template.New("body").Parse(`<html>
<body style="font-family: sans-serif">
<p>{{.Sentence}}</p>
<p>{{.Status}}</p>
{{- range .Failures}}
<p style="color: #b00020">Could not attach {{.File.Name}}: {{.Reason}}</p>
{{- end}}
<table border="1" cellpadding="4" cellspacing="0">
<tr><th align="left">Time</th><td>{{.Time}}</td></tr>
<tr><th align="left">Machine</th><td>{{.Machine}}</td></tr>
<tr><th align="left">Service name</th><td>{{.ServiceName}}</td></tr>
<tr><th align="left">Display name</th><td>{{.DisplayName}}</td></tr>
<tr><th align="left">State</th><td>{{.State}}</td></tr>
</table>
{{- if .ReportedBy}}
<p><small>Reported by {{.ReportedBy}}</small></p>
{{- end}}
</body>
</html>
`))

func displayName(obj *models.TrackingObject) string {
	if obj.DisplayName != "" {
		return obj.DisplayName
	}

	if obj.Descriptor.DisplayName != "" {
		return obj.Descriptor.DisplayName
	}

	return obj.ServiceName
}

func (d *Dispatcher) machineName(ctx context.Context, machine string) string {
	if models.IsLocalMachine(machine) {
		if h := d.hostname(ctx); h != "" {
			return h
		}
	}

	return machine
}

// Subject returns "<display name> on <host> stopped unexpectedly" with the
// configured prefix.
func Subject(prefix, display, host string) string {
	s := fmt.Sprintf("%s on %s stopped unexpectedly", display, host)
	if prefix = strings.TrimSpace(prefix); prefix != "" {
		s = prefix + " " + s
	}

	return s
}

func validateEmail(email *models.EmailInfo) error {
	if strings.TrimSpace(email.From) == "" {
		return ErrMissingFrom
	}

	if len(email.To)+len(email.CC)+len(email.Bcc) == 0 {
		return ErrNoRecipients
	}

	return nil
}

// attachLogs adds each configured log file to msg. Missing and unreadable
// files are reported rather than failing the message.
func attachLogs(msg *mail.Msg, files []models.LogFileRef) AttachmentReport {
	var report AttachmentReport

	if len(files) == 0 {
		report.Status = StatusNoLogs

		return report
	}

	for _, f := range files {
		data, err := os.ReadFile(f.Path)

		switch {
		case errors.Is(err, fs.ErrNotExist):
			report.Missing = append(report.Missing, f)
		case err != nil:
			report.Failures = append(report.Failures, AttachmentFailure{File: f, Reason: err.Error()})
		default:
			if err := msg.AttachReader(f.Name(), bytes.NewReader(data)); err != nil {
				report.Failures = append(report.Failures, AttachmentFailure{File: f, Reason: err.Error()})

				continue
			}

			report.Attached = append(report.Attached, f)
		}
	}

	switch {
	case len(report.Attached) == len(files):
		report.Status = StatusAllAttached
	case len(report.Attached) == 0:
		report.Status = StatusLogsMissing
	default:
		report.Status = StatusSomeAttached
	}

	return report
}

func plainBody(data *bodyData) string {
	var b strings.Builder

	b.WriteString(data.Sentence + "\n\n")
	b.WriteString(data.Status + "\n")

	for _, f := range data.Failures {
		fmt.Fprintf(&b, "Could not attach %s: %s\n", f.File.Name(), f.Reason)
	}

	fmt.Fprintf(&b, "\nTime:         %s\n", data.Time)
	fmt.Fprintf(&b, "Machine:      %s\n", data.Machine)
	fmt.Fprintf(&b, "Service name: %s\n", data.ServiceName)
	fmt.Fprintf(&b, "Display name: %s\n", data.DisplayName)
	fmt.Fprintf(&b, "State:        %s\n", data.State)

	if data.ReportedBy != "" {
		fmt.Fprintf(&b, "\nReported by %s\n", data.ReportedBy)
	}

	return b.String()
}

// Build assembles the notification for a failure. Configuration errors are
// returned before anything touches the network.
func (d *Dispatcher) Build(ctx context.Context, obj *models.TrackingObject) (*Message, error) {
	email := obj.Descriptor.Email

	if err := validateEmail(&email); err != nil {
		return nil, err
	}

	msg := mail.NewMsg()

	if err := msg.From(email.From); err != nil {
		return nil, fmt.Errorf("%w: from: %w", ErrConfig, err)
	}

	if err := setRecipients(msg, &email); err != nil {
		return nil, err
	}

	host := d.machineName(ctx, obj.MachineName)
	display := displayName(obj)
	id := uuid.NewString()

	at := obj.Time
	if at.IsZero() {
		at = d.clock.Now()
	}

	subject := Subject(email.SubjectPrefix, display, host)

	msg.Subject(subject)
	msg.SetMessageIDWithValue(id + "@" + messageIDDomain)
	msg.SetDateWithValue(at)
	msg.SetGenHeader(mail.HeaderXMailer, notificationXMailer)

	report := attachLogs(msg, obj.Descriptor.LogFiles)

	data := &bodyData{
		Sentence:    fmt.Sprintf("The service %s on %s stopped unexpectedly.", display, host),
		Time:        at.Format(time.RFC1123),
		Machine:     host,
		ServiceName: obj.ServiceName,
		DisplayName: display,
		State:       obj.State.String(),
		Status:      report.Status,
		Failures:    report.Failures,
		ReportedBy:  d.reporter(ctx),
	}

	msg.SetBodyString(mail.TypeTextPlain, plainBody(data))

	if !email.PlainText {
		if err := msg.AddAlternativeHTMLTemplate(htmlBody, data); err != nil {
			return nil, fmt.Errorf("%w: render body: %w", ErrConfig, err)
		}
	}

	return &Message{ID: id, Subject: subject, Report: report, Mail: msg}, nil
}

func setRecipients(msg *mail.Msg, email *models.EmailInfo) error {
	if len(email.To) > 0 {
		if err := msg.To(email.To...); err != nil {
			return fmt.Errorf("%w: to: %w", ErrConfig, err)
		}
	}

	if len(email.CC) > 0 {
		if err := msg.Cc(email.CC...); err != nil {
			return fmt.Errorf("%w: cc: %w", ErrConfig, err)
		}
	}

	if len(email.Bcc) > 0 {
		if err := msg.Bcc(email.Bcc...); err != nil {
			return fmt.Errorf("%w: bcc: %w", ErrConfig, err)
		}
	}

	return nil
}
