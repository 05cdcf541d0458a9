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

// Package dashboard is the terminal view over the service registry.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
	"github.com/carverauto/svcwatch/pkg/registry"
)

// Dracula palette.
const (
	draculaForeground = "#F8F8F2"
	draculaCyan       = "#8BE9FD"
	draculaGreen      = "#50FA7B"
	draculaOrange     = "#FFB86C"
	draculaPink       = "#FF79C6"
	draculaPurple     = "#BD93F9"
	draculaRed        = "#FF5555"
	draculaComment    = "#6272A4"
)

const (
	defaultRefreshEvery = 2 * time.Second
	tableHeight         = 15
	actionTimeout       = 2 * time.Minute
)

type styles struct {
	title, help, ok, warn, fail, app lipgloss.Style
}

func newStyles() styles {
	return styles{
		title: lipgloss.NewStyle().Foreground(lipgloss.Color(draculaPink)).Bold(true),
		help:  lipgloss.NewStyle().Foreground(lipgloss.Color(draculaComment)),
		ok:    lipgloss.NewStyle().Foreground(lipgloss.Color(draculaGreen)),
		warn:  lipgloss.NewStyle().Foreground(lipgloss.Color(draculaOrange)),
		fail:  lipgloss.NewStyle().Foreground(lipgloss.Color(draculaRed)).Bold(true),
		app: lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(draculaPurple)).
			Foreground(lipgloss.Color(draculaForeground)),
	}
}

type (
	tickMsg    time.Time
	changedMsg struct{}
	actionMsg  struct {
		verb string
		key  models.ServiceKey
		err  error
	}
)

// Model is the bubbletea model of the dashboard.
type Model struct {
	ctx      context.Context
	registry *registry.Registry
	table    table.Model
	styles   styles
	keys     []models.ServiceKey
	status   string
	failed   bool
	every    time.Duration
	copyText func(string) error
}

// New builds the model over reg.
func New(ctx context.Context, reg *registry.Registry) *Model {
	columns := []table.Column{
		{Title: "Service", Width: 20},
		{Title: "Machine", Width: 16},
		{Title: "Display name", Width: 28},
		{Title: "Status", Width: 16},
		{Title: "Mode", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(tableHeight),
	)

	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color(draculaPurple)).
		BorderBottom(true).
		Foreground(lipgloss.Color(draculaCyan)).
		Bold(true)
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color(draculaForeground)).
		Background(lipgloss.Color(draculaPurple))
	t.SetStyles(ts)

	m := &Model{
		ctx:      ctx,
		registry: reg,
		table:    t,
		styles:   newStyles(),
		every:    defaultRefreshEvery,
		copyText: clipboard.WriteAll,
	}
	m.reload()

	return m
}

func (m *Model) reload() {
	items := m.registry.Items()
	rows := make([]table.Row, 0, len(items))
	m.keys = m.keys[:0]

	for _, e := range items {
		id := e.Identity()
		rows = append(rows, table.Row{
			id.ServiceName,
			models.NormalizeMachine(id.MachineName),
			e.DisplayName(),
			e.Status().String(),
			e.Mode().String(),
		})
		m.keys = append(m.keys, e.Key())
	}

	m.table.SetRows(rows)
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.every, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) Init() tea.Cmd {
	return m.tick()
}

func (m *Model) selected() (*registry.Entity, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.keys) {
		return nil, false
	}

	return m.registry.Get(m.keys[i])
}

// act runs op against the selected entity outside the UI loop.
func (m *Model) act(verb string, op func(*registry.Entity, context.Context) error) tea.Cmd {
	e, ok := m.selected()
	if !ok {
		return nil
	}

	m.status = fmt.Sprintf("%s %s...", verb, e.Identity().ServiceName)
	m.failed = false
	key := e.Key()

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, actionTimeout)
		defer cancel()

		return actionMsg{verb: verb, key: key, err: op(e, ctx)}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tickMsg:
		m.reload()

		return m, m.tick()
	case changedMsg:
		m.reload()

		return m, nil
	case actionMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s %s failed: %v", msg.verb, msg.key.ServiceName, msg.err)
			m.failed = true
		} else {
			m.status = fmt.Sprintf("%s %s done", msg.verb, msg.key.ServiceName)
		}

		m.reload()

		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)

	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "s":
		return m, m.act("Starting", (*registry.Entity).Start)
	case "x":
		return m, m.act("Stopping", (*registry.Entity).Stop)
	case "r":
		return m, m.act("Refreshing", (*registry.Entity).Refresh)
	case "y":
		m.copySelected()

		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)

	return m, cmd
}

// copySelected puts the selected service key on the clipboard.
func (m *Model) copySelected() {
	e, ok := m.selected()
	if !ok {
		return
	}

	key := e.Key().String()
	if err := m.copyText(key); err != nil {
		m.status = "Failed to copy to clipboard"
		m.failed = true

		return
	}

	m.status = key + " copied to clipboard"
	m.failed = false
}

func (m *Model) statusStyle() lipgloss.Style {
	switch {
	case m.failed:
		return m.styles.fail
	case strings.HasSuffix(m.status, "..."):
		return m.styles.warn
	default:
		return m.styles.ok
	}
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.title.Render("svcwatch"))
	b.WriteString(fmt.Sprintf("  %d services\n\n", len(m.keys)))
	b.WriteString(m.table.View())
	b.WriteString("\n")

	if m.status != "" {
		b.WriteString(m.statusStyle().Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString(m.styles.help.Render("↑/↓ select • s start • x stop • r refresh • y copy • q quit"))

	return m.styles.app.Render(b.String())
}

// Run shows the dashboard until the user quits or ctx ends.
func Run(ctx context.Context, reg *registry.Registry, log logger.Logger) error {
	p := tea.NewProgram(New(ctx, reg), tea.WithContext(ctx), tea.WithAltScreen())

	unsubscribe := reg.Changes.Subscribe(func(registry.Change) {
		go p.Send(changedMsg{})
	})
	defer unsubscribe()

	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}

		log.Error().Err(err).Msg("Dashboard exited with error")

		return err
	}

	return nil
}
