//go:build linux

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

package probe

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"

	"github.com/carverauto/svcwatch/pkg/models"
)

// systemdController drives a unit through the systemd D-Bus API. Only the
// local machine is reachable.
type systemdController struct {
	unit string

	mu   sync.Mutex
	conn *dbus.Conn
}

func newPlatformController(name, machine string) (Controller, error) {
	if !models.IsLocalMachine(machine) {
		return nil, fmt.Errorf("%w: systemd cannot reach %q", ErrUnsupported, machine)
	}

	return &systemdController{unit: unitName(name)}, nil
}

func unitName(name string) string {
	if strings.Contains(name, ".") {
		return name
	}

	return name + ".service"
}

func (c *systemdController) connection(ctx context.Context) (*dbus.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.Connected() {
		return c.conn, nil
	}

	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}

	c.conn = conn

	return conn, nil
}

func (c *systemdController) Query(ctx context.Context) (Info, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return Info{}, err
	}

	props, err := conn.GetUnitPropertiesContext(ctx, c.unit)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return Info{State: models.StateError}, nil
		}

		return Info{}, err
	}

	loadState, _ := props["LoadState"].(string)
	if loadState == "not-found" {
		return Info{State: models.StateError}, nil
	}

	activeState, _ := props["ActiveState"].(string)
	description, _ := props["Description"].(string)
	canStop, _ := props["CanStop"].(bool)

	return Info{
		State:       stateFromActive(activeState),
		DisplayName: description,
		CanStop:     canStop,
		Installed:   true,
	}, nil
}

func (c *systemdController) Start(ctx context.Context) error {
	conn, err := c.connection(ctx)
	if err != nil {
		return err
	}

	if _, err := conn.StartUnitContext(ctx, c.unit, "replace", nil); err != nil {
		return fmt.Errorf("start %s: %w", c.unit, err)
	}

	return nil
}

func (c *systemdController) Stop(ctx context.Context) error {
	conn, err := c.connection(ctx)
	if err != nil {
		return err
	}

	if _, err := conn.StopUnitContext(ctx, c.unit, "replace", nil); err != nil {
		return fmt.Errorf("stop %s: %w", c.unit, err)
	}

	return nil
}

func stateFromActive(active string) models.ServiceState {
	switch active {
	case "active", "reloading", "refreshing":
		return models.StateRunning
	case "inactive", "failed", "maintenance":
		return models.StateStopped
	case "activating":
		return models.StateStartPending
	case "deactivating":
		return models.StateStopPending
	default:
		return models.StateError
	}
}

// systemd reports org.freedesktop.systemd1.NoSuchUnit for missing units.
func isNoSuchUnitErr(err error) bool {
	msg := err.Error()

	return strings.Contains(msg, "NoSuchUnit") || strings.Contains(msg, "not-found")
}
