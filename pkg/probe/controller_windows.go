//go:build windows

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
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/carverauto/svcwatch/pkg/models"
)

// scmController talks to the Service Control Manager of the local or a
// remote machine. Each call opens and releases its own SCM handle.
type scmController struct {
	name    string
	machine string
}

func newPlatformController(name, machine string) (Controller, error) {
	if models.IsLocalMachine(machine) {
		machine = ""
	}

	return &scmController{name: name, machine: machine}, nil
}

func (c *scmController) connect() (*mgr.Mgr, error) {
	if c.machine == "" {
		return mgr.Connect()
	}

	return mgr.ConnectRemote(c.machine)
}

func (c *scmController) withService(fn func(*mgr.Service) error) error {
	m, err := c.connect()
	if err != nil {
		return fmt.Errorf("connect to service manager: %w", err)
	}

	defer func() { _ = m.Disconnect() }()

	s, err := m.OpenService(c.name)
	if err != nil {
		if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
			return fmt.Errorf("%w: %s", ErrNotInstalled, c.name)
		}

		return err
	}

	defer s.Close()

	return fn(s)
}

func (c *scmController) Query(_ context.Context) (Info, error) {
	var info Info

	err := c.withService(func(s *mgr.Service) error {
		status, err := s.Query()
		if err != nil {
			return err
		}

		info.State = stateFromSCM(status.State)
		info.CanStop = status.Accepts&svc.AcceptStop != 0
		info.Installed = true

		if cfg, err := s.Config(); err == nil {
			info.DisplayName = cfg.DisplayName
		}

		return nil
	})
	if errors.Is(err, ErrNotInstalled) {
		return Info{State: models.StateError}, nil
	}

	return info, err
}

func (c *scmController) Start(_ context.Context) error {
	return c.withService(func(s *mgr.Service) error {
		return s.Start()
	})
}

func (c *scmController) Stop(_ context.Context) error {
	return c.withService(func(s *mgr.Service) error {
		_, err := s.Control(svc.Stop)

		return err
	})
}

func stateFromSCM(state svc.State) models.ServiceState {
	switch state {
	case svc.Running:
		return models.StateRunning
	case svc.Stopped:
		return models.StateStopped
	case svc.Paused:
		return models.StatePaused
	case svc.StartPending:
		return models.StateStartPending
	case svc.StopPending:
		return models.StateStopPending
	case svc.PausePending:
		return models.StatePausePending
	case svc.ContinuePending:
		return models.StateContinuePending
	default:
		return models.StateError
	}
}
