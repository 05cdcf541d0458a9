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

package grpc

import (
	"errors"
	"fmt"
)

var (
	errInternalError          = fmt.Errorf("internal error")
	errHealthServerRegistered = fmt.Errorf("health server already registered")
	errServerStopped          = errors.New("server stopped")
	errMarshal                = errors.New("json marshal")
	errUnmarshal              = errors.New("json unmarshal")

	errSecurityConfigRequired     = errors.New("security config required")
	errUnknownSecurityMode        = errors.New("unknown security mode")
	errFailedToLoadClientCreds    = errors.New("failed to load client credentials")
	errFailedToLoadServerCreds    = errors.New("failed to load server credentials")
	errFailedToLoadClientCert     = errors.New("failed to load client certificate")
	errFailedToLoadServerCert     = errors.New("failed to load server certificate")
	errFailedToReadCACert         = errors.New("failed to read CA certificate")
	errFailedToAppendCACert       = errors.New("failed to append CA certificate")
	errFailedToReadClientCACert   = errors.New("failed to read client CA certificate")
	errFailedToAppendClientCACert = errors.New("failed to append client CA certificate")
)
