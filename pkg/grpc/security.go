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
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
)

// SecurityProvider supplies transport credentials for both ends of the agent channel.
type SecurityProvider interface {
	GetClientCredentials(ctx context.Context) (grpc.DialOption, error)
	GetServerCredentials(ctx context.Context) (grpc.ServerOption, error)
	Close() error
}

// NewSecurityProvider picks the provider for cfg.Mode. A nil cfg means no security.
func NewSecurityProvider(_ context.Context, cfg *models.SecurityConfig, log logger.Logger) (SecurityProvider, error) {
	if cfg == nil || cfg.Mode == "" || cfg.Mode == models.SecurityModeNone {
		log.Warn().Msg("Transport security disabled")

		return &NoSecurityProvider{}, nil
	}

	switch cfg.Mode {
	case models.SecurityModeMTLS:
		return NewMTLSProvider(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownSecurityMode, cfg.Mode)
	}
}

// NoSecurityProvider implements SecurityProvider with no security (development only).
type NoSecurityProvider struct{}

func (*NoSecurityProvider) GetClientCredentials(context.Context) (grpc.DialOption, error) {
	return grpc.WithTransportCredentials(insecure.NewCredentials()), nil
}

func (*NoSecurityProvider) GetServerCredentials(context.Context) (grpc.ServerOption, error) {
	return grpc.Creds(insecure.NewCredentials()), nil
}

func (*NoSecurityProvider) Close() error {
	return nil
}

// MTLSProvider implements SecurityProvider with mutual TLS. The monitor only
// dials and the agent only serves, so each side's credentials load lazily.
type MTLSProvider struct {
	config *models.SecurityConfig
	logger logger.Logger
}

// NewMTLSProvider creates a new MTLSProvider with the given configuration.
func NewMTLSProvider(config *models.SecurityConfig, log logger.Logger) (*MTLSProvider, error) {
	if config == nil {
		return nil, errSecurityConfigRequired
	}

	if config.TLS.CertFile == "" || config.TLS.KeyFile == "" || config.TLS.CAFile == "" {
		return nil, fmt.Errorf("%w: mtls requires tls.cert_file, tls.key_file and tls.ca_file",
			errSecurityConfigRequired)
	}

	return &MTLSProvider{config: config, logger: log}, nil
}

func (p *MTLSProvider) GetClientCredentials(_ context.Context) (grpc.DialOption, error) {
	creds, err := loadClientCredentials(p.config, p.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToLoadClientCreds, err)
	}

	return grpc.WithTransportCredentials(creds), nil
}

func (p *MTLSProvider) GetServerCredentials(_ context.Context) (grpc.ServerOption, error) {
	creds, err := loadServerCredentials(p.config, p.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToLoadServerCreds, err)
	}

	return grpc.Creds(creds), nil
}

func (*MTLSProvider) Close() error {
	return nil
}

func resolvePath(config *models.SecurityConfig, path string) string {
	if path == "" || filepath.IsAbs(path) || config.CertDir == "" {
		return path
	}

	return filepath.Join(config.CertDir, path)
}

func loadCertPool(path string, readErr, appendErr error) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", readErr, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: no certificates in %s", appendErr, path)
	}

	return pool, nil
}

func loadClientCredentials(config *models.SecurityConfig, log logger.Logger) (credentials.TransportCredentials, error) {
	certPath := resolvePath(config, config.TLS.CertFile)
	keyPath := resolvePath(config, config.TLS.KeyFile)
	caPath := resolvePath(config, config.TLS.CAFile)

	log.Debug().Str("cert_path", certPath).Str("ca_path", caPath).Msg("Loading client certificate")

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToLoadClientCert, err)
	}

	caPool, err := loadCertPool(caPath, errFailedToReadCACert, errFailedToAppendCACert)
	if err != nil {
		return nil, err
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		ServerName:   config.ServerName,
		MinVersion:   tls.VersionTLS13,
	}), nil
}

func loadServerCredentials(config *models.SecurityConfig, log logger.Logger) (credentials.TransportCredentials, error) {
	certPath := resolvePath(config, config.TLS.CertFile)
	keyPath := resolvePath(config, config.TLS.KeyFile)

	clientCAPath := resolvePath(config, config.TLS.ClientCAFile)
	if clientCAPath == "" {
		clientCAPath = resolvePath(config, config.TLS.CAFile)
	}

	log.Debug().Str("cert_path", certPath).Str("client_ca_path", clientCAPath).Msg("Loading server certificate")

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToLoadServerCert, err)
	}

	clientCAs, err := loadCertPool(clientCAPath, errFailedToReadClientCACert, errFailedToAppendClientCACert)
	if err != nil {
		return nil, err
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    clientCAs,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}), nil
}
