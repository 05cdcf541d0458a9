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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/svcwatch/pkg/logger"
	"github.com/carverauto/svcwatch/pkg/models"
)

// writeTestPKI writes root, server and client certificates into dir.
func writeTestPKI(t *testing.T, dir string) {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"svcwatch test CA"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	require.NoError(t, err)

	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	writePEM(t, filepath.Join(dir, "root.pem"), "CERTIFICATE", caDER)

	issue := func(name string, serial int64, usage x509.ExtKeyUsage) {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)

		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(serial),
			Subject:      pkix.Name{CommonName: name},
			NotBefore:    time.Now().Add(-time.Minute),
			NotAfter:     time.Now().Add(time.Hour),
			KeyUsage:     x509.KeyUsageDigitalSignature,
			ExtKeyUsage:  []x509.ExtKeyUsage{usage},
			DNSNames:     []string{"localhost"},
			IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		}

		der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, &key.PublicKey, caKey)
		require.NoError(t, err)

		keyDER, err := x509.MarshalECPrivateKey(key)
		require.NoError(t, err)

		writePEM(t, filepath.Join(dir, name+".pem"), "CERTIFICATE", der)
		writePEM(t, filepath.Join(dir, name+"-key.pem"), "EC PRIVATE KEY", keyDER)
	}

	issue("server", 2, x509.ExtKeyUsageServerAuth)
	issue("client", 3, x509.ExtKeyUsageClientAuth)
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), 0o600))
}

func TestNewSecurityProvider(t *testing.T) {
	log := logger.NewTestLogger()

	p, err := NewSecurityProvider(context.Background(), nil, log)
	require.NoError(t, err)
	assert.IsType(t, &NoSecurityProvider{}, p)

	_, err = NewSecurityProvider(context.Background(), &models.SecurityConfig{Mode: "kerberos"}, log)
	require.ErrorIs(t, err, errUnknownSecurityMode)

	_, err = NewSecurityProvider(context.Background(), &models.SecurityConfig{Mode: models.SecurityModeMTLS}, log)
	require.ErrorIs(t, err, errSecurityConfigRequired)
}

func TestMTLSProviderLoadsCredentials(t *testing.T) {
	dir := t.TempDir()
	writeTestPKI(t, dir)

	cfg := &models.SecurityConfig{
		Mode:       models.SecurityModeMTLS,
		CertDir:    dir,
		ServerName: "localhost",
		TLS: models.TLSConfig{
			CertFile: "client.pem",
			KeyFile:  "client-key.pem",
			CAFile:   "root.pem",
		},
	}

	p, err := NewSecurityProvider(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)

	defer func() { _ = p.Close() }()

	dialOpt, err := p.GetClientCredentials(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, dialOpt)

	serverCfg := *cfg
	serverCfg.TLS.CertFile = "server.pem"
	serverCfg.TLS.KeyFile = "server-key.pem"

	sp, err := NewMTLSProvider(&serverCfg, logger.NewTestLogger())
	require.NoError(t, err)

	serverOpt, err := sp.GetServerCredentials(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, serverOpt)
}

func TestMTLSProviderMissingCA(t *testing.T) {
	dir := t.TempDir()
	writeTestPKI(t, dir)

	cfg := &models.SecurityConfig{
		Mode:    models.SecurityModeMTLS,
		CertDir: dir,
		TLS:     models.TLSConfig{CertFile: "client.pem", KeyFile: "client-key.pem", CAFile: "missing.pem"},
	}

	p, err := NewMTLSProvider(cfg, logger.NewTestLogger())
	require.NoError(t, err)

	_, err = p.GetClientCredentials(context.Background())
	require.ErrorIs(t, err, errFailedToLoadClientCreds)
	require.ErrorIs(t, err, errFailedToReadCACert)
}
