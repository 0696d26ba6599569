// Copyright 2026 Pingclair Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pingclairtls

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHSTSHeaderDefault(t *testing.T) {
	cfg := AutoHTTPSConfig{HSTS: true, HSTSMaxAge: 31536000}
	require.Equal(t, "max-age=31536000", cfg.HSTSHeader())
}

func TestHSTSHeaderDisabled(t *testing.T) {
	cfg := AutoHTTPSConfig{HSTS: false, HSTSMaxAge: 31536000}
	require.Equal(t, "", cfg.HSTSHeader())
}

func TestHSTSHeaderWithSubdomainsAndPreload(t *testing.T) {
	cfg := AutoHTTPSConfig{HSTS: true, HSTSMaxAge: 600, HSTSIncludeSubdomains: true, HSTSPreload: true}
	require.Equal(t, "max-age=600; includeSubDomains; preload", cfg.HSTSHeader())
}

func TestAutoHTTPSReturnsCachedCertificateWithoutIssuing(t *testing.T) {
	store := NewCertStore(t.TempDir(), nil)
	require.NoError(t, store.Init())
	require.NoError(t, store.Store(Certificate{
		CertPEM: "c", KeyPEM: "k", Domains: []string{"cached.example.com"},
		ExpiresAt: time.Now().Add(60 * 24 * time.Hour).Unix(),
	}))

	auto := NewAutoHTTPS(DefaultAutoHTTPSConfig(), nil, store, nil, nil)
	cert, err := auto.GetCertificate(context.Background(), "cached.example.com")
	require.NoError(t, err)
	require.Equal(t, "c", cert.CertPEM)
}

func TestAutoHTTPSHasCertificate(t *testing.T) {
	store := NewCertStore(t.TempDir(), nil)
	require.NoError(t, store.Init())
	require.NoError(t, store.Store(Certificate{
		CertPEM: "c", KeyPEM: "k", Domains: []string{"valid.example.com"},
		ExpiresAt: time.Now().Add(60 * 24 * time.Hour).Unix(),
	}))

	auto := NewAutoHTTPS(DefaultAutoHTTPSConfig(), nil, store, nil, nil)
	require.True(t, auto.HasCertificate("valid.example.com"))
	require.False(t, auto.HasCertificate("missing.example.com"))
}
