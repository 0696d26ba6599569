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
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pingclair/pingclair/internal/metrics"
)

type cachedCert struct {
	cert      tls.Certificate
	expiresAt time.Time
	cachedAt  time.Time
}

// Manager resolves a *tls.Certificate for a ClientHello's SNI name,
// checking in order: manually configured certificates, a parsed-key
// cache with a TTL, then AutoHTTPS (ACME) on a cache miss.
type Manager struct {
	log       *zap.Logger
	autoHTTPS *AutoHTTPS
	cacheTTL  time.Duration

	mu     sync.RWMutex
	manual map[string]tls.Certificate
	parsed map[string]*cachedCert
}

// NewManager builds a Manager. autoHTTPS may be nil, in which case only
// manually configured certificates are ever served.
func NewManager(autoHTTPS *AutoHTTPS, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		log:       log,
		autoHTTPS: autoHTTPS,
		cacheTTL:  time.Hour,
		manual:    map[string]tls.Certificate{},
		parsed:    map[string]*cachedCert{},
	}
}

// SetCacheTTL overrides the default one-hour parsed-certificate cache TTL.
func (m *Manager) SetCacheTTL(ttl time.Duration) {
	m.mu.Lock()
	m.cacheTTL = ttl
	m.mu.Unlock()
}

// AddManualCertificate registers a certificate loaded from disk (the
// server block's "tls <cert> <key>" form) under domain, taking priority
// over anything ACME would otherwise issue for that name.
func (m *Manager) AddManualCertificate(domain string, cert tls.Certificate) {
	m.mu.Lock()
	m.manual[domain] = cert
	m.mu.Unlock()
}

// GetCertificate implements tls.Config.GetCertificate.
func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	domain := hello.ServerName
	if domain == "" {
		return nil, fmt.Errorf("no SNI server name in ClientHello")
	}

	m.mu.RLock()
	if cert, ok := m.manual[domain]; ok {
		m.mu.RUnlock()
		return &cert, nil
	}

	if cached, ok := m.parsed[domain]; ok && time.Now().Before(cached.expiresAt) {
		m.mu.RUnlock()
		return &cached.cert, nil
	}
	m.mu.RUnlock()

	if m.autoHTTPS == nil {
		return nil, fmt.Errorf("no certificate available for %s", domain)
	}

	cert, err := m.autoHTTPS.GetCertificate(hello.Context(), domain)
	if err != nil {
		return nil, err
	}

	tlsCert, err := tls.X509KeyPair([]byte(cert.CertPEM), []byte(cert.KeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse issued certificate for %s: %w", domain, err)
	}

	m.mu.Lock()
	m.parsed[domain] = &cachedCert{cert: tlsCert, expiresAt: time.Now().Add(m.cacheTTL), cachedAt: time.Now()}
	m.mu.Unlock()

	metrics.M.CertificateExpirySecs.WithLabelValues(domain).Set(time.Unix(cert.ExpiresAt, 0).Sub(time.Now()).Seconds())

	return &tlsCert, nil
}

// CleanupExpiredCache drops parsed-certificate cache entries whose TTL
// has elapsed, freeing memory for domains no longer actively served.
func (m *Manager) CleanupExpiredCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for domain, c := range m.parsed {
		if now.After(c.expiresAt) {
			delete(m.parsed, domain)
		}
	}
}
