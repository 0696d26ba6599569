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

// Package pingclairtls implements certificate storage, ACME issuance, and
// TLS resolution: the pieces that let a server block request "tls" with no
// further configuration and receive a browser-trusted certificate.
package pingclairtls

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Certificate is the renewable unit the store persists: a PEM cert chain
// and key plus the domain set it covers and its expiry.
type Certificate struct {
	CertPEM   string   `json:"cert_pem"`
	KeyPEM    string   `json:"key_pem"`
	Domains   []string `json:"domains"`
	ExpiresAt int64    `json:"expires_at"`
}

// NeedsRenewal reports whether fewer than 30 days remain before expiry.
func (c Certificate) NeedsRenewal() bool {
	const renewalWindow = 30 * 24 * time.Hour
	return time.Unix(c.ExpiresAt, 0).Sub(time.Now()) < renewalWindow
}

// CertStore is a disk-backed, in-memory-cached certificate cache, one JSON
// file per primary domain under Path.
type CertStore struct {
	path string
	log  *zap.Logger

	mu    sync.RWMutex
	cache map[string]Certificate
}

// NewCertStore builds a CertStore rooted at path.
func NewCertStore(path string, log *zap.Logger) *CertStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &CertStore{path: path, log: log, cache: map[string]Certificate{}}
}

// DefaultCertStorePath returns the conventional certificate directory
// under the user's cache directory (os.UserCacheDir), falling back to the current
// directory when that cannot be determined.
func DefaultCertStorePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "pingclair", "certs")
}

// Init creates the storage directory and loads every persisted
// certificate into the in-memory cache.
func (s *CertStore) Init() error {
	if err := os.MkdirAll(s.path, 0o700); err != nil {
		return fmt.Errorf("create cert store directory: %w", err)
	}
	return s.loadAll()
}

func (s *CertStore) loadAll() error {
	entries, err := os.ReadDir(s.path)
	if err != nil {
		return fmt.Errorf("read cert store directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.path, e.Name()))
		if err != nil {
			continue
		}
		var cert Certificate
		if err := json.Unmarshal(data, &cert); err != nil {
			s.log.Warn("skipping corrupt certificate file", zap.String("file", e.Name()))
			continue
		}
		for _, domain := range cert.Domains {
			s.cache[domain] = cert
		}
		count++
	}

	s.log.Info("loaded certificates from disk", zap.Int("count", count))
	return nil
}

// Store persists cert to disk under its primary (first) domain and
// updates the cache for every domain it covers.
func (s *CertStore) Store(cert Certificate) error {
	if len(cert.Domains) == 0 {
		return fmt.Errorf("certificate has no domains")
	}
	primary := cert.Domains[0]

	data, err := json.MarshalIndent(cert, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal certificate: %w", err)
	}

	file := filepath.Join(s.path, strings.ReplaceAll(primary, ".", "_")+".json")
	if err := os.WriteFile(file, data, 0o600); err != nil {
		return fmt.Errorf("write certificate file: %w", err)
	}

	s.mu.Lock()
	for _, domain := range cert.Domains {
		s.cache[domain] = cert
	}
	s.mu.Unlock()

	s.log.Info("stored certificate", zap.String("domain", primary), zap.Int("domains", len(cert.Domains)))
	return nil
}

// Get returns the cached certificate for domain, if any.
func (s *CertStore) Get(domain string) (Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.cache[domain]
	return cert, ok
}

// HasValid reports whether domain has a cached certificate that does not
// yet need renewal.
func (s *CertStore) HasValid(domain string) bool {
	cert, ok := s.Get(domain)
	return ok && !cert.NeedsRenewal()
}

// GetNeedingRenewal returns one Certificate per distinct domain set that
// is cached and within its renewal window.
func (s *CertStore) GetNeedingRenewal() []Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	var out []Certificate
	for _, cert := range s.cache {
		key := strings.Join(cert.Domains, ",")
		if seen[key] || !cert.NeedsRenewal() {
			continue
		}
		seen[key] = true
		out = append(out, cert)
	}
	return out
}

// Remove deletes the certificate covering domain from disk and cache.
func (s *CertStore) Remove(domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, ok := s.cache[domain]
	if !ok {
		return nil
	}

	if len(cert.Domains) > 0 {
		file := filepath.Join(s.path, strings.ReplaceAll(cert.Domains[0], ".", "_")+".json")
		os.Remove(file)
	}
	for _, d := range cert.Domains {
		delete(s.cache, d)
	}
	return nil
}
