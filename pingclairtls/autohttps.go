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
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pingclair/pingclair/internal/metrics"
)

// AutoHTTPSConfig configures automatic certificate issuance and the HSTS
// header AutoHTTPS-protected servers advertise.
type AutoHTTPSConfig struct {
	Enabled               bool
	Staging               bool
	Email                 string
	RenewalInterval       time.Duration
	HSTS                  bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	HSTSPreload           bool
}

// DefaultAutoHTTPSConfig mirrors the defaults of a bare "auto_https" with
// no further tuning: a 12-hour renewal sweep and a one-year HSTS max-age.
func DefaultAutoHTTPSConfig() AutoHTTPSConfig {
	return AutoHTTPSConfig{
		Enabled:         true,
		RenewalInterval: 12 * time.Hour,
		HSTSMaxAge:      31536000,
	}
}

// HSTSHeader formats the Strict-Transport-Security header value, or ""
// when HSTS is disabled.
func (c AutoHTTPSConfig) HSTSHeader() string {
	if !c.HSTS {
		return ""
	}
	v := "max-age=" + strconv.Itoa(c.HSTSMaxAge)
	if c.HSTSIncludeSubdomains {
		v += "; includeSubDomains"
	}
	if c.HSTSPreload {
		v += "; preload"
	}
	return v
}

// AutoHTTPS coordinates ACME issuance: it checks the certificate store
// first, then issues (at most once per domain concurrently, via
// singleflight) through an AcmeClient, storing the result back.
type AutoHTTPS struct {
	cfg     AutoHTTPSConfig
	acme    *AcmeClient
	store   *CertStore
	handler ChallengeHandler
	log     *zap.Logger

	group singleflight.Group
}

// NewAutoHTTPS builds an AutoHTTPS coordinator.
func NewAutoHTTPS(cfg AutoHTTPSConfig, acmeClient *AcmeClient, store *CertStore, handler ChallengeHandler, log *zap.Logger) *AutoHTTPS {
	if log == nil {
		log = zap.NewNop()
	}
	return &AutoHTTPS{cfg: cfg, acme: acmeClient, store: store, handler: handler, log: log}
}

// GetCertificate returns a valid certificate for domain, issuing one via
// ACME if the store has none or the cached one is due for renewal.
//
// Concurrent calls for the same domain share a single in-flight ACME
// order rather than racing to obtain one each, which is what the
// original's explicit "already being obtained" error was guarding
// against; singleflight gives every caller the shared result instead of
// failing the losers outright.
func (a *AutoHTTPS) GetCertificate(ctx context.Context, domain string) (Certificate, error) {
	if cert, ok := a.store.Get(domain); ok && !cert.NeedsRenewal() {
		return cert, nil
	}

	v, err, _ := a.group.Do(domain, func() (interface{}, error) {
		if cert, ok := a.store.Get(domain); ok && !cert.NeedsRenewal() {
			return cert, nil
		}

		cert, err := a.acme.ObtainCertificate(ctx, []string{domain}, a.handler)
		if err != nil {
			return Certificate{}, fmt.Errorf("obtain certificate for %s: %w", domain, err)
		}
		if err := a.store.Store(cert); err != nil {
			return Certificate{}, fmt.Errorf("store certificate for %s: %w", domain, err)
		}
		metrics.M.CertificatesIssued.WithLabelValues(domain).Inc()
		return cert, nil
	})
	if err != nil {
		return Certificate{}, err
	}
	return v.(Certificate), nil
}

// HasCertificate reports whether domain currently has a valid certificate
// cached, without triggering issuance.
func (a *AutoHTTPS) HasCertificate(domain string) bool {
	return a.store.HasValid(domain)
}

// StartRenewalLoop periodically renews every certificate nearing expiry
// until ctx is cancelled.
func (a *AutoHTTPS) StartRenewalLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(a.cfg.RenewalInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.renewDue(ctx)
			}
		}
	}()
}

func (a *AutoHTTPS) renewDue(ctx context.Context) {
	for _, cert := range a.store.GetNeedingRenewal() {
		if len(cert.Domains) == 0 {
			continue
		}
		if _, err := a.GetCertificate(ctx, cert.Domains[0]); err != nil {
			a.log.Error("certificate renewal failed", zap.String("domain", cert.Domains[0]), zap.Error(err))
		}
	}
}
