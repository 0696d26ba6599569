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

package reverseproxy

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pingclair/pingclair/internal/metrics"
)

// HealthCheckConfig configures an active health checker.
type HealthCheckConfig struct {
	Path              string
	Interval          time.Duration
	Timeout           time.Duration
	PositiveThreshold int32
	NegativeThreshold int32
	ExpectedStatusMin int
	ExpectedStatusMax int
	HTTPCheck         bool
}

// DefaultHealthCheckConfig mirrors the original's defaults: a 2xx HTTP
// check against "/" every 10 seconds with a 2s timeout.
func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		Path:              "/",
		Interval:          10 * time.Second,
		Timeout:           2 * time.Second,
		PositiveThreshold: 2,
		NegativeThreshold: 3,
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 299,
		HTTPCheck:         true,
	}
}

// HealthChecker periodically probes every upstream in a pool and flips
// its healthy flag once a consecutive-success/failure threshold is met.
type HealthChecker struct {
	cfg HealthCheckConfig
	log *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// NewHealthChecker builds a HealthChecker for cfg.
func NewHealthChecker(cfg HealthCheckConfig, log *zap.Logger) *HealthChecker {
	if log == nil {
		log = zap.NewNop()
	}
	return &HealthChecker{cfg: cfg, log: log}
}

// Start launches the periodic probe loop in a background goroutine. It is
// idempotent-safe to call Stop multiple times.
func (hc *HealthChecker) Start(pool *UpstreamPool) {
	ctx, cancel := context.WithCancel(context.Background())
	hc.mu.Lock()
	hc.cancel = cancel
	hc.mu.Unlock()

	go func() {
		ticker := time.NewTicker(hc.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hc.probeAll(ctx, pool)
			}
		}
	}()
}

// Stop cancels the background probe loop.
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if hc.cancel != nil && !hc.stopped {
		hc.cancel()
		hc.stopped = true
	}
}

func (hc *HealthChecker) probeAll(ctx context.Context, pool *UpstreamPool) {
	var wg sync.WaitGroup
	for _, u := range pool.All() {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			hc.probeOne(ctx, u)
		}()
	}
	wg.Wait()
}

func (hc *HealthChecker) probeOne(ctx context.Context, u *Upstream) {
	ok := hc.check(ctx, u.Addr)
	hc.recordResult(u, ok)
}

func (hc *HealthChecker) recordResult(u *Upstream, ok bool) {
	wasHealthy := u.Healthy()

	if ok {
		u.consecutiveFail.Store(0)
		n := u.consecutiveOK.Add(1)
		if !wasHealthy && n >= hc.cfg.PositiveThreshold {
			u.healthy.Store(true)
			metrics.M.UpstreamHealthy.WithLabelValues(u.Addr).Set(1)
			hc.log.Info("upstream became healthy", zap.String("addr", u.Addr))
		}
		return
	}

	u.consecutiveOK.Store(0)
	n := u.consecutiveFail.Add(1)
	if wasHealthy && n >= hc.cfg.NegativeThreshold {
		u.healthy.Store(false)
		metrics.M.UpstreamHealthy.WithLabelValues(u.Addr).Set(0)
		hc.log.Warn("upstream became unhealthy", zap.String("addr", u.Addr))
	}
}

// check performs a single probe: a raw TCP connect, optionally followed
// by a minimal HTTP/1.1 GET whose status line is parsed against the
// configured expected-status range.
func (hc *HealthChecker) check(ctx context.Context, addr string) bool {
	dialCtx, cancel := context.WithTimeout(ctx, hc.cfg.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return false
	}
	defer conn.Close()

	if !hc.cfg.HTTPCheck {
		return true
	}

	conn.SetDeadline(time.Now().Add(hc.cfg.Timeout))

	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", hc.cfg.Path, addr)
	if _, err := conn.Write([]byte(req)); err != nil {
		return false
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	status, ok := parseStatusCode(statusLine)
	if !ok {
		return false
	}
	return status >= hc.cfg.ExpectedStatusMin && status <= hc.cfg.ExpectedStatusMax
}

// parseStatusCode extracts the numeric status from an HTTP/1.x status
// line ("HTTP/1.1 200 OK\r\n").
func parseStatusCode(line string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(parts) < 2 {
		return 0, false
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return code, true
}
