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

// Package reverseproxy implements the upstream pool, load-balancing
// strategies, and active health checking used by a reverse-proxy route
// handler.
package reverseproxy

import (
	"sync/atomic"

	"github.com/pingclair/pingclair/internal/metrics"
)

// Upstream is a single backend address, shared by reference between the
// request path and the health checker. Its mutable fields are atomics so
// neither path needs to take a lock.
type Upstream struct {
	Addr string
	// Weight is reserved for a future weighted-selection strategy; the
	// strategies implemented today all treat upstreams uniformly.
	Weight int

	healthy           atomic.Bool
	activeConnections atomic.Int64
	consecutiveOK     atomic.Int32
	consecutiveFail   atomic.Int32
}

// NewUpstream constructs an Upstream, healthy by default so a newly
// reloaded route can serve traffic before its first health probe runs.
func NewUpstream(addr string) *Upstream {
	u := &Upstream{Addr: addr}
	u.healthy.Store(true)
	metrics.M.UpstreamHealthy.WithLabelValues(addr).Set(1)
	return u
}

func (u *Upstream) Healthy() bool { return u.healthy.Load() }

// SetHealthy overrides the health flag directly, bypassing the threshold
// logic a HealthChecker applies. Used for manual draining and in tests.
func (u *Upstream) SetHealthy(healthy bool) { u.healthy.Store(healthy) }

func (u *Upstream) ActiveConnections() int64 { return u.activeConnections.Load() }

func (u *Upstream) IncConnections() {
	metrics.M.UpstreamActiveConns.WithLabelValues(u.Addr).Set(float64(u.activeConnections.Add(1)))
}

func (u *Upstream) DecConnections() {
	if u.activeConnections.Add(-1) < 0 {
		u.activeConnections.Store(0)
	}
	metrics.M.UpstreamActiveConns.WithLabelValues(u.Addr).Set(float64(u.activeConnections.Load()))
}

// UpstreamPool holds the full set of backends configured for a route; the
// load balancer queries it for the currently healthy subset.
type UpstreamPool struct {
	upstreams []*Upstream
}

// NewUpstreamPool builds a pool from a list of backend addresses.
func NewUpstreamPool(addrs []string) *UpstreamPool {
	p := &UpstreamPool{}
	for _, a := range addrs {
		p.upstreams = append(p.upstreams, NewUpstream(a))
	}
	return p
}

// All returns every configured upstream, healthy or not.
func (p *UpstreamPool) All() []*Upstream {
	return p.upstreams
}

// Healthy returns the subset of upstreams currently marked healthy.
func (p *UpstreamPool) Healthy() []*Upstream {
	var out []*Upstream
	for _, u := range p.upstreams {
		if u.Healthy() {
			out = append(out, u)
		}
	}
	return out
}
