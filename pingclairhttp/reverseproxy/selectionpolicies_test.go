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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoundRobinAcrossTwoUpstreams(t *testing.T) {
	pool := NewUpstreamPool([]string{"a:1", "b:1"})
	lb := NewLoadBalancer(pool, RoundRobin)

	first := lb.Select(nil)
	second := lb.Select(nil)
	third := lb.Select(nil)

	require.Equal(t, first.Addr, third.Addr)
	require.NotEqual(t, first.Addr, second.Addr)
}

func TestRoundRobinFairnessOverManySelections(t *testing.T) {
	pool := NewUpstreamPool([]string{"a:1", "b:1", "c:1"})
	lb := NewLoadBalancer(pool, RoundRobin)

	counts := map[string]int{}
	const total = 3000
	for i := 0; i < total; i++ {
		counts[lb.Select(nil).Addr]++
	}
	for _, c := range counts {
		require.InDelta(t, total/3, c, 1)
	}
}

func TestLeastConnPicksFewestActiveConnections(t *testing.T) {
	pool := NewUpstreamPool([]string{"a:1", "b:1"})
	pool.upstreams[0].IncConnections()
	pool.upstreams[0].IncConnections()

	lb := NewLoadBalancer(pool, LeastConn)
	require.Equal(t, "b:1", lb.Select(nil).Addr)
}

func TestIPHashDegradesToRoundRobinWithoutKey(t *testing.T) {
	pool := NewUpstreamPool([]string{"a:1", "b:1"})
	lb := NewLoadBalancer(pool, IPHash)

	first := lb.Select(nil)
	second := lb.Select(nil)
	require.NotEqual(t, first.Addr, second.Addr)
}

func TestIPHashIsStableForSameKey(t *testing.T) {
	pool := NewUpstreamPool([]string{"a:1", "b:1", "c:1"})
	lb := NewLoadBalancer(pool, IPHash)

	key := []byte{192, 168, 1, 50}
	first := lb.Select(key)
	for i := 0; i < 10; i++ {
		require.Equal(t, first.Addr, lb.Select(key).Addr)
	}
}

func TestSelectReturnsNilWhenNoUpstreamHealthy(t *testing.T) {
	pool := NewUpstreamPool([]string{"a:1"})
	pool.upstreams[0].healthy.Store(false)

	lb := NewLoadBalancer(pool, RoundRobin)
	require.Nil(t, lb.Select(nil))
}

func TestHealthThresholds(t *testing.T) {
	pool := NewUpstreamPool([]string{"a:1"})
	u := pool.upstreams[0]
	u.healthy.Store(false)

	hc := NewHealthChecker(HealthCheckConfig{PositiveThreshold: 2, NegativeThreshold: 2}, nil)

	hc.recordResult(u, true)
	require.False(t, u.Healthy(), "one success must not flip unhealthy->healthy")
	hc.recordResult(u, true)
	require.True(t, u.Healthy(), "two consecutive successes must flip unhealthy->healthy")

	hc.recordResult(u, false)
	require.True(t, u.Healthy(), "one failure must not flip healthy->unhealthy")
	hc.recordResult(u, false)
	require.False(t, u.Healthy(), "two consecutive failures must flip healthy->unhealthy")
}

func TestParseStatusCode(t *testing.T) {
	code, ok := parseStatusCode("HTTP/1.1 204 No Content\r\n")
	require.True(t, ok)
	require.Equal(t, 204, code)

	_, ok = parseStatusCode("garbage")
	require.False(t, ok)
}

func TestParseStrategy(t *testing.T) {
	require.Equal(t, Random, ParseStrategy("random"))
	require.Equal(t, LeastConn, ParseStrategy("least_conn"))
	require.Equal(t, IPHash, ParseStrategy("ip_hash"))
	require.Equal(t, First, ParseStrategy("first"))
	require.Equal(t, RoundRobin, ParseStrategy("bogus"))
}

func TestUpstreamConnectionCounterNeverGoesNegative(t *testing.T) {
	u := NewUpstream("a:1")
	u.DecConnections()
	require.Equal(t, int64(0), u.ActiveConnections())
	_ = time.Second
}
