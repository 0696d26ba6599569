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

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUnderLimit(t *testing.T) {
	l := New(Config{RequestsPerWindow: 10, WindowSeconds: 60, ByIP: true, Burst: 0})

	for i := 0; i < 10; i++ {
		allowed, _ := l.Allow("192.168.1.1")
		require.True(t, allowed)
	}

	allowed, info := l.Allow("192.168.1.1")
	require.False(t, allowed)
	require.Equal(t, int64(10), info.Limit)
}

func TestLimiterTracksKeysIndependently(t *testing.T) {
	l := New(Config{RequestsPerWindow: 5, WindowSeconds: 60, ByIP: true, Burst: 0})

	for i := 0; i < 5; i++ {
		allowed, _ := l.Allow("192.168.1.1")
		require.True(t, allowed)
	}
	allowed, _ := l.Allow("192.168.1.1")
	require.False(t, allowed)

	for i := 0; i < 5; i++ {
		allowed, _ := l.Allow("192.168.1.2")
		require.True(t, allowed, "a distinct key must have its own bucket")
	}
}

func TestLimiterGlobalModeIgnoresKey(t *testing.T) {
	l := New(Config{RequestsPerWindow: 3, WindowSeconds: 60, ByIP: false, Burst: 0})

	for i := 0; i < 3; i++ {
		allowed, _ := l.Allow("any-key")
		require.True(t, allowed)
	}
	allowed, _ := l.Allow("different-key")
	require.False(t, allowed, "global mode must share one bucket across keys")
}

func TestLimiterEmptyKeyFallsBackToUnknownBucket(t *testing.T) {
	l := New(Config{RequestsPerWindow: 2, WindowSeconds: 60, ByIP: true, Burst: 0})

	allowed, _ := l.Allow("")
	require.True(t, allowed)
	allowed, _ = l.Allow("")
	require.True(t, allowed)
	allowed, _ = l.Allow("")
	require.False(t, allowed)
}

func TestCleanupRemovesStaleBuckets(t *testing.T) {
	l := New(Config{RequestsPerWindow: 10, WindowSeconds: 60, ByIP: true, Burst: 0})
	l.Allow("stale-key")

	l.mu.Lock()
	l.buckets["stale-key"].lastUsed = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	l.Cleanup(time.Minute)

	l.mu.Lock()
	_, exists := l.buckets["stale-key"]
	l.mu.Unlock()
	require.False(t, exists)
}

func TestInfoHeaders(t *testing.T) {
	info := Info{Limit: 100, Remaining: 42, ResetAfter: 5 * time.Second}
	h := info.Headers()
	require.Equal(t, "100", h["X-RateLimit-Limit"])
	require.Equal(t, "42", h["X-RateLimit-Remaining"])
	require.Equal(t, "5", h["Retry-After"])
}
