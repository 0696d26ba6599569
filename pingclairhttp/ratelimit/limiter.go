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

// Package ratelimit implements per-key (by default per-IP) and global
// request rate limiting using a token-bucket algorithm, one bucket per
// key, built on golang.org/x/time/rate.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config mirrors pingclairconfig.RateLimitConfig; kept distinct so this
// package carries no dependency on the config pipeline.
type Config struct {
	RequestsPerWindow float64
	WindowSeconds     float64
	Burst             int
	ByIP              bool
}

// Info describes a rate-limit decision, formatted for X-RateLimit-* /
// Retry-After response headers.
type Info struct {
	Limit      int64
	Remaining  int64
	ResetAfter time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Limiter holds one token bucket per key (typically client IP) plus a
// single global bucket used when Config.ByIP is false.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*bucket
	global  *bucket
}

// New builds a Limiter from cfg.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		global:  newBucket(cfg),
	}
}

func newBucket(cfg Config) *bucket {
	limit := rate.Limit(cfg.RequestsPerWindow / cfg.WindowSeconds)
	capacity := int(cfg.RequestsPerWindow) + cfg.Burst
	if capacity <= 0 {
		capacity = 1
	}
	return &bucket{limiter: rate.NewLimiter(limit, capacity), lastUsed: time.Now()}
}

// Allow reports whether a request identified by key (ignored when
// Config.ByIP is false) may proceed. An empty key is treated as an
// "unknown" bucket, matching the documented fallback for requests with
// no determinable client address.
func (l *Limiter) Allow(key string) (bool, Info) {
	if !l.cfg.ByIP {
		return l.allowBucket(l.global)
	}

	if key == "" {
		key = "unknown"
	}

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(l.cfg)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	return l.allowBucket(b)
}

func (l *Limiter) allowBucket(b *bucket) (bool, Info) {
	b.lastUsed = time.Now()
	allowed := b.limiter.Allow()

	tokens := b.limiter.Tokens()
	remaining := int64(tokens)
	if remaining < 0 {
		remaining = 0
	}

	var resetAfter time.Duration
	capacity := int(l.cfg.RequestsPerWindow) + l.cfg.Burst
	if tokens < float64(capacity) {
		deficit := float64(capacity) - tokens
		rps := l.cfg.RequestsPerWindow / l.cfg.WindowSeconds
		if rps > 0 {
			resetAfter = time.Duration(deficit/rps*1000) * time.Millisecond
		}
	}

	return allowed, Info{
		Limit:      int64(l.cfg.RequestsPerWindow),
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}
}

// Cleanup removes per-key buckets that have not been used within maxAge,
// preventing unbounded growth of the key map under many distinct clients.
func (l *Limiter) Cleanup(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for key, b := range l.buckets {
		if now.Sub(b.lastUsed) >= maxAge {
			delete(l.buckets, key)
		}
	}
}

// Headers formats Info as the response headers clients use to inspect
// their current rate-limit state.
func (i Info) Headers() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     itoa(i.Limit),
		"X-RateLimit-Remaining": itoa(i.Remaining),
		"Retry-After":           itoa(int64(i.ResetAfter.Seconds())),
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
