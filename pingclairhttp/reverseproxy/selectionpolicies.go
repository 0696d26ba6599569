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
	"math/rand"
	"sync/atomic"
)

// Strategy selects which healthy upstream serves the next request.
type Strategy int

const (
	RoundRobin Strategy = iota
	Random
	LeastConn
	IPHash
	First
)

// ParseStrategy maps a compiled config's load-balance strategy string to
// the Strategy enum, defaulting to RoundRobin for an unrecognized or empty
// value. The compiler passes the strategy string through unchecked.
func ParseStrategy(s string) Strategy {
	switch s {
	case "random":
		return Random
	case "least_conn":
		return LeastConn
	case "ip_hash":
		return IPHash
	case "first":
		return First
	default:
		return RoundRobin
	}
}

// LoadBalancer selects an Upstream from a pool according to Strategy.
type LoadBalancer struct {
	pool     *UpstreamPool
	strategy Strategy
	counter  atomic.Uint64
}

// NewLoadBalancer builds a LoadBalancer over pool using strategy.
func NewLoadBalancer(pool *UpstreamPool, strategy Strategy) *LoadBalancer {
	return &LoadBalancer{pool: pool, strategy: strategy}
}

// Select picks a healthy upstream. key is the IP-hash input (client
// address octets); it may be nil, in which case IPHash degrades to
// RoundRobin. Returns nil if no upstream is currently healthy.
func (lb *LoadBalancer) Select(key []byte) *Upstream {
	healthy := lb.pool.Healthy()
	if len(healthy) == 0 {
		return nil
	}

	switch lb.strategy {
	case Random:
		return healthy[rand.Intn(len(healthy))]

	case First:
		return healthy[0]

	case LeastConn:
		best := healthy[0]
		for _, u := range healthy[1:] {
			if u.ActiveConnections() < best.ActiveConnections() {
				best = u
			}
		}
		return best

	case IPHash:
		if len(key) == 0 {
			return lb.roundRobin(healthy)
		}
		h := hashBytes(key)
		return healthy[h%uint64(len(healthy))]

	default: // RoundRobin
		return lb.roundRobin(healthy)
	}
}

func (lb *LoadBalancer) roundRobin(healthy []*Upstream) *Upstream {
	n := lb.counter.Add(1) - 1
	return healthy[n%uint64(len(healthy))]
}

// hashBytes is a small FNV-1a variant used only to distribute IP-hash
// selection; it need not be cryptographically strong.
func hashBytes(b []byte) uint64 {
	var h uint64 = 14695981039346656037
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}
