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

// Package proxy wires the compiled configuration, router, load balancers,
// health checkers, and file servers together into the request-handling
// pipeline a listener actually serves.
package proxy

import (
	"net"

	"go.uber.org/zap"
)

// ConnectionFilter rejects inbound connections whose remote address falls
// inside a configured blocklist, checked once per accepted connection
// rather than per request.
type ConnectionFilter struct {
	blocked []*net.IPNet
}

// NewConnectionFilter builds a ConnectionFilter from a list of CIDR or bare
// IP strings. A bare IP is promoted to a /32 (IPv4) or /128 (IPv6) network,
// matching the single-address blocking case.
func NewConnectionFilter(entries []string, log *zap.Logger) *ConnectionFilter {
	if log == nil {
		log = zap.NewNop()
	}
	f := &ConnectionFilter{}
	for _, e := range entries {
		if _, ipnet, err := net.ParseCIDR(e); err == nil {
			f.blocked = append(f.blocked, ipnet)
			continue
		}
		ip := net.ParseIP(e)
		if ip == nil {
			log.Warn("ignoring invalid blocked_cidrs entry", zap.String("entry", e))
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		f.blocked = append(f.blocked, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return f
}

// Allow reports whether ip may connect. An empty filter always allows.
func (f *ConnectionFilter) Allow(ip net.IP) bool {
	if len(f.blocked) == 0 {
		return true
	}
	for _, n := range f.blocked {
		if n.Contains(ip) {
			return false
		}
	}
	return true
}

// FilteringListener wraps a net.Listener, silently dropping connections
// ConnectionFilter rejects and continuing to accept the next one.
type FilteringListener struct {
	net.Listener
	filter *ConnectionFilter
	log    *zap.Logger
}

// NewFilteringListener wraps inner with filter.
func NewFilteringListener(inner net.Listener, filter *ConnectionFilter, log *zap.Logger) *FilteringListener {
	if log == nil {
		log = zap.NewNop()
	}
	return &FilteringListener{Listener: inner, filter: filter, log: log}
}

// Accept returns the next connection whose remote IP the filter allows.
func (l *FilteringListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		ip := net.ParseIP(host)
		if err != nil || ip == nil {
			return conn, nil
		}

		if l.filter.Allow(ip) {
			return conn, nil
		}

		l.log.Debug("rejecting connection from blocked address", zap.String("remote", host))
		conn.Close()
	}
}
