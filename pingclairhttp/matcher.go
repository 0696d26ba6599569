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

// Package pingclairhttp implements the request routing engine: a radix
// path index composed with a boolean matcher tree, evaluated once per
// request the way the legacy Caddy httpserver package's ifRequestMatcher
// composed its match operators.
package pingclairhttp

import (
	"net"
	"strings"

	"github.com/pingclair/pingclair/pingclairconfig"
)

// MatchRequest is the subset of an inbound request the matcher tree
// evaluates against. It is transport-agnostic so both HTTP/1.1-2 and H3
// request paths can share one evaluator.
type MatchRequest struct {
	Path      string
	Method    string
	Host      string
	RemoteIP  string
	Protocol  string
	Header    func(name string) (string, bool)
	Query     func(name string) (string, bool)
}

// evaluate recursively walks a compiled matcher tree against req. It is
// deterministic and side-effect free, so repeated calls over the same
// (matcher, request) pair are referentially transparent.
func evaluate(m *pingclairconfig.Matcher, req MatchRequest, regexes map[string]*cachedRegex) bool {
	if m == nil {
		return true
	}

	switch {
	case m.Path != nil:
		return matchPathPatterns(m.Path, req.Path)

	case m.Header != nil:
		v, ok := req.Header(m.Header.Name)
		return evaluateCondition(*m.Header, v, ok, regexes)

	case m.Method != nil:
		return containsFold(m.Method, req.Method)

	case m.Query != nil:
		v, ok := req.Query(m.Query.Name)
		return evaluateCondition(*m.Query, v, ok, regexes)

	case m.Host != nil:
		return containsFold(m.Host, req.Host)

	case m.RemoteIP != nil:
		return matchRemoteIP(m.RemoteIP, req.RemoteIP)

	case m.Protocol != nil:
		return containsFold(m.Protocol, req.Protocol)

	case m.And != nil:
		for i := range m.And {
			if !evaluate(&m.And[i], req, regexes) {
				return false
			}
		}
		return true

	case m.Or != nil:
		for i := range m.Or {
			if evaluate(&m.Or[i], req, regexes) {
				return true
			}
		}
		return false

	case m.Not != nil:
		return !evaluate(m.Not, req, regexes)
	}

	// an empty matcher node (e.g. an unresolved Named fallback that
	// wasn't rewritten to a wildcard path) matches everything
	return true
}

func evaluateCondition(hm pingclairconfig.HeaderMatch, value string, present bool, regexes map[string]*cachedRegex) bool {
	switch hm.Condition {
	case pingclairconfig.CondExists:
		return present
	case pingclairconfig.CondEquals:
		return present && value == hm.Value
	case pingclairconfig.CondContains:
		return present && strings.Contains(value, hm.Value)
	case pingclairconfig.CondStartsWith:
		return present && strings.HasPrefix(value, hm.Value)
	case pingclairconfig.CondEndsWith:
		return present && strings.HasSuffix(value, hm.Value)
	case pingclairconfig.CondRegex:
		if !present {
			return false
		}
		cr, ok := regexes[hm.Value]
		if !ok || cr.err != nil {
			return false
		}
		return cr.re.MatchString(value)
	default:
		return false
	}
}

// matchPathPatterns implements the glob rules: "X/*" matches paths
// starting with "X", trailing "*" matches by prefix, otherwise exact.
func matchPathPatterns(patterns []string, path string) bool {
	for _, p := range patterns {
		if matchOnePathPattern(p, path) {
			return true
		}
	}
	return false
}

func matchOnePathPattern(pattern, path string) bool {
	switch {
	case pattern == "/*" || pattern == "*":
		return true
	case strings.HasSuffix(pattern, "/*"):
		prefix := strings.TrimSuffix(pattern, "/*")
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(path, strings.TrimSuffix(pattern, "*"))
	default:
		return path == pattern
	}
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

func matchRemoteIP(cidrs []string, remoteIP string) bool {
	ip := net.ParseIP(remoteIP)
	if ip == nil {
		return false
	}
	for _, c := range cidrs {
		if _, network, err := net.ParseCIDR(normalizeCIDR(c)); err == nil {
			if network.Contains(ip) {
				return true
			}
		} else if single := net.ParseIP(c); single != nil && single.Equal(ip) {
			return true
		}
	}
	return false
}

// normalizeCIDR promotes a bare IP to a /32 or /128 so net.ParseCIDR can
// parse it uniformly with actual CIDR blocks.
func normalizeCIDR(s string) string {
	if strings.Contains(s, "/") {
		return s
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	if ip.To4() != nil {
		return s + "/32"
	}
	return s + "/128"
}
