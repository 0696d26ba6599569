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

package pingclairconfig

import (
	"strconv"
	"strings"
)

// Compile lowers a validated typed AST into the runtime PingclairConfig.
func Compile(ast *Ast) (*PingclairConfig, error) {
	cfg := &PingclairConfig{}

	if ast.Global != nil {
		for _, d := range ast.Global.Directives {
			switch d.Name {
			case "email":
				if len(d.Args) == 1 {
					cfg.Global.Email = d.Args[0]
				}
			case "auto_https":
				cfg.Global.AutoHTTPS = len(d.Args) == 0 || d.Args[0] != "off"
			case "staging":
				cfg.Global.Staging = true
			case "debug":
				cfg.Debug = true
			}
		}
	} else {
		cfg.Global.AutoHTTPS = true
	}

	for _, sb := range ast.Servers {
		sc, err := compileServer(sb)
		if err != nil {
			return nil, err
		}
		cfg.Servers = append(cfg.Servers, *sc)
	}

	return cfg, nil
}

func compileServer(sb *ServerBlock) (*ServerConfig, error) {
	sc := &ServerConfig{
		Name:               sb.Name,
		CompressAlgorithms: sb.Compress,
	}

	for _, l := range sb.Listens {
		sc.Listen = append(sc.Listen, l)
		if l.Scheme == "https" {
			sc.TLS = &TLSConfig{}
		}
	}
	if sb.Bind != "" && len(sc.Listen) == 0 {
		sc.Listen = append(sc.Listen, ListenAddr{Scheme: "http", Host: sb.Bind})
	}

	for _, d := range sb.Directives {
		switch d.Name {
		case "client_max_body_size":
			if len(d.Args) == 1 {
				if n, err := strconv.ParseInt(d.Args[0], 10, 64); err == nil {
					sc.ClientMaxBodySize = n
				}
			}
		case "tls":
			tls := &TLSConfig{}
			if len(d.Args) == 2 {
				tls.Manual = true
				tls.CertFile = d.Args[0]
				tls.KeyFile = d.Args[1]
			}
			sc.TLS = tls
		}
	}

	for idx, arm := range sb.Routes {
		rc, err := compileRoute(sb, arm, idx)
		if err != nil {
			return nil, err
		}
		sc.Routes = append(sc.Routes, *rc)
	}

	return sc, nil
}

func compileRoute(sb *ServerBlock, arm RouteArm, index int) (*RouteConfig, error) {
	rc := &RouteConfig{Path: "/*"}

	if arm.Matcher != nil {
		if p, ok := findPathPattern(sb, arm.Matcher); ok {
			rc.Path = p
		}
		m := compileMatcher(sb, arm.Matcher)
		rc.Matcher = &m
	}

	hc, err := compileHandler(arm.Handler)
	if err != nil {
		return nil, CompileError{Kind: InvalidRoute, Detail: "route " + strconv.Itoa(index) + ": " + err.Error()}
	}
	rc.Handler = hc

	return rc, nil
}

// findPathPattern walks Path/Named/And/Or nodes to find the first literal
// path pattern reachable from the matcher, defaulting the caller to "/*".
func findPathPattern(sb *ServerBlock, m ASTMatcher) (string, bool) {
	switch v := m.(type) {
	case PathMatcherNode:
		if len(v.Patterns) > 0 {
			return v.Patterns[0], true
		}
	case NamedMatcherNode:
		if resolved, ok := sb.Matchers[v.Name]; ok {
			return findPathPattern(sb, resolved)
		}
	case AndMatcherNode:
		if p, ok := findPathPattern(sb, v.Left); ok {
			return p, true
		}
		return findPathPattern(sb, v.Right)
	case OrMatcherNode:
		if p, ok := findPathPattern(sb, v.Left); ok {
			return p, true
		}
		return findPathPattern(sb, v.Right)
	}
	return "", false
}

// compileMatcher recursively lowers the typed AST matcher into the
// JSON-serializable runtime Matcher. An unresolved Named reference falls
// back to an always-true wildcard path matcher rather than failing
// compilation, per the documented fallback behavior.
func compileMatcher(sb *ServerBlock, m ASTMatcher) Matcher {
	switch v := m.(type) {
	case PathMatcherNode:
		return Matcher{Path: v.Patterns}
	case HeaderMatcherNode:
		return Matcher{Header: &HeaderMatch{Name: v.Name, Condition: v.Condition, Value: v.Value}}
	case MethodMatcherNode:
		return Matcher{Method: upperAll(v.Methods)}
	case QueryMatcherNode:
		return Matcher{Query: &HeaderMatch{Name: v.Name, Condition: v.Condition, Value: v.Value}}
	case HostMatcherNode:
		return Matcher{Host: v.Hosts}
	case RemoteIPMatcherNode:
		return Matcher{RemoteIP: v.CIDRs}
	case ProtocolMatcherNode:
		return Matcher{Protocol: v.Protocols}
	case NamedMatcherNode:
		if resolved, ok := sb.Matchers[v.Name]; ok {
			return compileMatcher(sb, resolved)
		}
		return Matcher{Path: []string{"/*"}}
	case AndMatcherNode:
		return Matcher{And: []Matcher{compileMatcher(sb, v.Left), compileMatcher(sb, v.Right)}}
	case OrMatcherNode:
		return Matcher{Or: []Matcher{compileMatcher(sb, v.Left), compileMatcher(sb, v.Right)}}
	case NotMatcherNode:
		inner := compileMatcher(sb, v.Inner)
		return Matcher{Not: &inner}
	default:
		return Matcher{Path: []string{"/*"}}
	}
}

// renderHeaderExprs rewrites a header_up/header_down value map so any
// brace-wrapped variable expression ("{req.remote_ip}") becomes the
// "${req.remote_ip}" placeholder a VariableResolver substitutes at request
// time, per the header_up/header_down lowering rule. A literal value (no
// surrounding braces) is copied through unchanged. The input map is never
// mutated in place, since it may be the AST node's own map.
func renderHeaderExprs(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if expr, ok := variableExprPath(v); ok {
			out[k] = "${" + expr + "}"
		} else {
			out[k] = v
		}
	}
	return out
}

// variableExprPath reports whether a header_up/header_down value, as
// written in the Caddyfile, is a brace-wrapped variable expression
// ("{remote_host}") rather than a literal string, returning the path
// inside the braces.
func variableExprPath(s string) (string, bool) {
	if len(s) > 2 && strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s[1 : len(s)-1], true
	}
	return "", false
}

func upperAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = upper(s)
	}
	return out
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// compileHandler lowers one typed-AST handler node into HandlerConfig.
func compileHandler(h ASTHandler) (HandlerConfig, error) {
	switch v := h.(type) {
	case ProxyHandlerNode:
		cfg := v.Config
		cfg.HeadersUp = renderHeaderExprs(cfg.HeadersUp)
		cfg.HeadersDown = renderHeaderExprs(cfg.HeadersDown)
		return HandlerConfig{Type: HandlerReverseProxy, ReverseProxy: &cfg}, nil
	case RespondHandlerNode:
		return HandlerConfig{Type: HandlerRespond, Respond: &RespondConfig{Status: v.Status, Body: v.Body, Headers: v.Headers}}, nil
	case RedirectHandlerNode:
		return HandlerConfig{Type: HandlerRedirect, Redirect: &RedirectConfig{To: v.To, Code: v.Code}}, nil
	case HeadersHandlerNode:
		return HandlerConfig{Type: HandlerHeaders, Headers: &HeadersConfig{Set: v.Set, Add: v.Add, Remove: v.Remove}}, nil
	case FileServerHandlerNode:
		return HandlerConfig{Type: HandlerFileServer, FileServer: &FileServerConfig{
			Root: v.Root, Index: v.Index, Browse: v.Browse, Compress: v.Compress, Precompressed: true,
		}}, nil
	case PipelineHandlerNode:
		var children []HandlerConfig
		for _, ch := range v.Handlers {
			c, err := compileHandler(ch)
			if err != nil {
				return HandlerConfig{}, err
			}
			children = append(children, c)
		}
		return HandlerConfig{Type: HandlerPipeline, Pipeline: children}, nil
	case HandleHandlerNode:
		return HandlerConfig{Type: HandlerHandle}, nil
	case PluginHandlerNode:
		return HandlerConfig{Type: HandlerPlugin, Plugin: &PluginConfig{Name: v.Name, Args: v.Args}}, nil
	case RateLimitHandlerNode:
		cfg := v.Config
		return HandlerConfig{Type: HandlerRateLimit, RateLimit: &cfg}, nil
	default:
		return HandlerConfig{}, CompileError{Kind: UnsupportedFeature, Detail: "unsupported handler node"}
	}
}
