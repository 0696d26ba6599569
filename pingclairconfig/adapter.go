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

	"github.com/pingclair/pingclair/caddyfile"
)

// Adapt lowers a generic directive tree (the parser's output) into the
// typed AST.
func Adapt(directives []caddyfile.Directive) (*Ast, error) {
	ast := &Ast{}
	sawGlobal := false

	for _, dir := range directives {
		if dir.Name == "" || dir.Name == "global" || dir.Name == "options" {
			if sawGlobal {
				return nil, AdapterError{Kind: DuplicateGlobal, Detail: "duplicate global block", File: dir.File, Line: dir.Line}
			}
			sawGlobal = true
			ast.Global = &GlobalBlock{Directives: dir.Block}
			continue
		}

		if dir.Name == "macro" {
			if len(dir.Args) < 1 {
				return nil, AdapterError{Kind: ArgumentCount, Detail: "macro requires a name", File: dir.File, Line: dir.Line}
			}
			ast.Macros = append(ast.Macros, MacroDef{
				Name:   dir.Args[0],
				Params: dir.Args[1:],
				Body:   dir.Block,
			})
			continue
		}

		server, err := adaptServer(dir)
		if err != nil {
			return nil, err
		}
		ast.Servers = append(ast.Servers, server)
	}

	return ast, nil
}

// adaptServer lowers one top-level site directive into a ServerBlock.
func adaptServer(dir caddyfile.Directive) (*ServerBlock, error) {
	sb := &ServerBlock{Matchers: map[string]ASTMatcher{}}

	candidates := append([]string{dir.Name}, dir.Args...)
	for _, c := range candidates {
		if addr, ok := parseListenAddr(c); ok {
			sb.Listens = append(sb.Listens, addr)
		}
	}

	sb.Name = dir.Name
	if len(sb.Listens) > 1 || strings.HasPrefix(dir.Name, ":") {
		sb.Name = "_"
	}

	for _, inner := range dir.Block {
		if err := adaptServerDirective(sb, inner); err != nil {
			return nil, err
		}
	}
	sb.Directives = dir.Block

	return sb, nil
}

func adaptServerDirective(sb *ServerBlock, dir caddyfile.Directive) error {
	switch {
	case dir.Name == "bind":
		if len(dir.Args) != 1 {
			return AdapterError{Kind: ArgumentCount, Detail: "bind expects exactly one address", File: dir.File, Line: dir.Line}
		}
		sb.Bind = dir.Args[0]
		return nil

	case dir.Name == "listen":
		if len(dir.Args) != 1 {
			return AdapterError{Kind: ArgumentCount, Detail: "listen expects exactly one address", File: dir.File, Line: dir.Line}
		}
		addr, ok := parseListenAddr(dir.Args[0])
		if !ok {
			return AdapterError{Kind: InvalidArgument, Detail: "invalid listen address: " + dir.Args[0], File: dir.File, Line: dir.Line}
		}
		sb.Listens = append(sb.Listens, addr)
		return nil

	case dir.Name == "compress":
		for _, arg := range dir.Args {
			switch strings.ToLower(arg) {
			case "gzip", "br", "zstd":
				sb.Compress = append(sb.Compress, strings.ToLower(arg))
			}
		}
		return nil

	case strings.HasPrefix(dir.Name, "@"):
		m, err := adaptNamedMatcherDef(dir)
		if err != nil {
			return err
		}
		sb.Matchers[strings.TrimPrefix(dir.Name, "@")] = m
		return nil

	case dir.Name == "route" || dir.Name == "handle":
		return adaptRouteBlock(sb, dir)

	default:
		return adaptBareHandlerDirective(sb, dir)
	}
}

// adaptNamedMatcherDef handles both block form (@name { path /x \n method POST })
// and inline form (@name path /x).
func adaptNamedMatcherDef(dir caddyfile.Directive) (ASTMatcher, error) {
	if len(dir.Block) > 0 {
		var combined ASTMatcher
		for _, sub := range dir.Block {
			m, err := matcherFromDirective(sub)
			if err != nil {
				return nil, err
			}
			if combined == nil {
				combined = m
			} else {
				combined = AndMatcherNode{Left: combined, Right: m}
			}
		}
		return combined, nil
	}

	if len(dir.Args) < 1 {
		return nil, AdapterError{Kind: ArgumentCount, Detail: "named matcher requires a condition", File: dir.File, Line: dir.Line}
	}
	return matcherFromDirective(caddyfile.Directive{Name: dir.Args[0], Args: dir.Args[1:], File: dir.File, Line: dir.Line})
}

// matcherFromDirective lowers a single matcher-condition directive (as used
// inside a named-matcher block) into an ASTMatcher leaf.
func matcherFromDirective(dir caddyfile.Directive) (ASTMatcher, error) {
	switch dir.Name {
	case "path":
		return PathMatcherNode{Patterns: dir.Args}, nil
	case "method":
		return MethodMatcherNode{Methods: dir.Args}, nil
	case "host":
		return HostMatcherNode{Hosts: dir.Args}, nil
	case "remote_ip":
		return RemoteIPMatcherNode{CIDRs: dir.Args}, nil
	case "protocol":
		return ProtocolMatcherNode{Protocols: dir.Args}, nil
	case "header":
		return headerConditionMatcher(dir, false)
	case "query":
		return headerConditionMatcher(dir, true)
	default:
		return nil, AdapterError{Kind: UnknownDirective, Detail: "unknown matcher condition: " + dir.Name, File: dir.File, Line: dir.Line}
	}
}

// headerConditionMatcher parses `header <name> [cond] [value]` (or query)
// into a leaf matcher node. With only a name given, the condition is
// Exists.
func headerConditionMatcher(dir caddyfile.Directive, isQuery bool) (ASTMatcher, error) {
	if len(dir.Args) < 1 {
		return nil, AdapterError{Kind: ArgumentCount, Detail: dir.Name + " requires a name", File: dir.File, Line: dir.Line}
	}
	name := dir.Args[0]
	cond := CondExists
	value := ""
	if len(dir.Args) >= 3 {
		cond = HeaderCondition(dir.Args[1])
		value = dir.Args[2]
	} else if len(dir.Args) == 2 {
		cond = CondEquals
		value = dir.Args[1]
	}
	if isQuery {
		return QueryMatcherNode{Name: name, Condition: cond, Value: value}, nil
	}
	return HeaderMatcherNode{Name: name, Condition: cond, Value: value}, nil
}

// adaptRouteBlock handles `route`/`handle [@name] { handlers... }`.
func adaptRouteBlock(sb *ServerBlock, dir caddyfile.Directive) error {
	var matcher ASTMatcher
	if len(dir.Args) > 0 && strings.HasPrefix(dir.Args[0], "@") {
		name := strings.TrimPrefix(dir.Args[0], "@")
		m, ok := sb.Matchers[name]
		if !ok {
			// deferred to semantic analysis (UndefinedMacro-style check
			// happens there); keep a placeholder reference for now
			matcher = NamedMatcherNode{Name: name}
		} else {
			matcher = m
		}
	}

	handlers, err := adaptHandlerBlock(sb, dir.Block)
	if err != nil {
		return err
	}

	var handler ASTHandler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = PipelineHandlerNode{Handlers: handlers}
	}

	sb.Routes = append(sb.Routes, RouteArm{Matcher: matcher, Handler: handler})
	return nil
}

// adaptBareHandlerDirective handles a top-level handler directive outside
// any route/handle block, with an optional leading "@name" matcher arg.
func adaptBareHandlerDirective(sb *ServerBlock, dir caddyfile.Directive) error {
	args := dir.Args
	var matcher ASTMatcher
	if len(args) > 0 && strings.HasPrefix(args[0], "@") {
		name := strings.TrimPrefix(args[0], "@")
		if m, ok := sb.Matchers[name]; ok {
			matcher = m
		} else {
			matcher = NamedMatcherNode{Name: name}
		}
		args = args[1:]
	}

	handler, err := adaptHandler(sb, dir.Name, args, dir.Block, dir)
	if err != nil {
		return err
	}
	if handler == nil {
		return nil
	}

	sb.Routes = append(sb.Routes, RouteArm{Matcher: matcher, Handler: handler})
	return nil
}

func adaptHandlerBlock(sb *ServerBlock, dirs []caddyfile.Directive) ([]ASTHandler, error) {
	var handlers []ASTHandler
	for _, d := range dirs {
		h, err := adaptHandler(sb, d.Name, d.Args, d.Block, d)
		if err != nil {
			return nil, err
		}
		if h != nil {
			handlers = append(handlers, h)
		}
	}
	return handlers, nil
}

// adaptHandler lowers one handler directive by name into its typed node.
func adaptHandler(sb *ServerBlock, name string, args []string, block []caddyfile.Directive, dir caddyfile.Directive) (ASTHandler, error) {
	switch name {
	case "reverse_proxy":
		if len(args) == 0 {
			return nil, AdapterError{Kind: ArgumentCount, Detail: "reverse_proxy requires at least one upstream", File: dir.File, Line: dir.Line}
		}
		cfg := ReverseProxyConfig{Upstreams: args, HeadersUp: map[string]string{}, HeadersDown: map[string]string{}}
		for _, sub := range block {
			switch sub.Name {
			case "lb_policy":
				if len(sub.Args) == 1 {
					cfg.LoadBalance.Strategy = sub.Args[0]
				}
			case "health_uri":
				if cfg.HealthCheck == nil {
					cfg.HealthCheck = &HealthCheckConfig{PositiveThreshold: 2, NegativeThreshold: 3}
				}
				if len(sub.Args) == 1 {
					cfg.HealthCheck.Path = sub.Args[0]
				}
			case "header_up":
				if len(sub.Args) == 2 {
					cfg.HeadersUp[sub.Args[0]] = sub.Args[1]
				}
			case "header_down":
				if len(sub.Args) == 2 {
					cfg.HeadersDown[sub.Args[0]] = sub.Args[1]
				}
			case "flush_interval":
				if len(sub.Args) == 1 {
					if sub.Args[0] == "-1" || sub.Args[0] == "immediate" {
						cfg.FlushInterval = -1
					}
				}
			}
		}
		return ProxyHandlerNode{Config: cfg}, nil

	case "respond":
		status := 200
		body := ""
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil && len(args) > 1 {
				status = n
				body = args[1]
			} else {
				body = args[0]
			}
		}
		return RespondHandlerNode{Status: status, Body: body, Headers: map[string]string{}}, nil

	case "redirect":
		if len(args) < 1 {
			return nil, AdapterError{Kind: ArgumentCount, Detail: "redirect requires a target", File: dir.File, Line: dir.Line}
		}
		code := 302
		if len(args) > 1 {
			if n, err := strconv.Atoi(args[1]); err == nil {
				code = n
			}
		}
		return RedirectHandlerNode{To: args[0], Code: code}, nil

	case "file_server":
		fs := FileServerHandlerNode{Index: []string{"index.html"}}
		if len(args) > 0 {
			fs.Root = args[0]
		}
		for _, sub := range block {
			switch sub.Name {
			case "root":
				if len(sub.Args) == 1 {
					fs.Root = sub.Args[0]
				}
			case "index":
				fs.Index = sub.Args
			case "browse":
				fs.Browse = true
			}
		}
		return fs, nil

	case "headers":
		h := HeadersHandlerNode{Set: map[string]string{}, Add: map[string]string{}}
		for _, sub := range block {
			switch sub.Name {
			case "set", "header":
				if len(sub.Args) == 2 {
					h.Set[sub.Args[0]] = sub.Args[1]
				}
			case "add":
				if len(sub.Args) == 2 {
					h.Add[sub.Args[0]] = sub.Args[1]
				}
			case "remove":
				h.Remove = append(h.Remove, sub.Args...)
			}
		}
		return h, nil

	case "rate_limit":
		rl := RateLimitConfig{RequestsPerWindow: 100, WindowSeconds: 60, Burst: 10, ByIP: true}
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				rl.RequestsPerWindow = n
			}
		}
		return RateLimitHandlerNode{Config: rl}, nil

	case "call":
		if len(args) < 1 {
			return nil, AdapterError{Kind: ArgumentCount, Detail: "call requires a macro name", File: dir.File, Line: dir.Line}
		}
		return MacroCallHandlerNode{Name: args[0], Args: args[1:]}, nil

	case "\n":
		return nil, nil

	default:
		return PluginHandlerNode{Name: name, Args: args}, nil
	}
}

// parseListenAddr recognizes ":8080", "host:port", "host", and scheme-
// prefixed forms ("https://example.com") as listen addresses.
func parseListenAddr(s string) (ListenAddr, bool) {
	s = strings.Trim(s, `"`)
	if s == "" {
		return ListenAddr{}, false
	}

	scheme := "http"
	rest := s
	if strings.HasPrefix(s, "https://") {
		scheme = "https"
		rest = s[len("https://"):]
	} else if strings.HasPrefix(s, "http://") {
		scheme = "http"
		rest = s[len("http://"):]
	}

	if strings.HasPrefix(rest, ":") {
		port, err := strconv.Atoi(rest[1:])
		if err != nil {
			return ListenAddr{}, false
		}
		return ListenAddr{Scheme: scheme, Host: "0.0.0.0", Port: port}, true
	}

	host := rest
	port := 0
	if idx := strings.LastIndex(rest, ":"); idx != -1 {
		if p, err := strconv.Atoi(rest[idx+1:]); err == nil {
			host = rest[:idx]
			port = p
		}
	}

	if !looksLikeHost(host) {
		return ListenAddr{}, false
	}
	if port == 0 && scheme == "https" {
		port = 443
	}
	return ListenAddr{Scheme: scheme, Host: host, Port: port}, true
}

func looksLikeHost(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '.' || r == '-' || r == '_' || r == '*' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
