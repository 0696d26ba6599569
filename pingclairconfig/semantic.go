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
	"fmt"
	"strings"

	"github.com/pingclair/pingclair/caddyfile"
)

// Analyze runs the two-pass semantic analysis described for the config
// pipeline: building the macro and server-name tables, then expanding
// macro calls and validating each server's route invariants.
func Analyze(ast *Ast) error {
	macros := map[string]MacroDef{}
	for _, m := range ast.Macros {
		if _, dup := macros[m.Name]; dup {
			return SemanticError{Kind: DuplicateMacro, Detail: "duplicate macro: " + m.Name}
		}
		macros[m.Name] = m
	}

	names := map[string]bool{}
	for _, sb := range ast.Servers {
		if sb.Name != "" && sb.Name != "_" {
			if names[sb.Name] {
				return SemanticError{Kind: DuplicateServer, Detail: "duplicate server name: " + sb.Name}
			}
			names[sb.Name] = true
		}
	}

	for _, sb := range ast.Servers {
		if err := expandMacros(sb, macros); err != nil {
			return err
		}
		if err := validateServer(sb); err != nil {
			return err
		}
	}

	return nil
}

// expandMacros replaces any route whose handler is an unresolved plugin
// call matching a known macro name with the macro body, substituting
// formal parameters with the actual call arguments.
func expandMacros(sb *ServerBlock, macros map[string]MacroDef) error {
	var expanded []RouteArm

	for _, arm := range sb.Routes {
		var name string
		var callArgs []string
		hardFail := false

		switch h := arm.Handler.(type) {
		case MacroCallHandlerNode:
			name, callArgs, hardFail = h.Name, h.Args, true
		case PluginHandlerNode:
			name, callArgs = h.Name, h.Args
		default:
			expanded = append(expanded, arm)
			continue
		}

		macro, ok := macros[name]
		if !ok {
			if hardFail {
				return SemanticError{Kind: UndefinedMacro, Detail: "undefined macro: " + name}
			}
			expanded = append(expanded, arm)
			continue
		}

		if len(callArgs) != len(macro.Params) {
			return SemanticError{
				Kind:   MacroArgCountMismatch,
				Detail: fmt.Sprintf("macro %s expects %d argument(s), got %d", macro.Name, len(macro.Params), len(callArgs)),
			}
		}

		bindings := map[string]string{}
		for i, p := range macro.Params {
			bindings[strings.TrimPrefix(p, "$")] = callArgs[i]
		}

		bodyDirs := substituteDirectives(macro.Body, bindings)
		handlers, err := adaptHandlerBlock(sb, bodyDirs)
		if err != nil {
			return err
		}

		// merge any Headers{set} handler produced by macro expansion
		// into the proxy handler it sits alongside, per the analyzer's
		// documented responsibility of folding expanded header sets
		// into the route's reverse-proxy config.
		handlers = mergeHeadersIntoProxy(handlers)

		for _, h := range handlers {
			expanded = append(expanded, RouteArm{Matcher: arm.Matcher, Handler: h})
		}
	}

	sb.Routes = expanded
	return nil
}

// mergeHeadersIntoProxy folds a HeadersHandlerNode's Set map into an
// adjacent ProxyHandlerNode's HeadersUp, matching the analyzer's merge of
// expanded Headers{set} into the proxy's header_up map. A Headers node
// with nothing but Set entries is dropped once merged.
func mergeHeadersIntoProxy(handlers []ASTHandler) []ASTHandler {
	var proxyIdx = -1
	var headersIdx = -1
	var headerSets map[string]string

	for i, h := range handlers {
		switch v := h.(type) {
		case ProxyHandlerNode:
			proxyIdx = i
		case HeadersHandlerNode:
			headerSets = v.Set
			headersIdx = i
		}
	}

	if proxyIdx == -1 || headerSets == nil {
		return handlers
	}

	proxy := handlers[proxyIdx].(ProxyHandlerNode)
	if proxy.Config.HeadersUp == nil {
		proxy.Config.HeadersUp = map[string]string{}
	}
	for k, v := range headerSets {
		proxy.Config.HeadersUp[k] = v
	}
	handlers[proxyIdx] = proxy
	if hn := handlers[headersIdx].(HeadersHandlerNode); len(hn.Add) == 0 && len(hn.Remove) == 0 {
		handlers = append(handlers[:headersIdx], handlers[headersIdx+1:]...)
	}
	return handlers
}

// substituteDirectives replaces "$name" tokens in directive args (and
// recursively within nested blocks) with the bound actual argument.
func substituteDirectives(dirs []caddyfile.Directive, bindings map[string]string) []caddyfile.Directive {
	out := make([]caddyfile.Directive, len(dirs))
	for i, d := range dirs {
		nd := d
		nd.Args = make([]string, len(d.Args))
		for j, a := range d.Args {
			nd.Args[j] = substituteToken(a, bindings)
		}
		if len(d.Block) > 0 {
			nd.Block = substituteDirectives(d.Block, bindings)
		}
		out[i] = nd
	}
	return out
}

func substituteToken(tok string, bindings map[string]string) string {
	if strings.HasPrefix(tok, "$") {
		if v, ok := bindings[strings.TrimPrefix(tok, "$")]; ok {
			return v
		}
	}
	return tok
}

// validateServer checks the listen/routes and default-arm invariants, and
// that every route's @name reference names a matcher the server defines.
func validateServer(sb *ServerBlock) error {
	if len(sb.Listens) == 0 && len(sb.Routes) == 0 {
		return SemanticError{Kind: InvalidConfig, Detail: "server " + sb.Name + " has neither a listener nor any routes"}
	}

	defaults := 0
	for _, arm := range sb.Routes {
		if arm.Matcher == nil {
			defaults++
		}
		if named, ok := arm.Matcher.(NamedMatcherNode); ok {
			if _, defined := sb.Matchers[named.Name]; !defined {
				return SemanticError{Kind: UnresolvedNamedMatcher, Detail: "server " + sb.Name + " references undefined matcher @" + named.Name}
			}
		}
	}
	if defaults > 1 {
		return SemanticError{Kind: TooManyDefaultRoutes, Detail: "server " + sb.Name + " has more than one default route arm"}
	}

	return nil
}
