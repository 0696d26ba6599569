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

import "github.com/pingclair/pingclair/caddyfile"

// Ast is the typed abstract syntax tree produced by the adapter, consumed
// by the semantic analyzer and then the compiler.
type Ast struct {
	Global  *GlobalBlock
	Servers []*ServerBlock
	Macros  []MacroDef
}

// GlobalBlock holds the options set by the nameless top-level directive
// (or "global"/"options").
type GlobalBlock struct {
	Directives []caddyfile.Directive
}

// MacroDef is a reusable, parameterized directive fragment. Caddyfile
// itself has no macro directive; this is carried over from the original
// pingclair DSL as a supplemental feature available to semantic analysis.
type MacroDef struct {
	Name   string
	Params []string
	Body   []caddyfile.Directive
}

// ServerBlock is one top-level site block in the typed AST.
type ServerBlock struct {
	Name        string
	Listens     []ListenAddr
	Bind        string
	Compress    []string
	Routes      []RouteArm
	Matchers    map[string]ASTMatcher
	Directives  []caddyfile.Directive
	ExplicitTLS *TLSConfig
}

// RouteArm pairs an optional matcher with the handler it guards.
type RouteArm struct {
	Matcher ASTMatcher // nil means "default" (matcher = None)
	Handler ASTHandler
}

// ASTMatcher is the typed-AST matcher sum type. Concrete types below each
// implement the marker method.
type ASTMatcher interface {
	astMatcherNode()
}

type PathMatcherNode struct{ Patterns []string }
type HeaderMatcherNode struct {
	Name      string
	Condition HeaderCondition
	Value     string
}
type MethodMatcherNode struct{ Methods []string }
type QueryMatcherNode struct {
	Name      string
	Condition HeaderCondition
	Value     string
}
type HostMatcherNode struct{ Hosts []string }
type RemoteIPMatcherNode struct{ CIDRs []string }
type ProtocolMatcherNode struct{ Protocols []string }
type NamedMatcherNode struct{ Name string }
type AndMatcherNode struct{ Left, Right ASTMatcher }
type OrMatcherNode struct{ Left, Right ASTMatcher }
type NotMatcherNode struct{ Inner ASTMatcher }

func (PathMatcherNode) astMatcherNode()     {}
func (HeaderMatcherNode) astMatcherNode()   {}
func (MethodMatcherNode) astMatcherNode()   {}
func (QueryMatcherNode) astMatcherNode()    {}
func (HostMatcherNode) astMatcherNode()     {}
func (RemoteIPMatcherNode) astMatcherNode() {}
func (ProtocolMatcherNode) astMatcherNode() {}
func (NamedMatcherNode) astMatcherNode()    {}
func (AndMatcherNode) astMatcherNode()      {}
func (OrMatcherNode) astMatcherNode()       {}
func (NotMatcherNode) astMatcherNode()      {}

// ASTHandler is the typed-AST handler sum type.
type ASTHandler interface {
	astHandlerNode()
}

type ProxyHandlerNode struct{ Config ReverseProxyConfig }
type RespondHandlerNode struct {
	Status  int
	Body    string
	Headers map[string]string
}
type RedirectHandlerNode struct {
	To   string
	Code int
}
type HeadersHandlerNode struct {
	Set    map[string]string
	Add    map[string]string
	Remove []string
}
type FileServerHandlerNode struct {
	Root     string
	Index    []string
	Browse   bool
	Compress bool
}
type PipelineHandlerNode struct{ Handlers []ASTHandler }
type HandleHandlerNode struct{ Directives []caddyfile.Directive }
type PluginHandlerNode struct {
	Name string
	Args []string
}
type RateLimitHandlerNode struct{ Config RateLimitConfig }

// MacroCallHandlerNode is an explicit "call <name> [args...]" invocation, as
// opposed to a bare directive name that merely happens to collide with a
// macro (PluginHandlerNode). Only this node is hard-failed by the analyzer
// when the name doesn't resolve; a bare unknown directive stays an inert
// plugin passthrough.
type MacroCallHandlerNode struct {
	Name string
	Args []string
}

func (ProxyHandlerNode) astHandlerNode()      {}
func (RespondHandlerNode) astHandlerNode()    {}
func (RedirectHandlerNode) astHandlerNode()   {}
func (HeadersHandlerNode) astHandlerNode()    {}
func (FileServerHandlerNode) astHandlerNode() {}
func (PipelineHandlerNode) astHandlerNode()   {}
func (HandleHandlerNode) astHandlerNode()     {}
func (PluginHandlerNode) astHandlerNode()     {}
func (RateLimitHandlerNode) astHandlerNode()  {}
func (MacroCallHandlerNode) astHandlerNode()  {}
