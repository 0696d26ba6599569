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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pingclair/pingclair/caddyfile"
)

func TestAnalyzeExpandsMacroCallIntoProxyHandler(t *testing.T) {
	dirs, err := caddyfile.Parse("Caddyfile", []byte(
		"macro upstream_pool $backend {\n"+
			"\treverse_proxy $backend\n"+
			"}\n"+
			"example.com {\n"+
			"\tupstream_pool localhost:4000\n"+
			"}"))
	require.NoError(t, err)
	ast, err := Adapt(dirs)
	require.NoError(t, err)
	require.NoError(t, Analyze(ast))

	sb := ast.Servers[0]
	require.Len(t, sb.Routes, 1)
	proxy, ok := sb.Routes[0].Handler.(ProxyHandlerNode)
	require.True(t, ok)
	require.Equal(t, []string{"localhost:4000"}, proxy.Config.Upstreams)
}

func TestAnalyzeRejectsMacroArgCountMismatch(t *testing.T) {
	dirs, err := caddyfile.Parse("Caddyfile", []byte(
		"macro upstream_pool $backend {\n"+
			"\treverse_proxy $backend\n"+
			"}\n"+
			"example.com {\n"+
			"\tupstream_pool\n"+
			"}"))
	require.NoError(t, err)
	ast, err := Adapt(dirs)
	require.NoError(t, err)

	err = Analyze(ast)
	require.Error(t, err)
	var semErr SemanticError
	require.ErrorAs(t, err, &semErr)
	require.Equal(t, MacroArgCountMismatch, semErr.Kind)
}

func TestAnalyzeRejectsDuplicateMacro(t *testing.T) {
	dirs, err := caddyfile.Parse("Caddyfile", []byte(
		"macro dup {\n\trespond ok\n}\n"+
			"macro dup {\n\trespond ok\n}\n"+
			"example.com {\n\trespond ok\n}"))
	require.NoError(t, err)
	ast, err := Adapt(dirs)
	require.NoError(t, err)

	err = Analyze(ast)
	require.Error(t, err)
	var semErr SemanticError
	require.ErrorAs(t, err, &semErr)
	require.Equal(t, DuplicateMacro, semErr.Kind)
}

func TestAnalyzeMergesExpandedHeadersIntoProxy(t *testing.T) {
	dirs, err := caddyfile.Parse("Caddyfile", []byte(
		"macro traced_proxy $backend {\n"+
			"\theaders {\n"+
			"\t\tset X-Trace on\n"+
			"\t}\n"+
			"\treverse_proxy $backend\n"+
			"}\n"+
			"example.com {\n"+
			"\ttraced_proxy localhost:4000\n"+
			"}"))
	require.NoError(t, err)
	ast, err := Adapt(dirs)
	require.NoError(t, err)
	require.NoError(t, Analyze(ast))

	sb := ast.Servers[0]
	require.Len(t, sb.Routes, 1)
	proxy, ok := sb.Routes[0].Handler.(ProxyHandlerNode)
	require.True(t, ok)
	require.Equal(t, "on", proxy.Config.HeadersUp["X-Trace"])
}

func TestAnalyzeRejectsUndefinedMacroCall(t *testing.T) {
	dirs, err := caddyfile.Parse("Caddyfile", []byte(
		"example.com {\n"+
			"\tcall not_a_real_macro\n"+
			"}"))
	require.NoError(t, err)
	ast, err := Adapt(dirs)
	require.NoError(t, err)

	err = Analyze(ast)
	require.Error(t, err)
	var semErr SemanticError
	require.ErrorAs(t, err, &semErr)
	require.Equal(t, UndefinedMacro, semErr.Kind)
}

func TestAnalyzeExplicitCallExpandsDefinedMacro(t *testing.T) {
	dirs, err := caddyfile.Parse("Caddyfile", []byte(
		"macro upstream_pool $backend {\n"+
			"\treverse_proxy $backend\n"+
			"}\n"+
			"example.com {\n"+
			"\tcall upstream_pool localhost:4000\n"+
			"}"))
	require.NoError(t, err)
	ast, err := Adapt(dirs)
	require.NoError(t, err)
	require.NoError(t, Analyze(ast))

	sb := ast.Servers[0]
	require.Len(t, sb.Routes, 1)
	proxy, ok := sb.Routes[0].Handler.(ProxyHandlerNode)
	require.True(t, ok)
	require.Equal(t, []string{"localhost:4000"}, proxy.Config.Upstreams)
}

func TestAnalyzeUnrecognizedBareDirectiveStaysInert(t *testing.T) {
	dirs, err := caddyfile.Parse("Caddyfile", []byte("example.com {\n\tsome_future_plugin foo\n}"))
	require.NoError(t, err)
	ast, err := Adapt(dirs)
	require.NoError(t, err)
	require.NoError(t, Analyze(ast))

	sb := ast.Servers[0]
	require.Len(t, sb.Routes, 1)
	_, ok := sb.Routes[0].Handler.(PluginHandlerNode)
	require.True(t, ok)
}

func TestAnalyzeRejectsServerWithNoListenersOrRoutes(t *testing.T) {
	dirs, err := caddyfile.Parse("Caddyfile", []byte("foo!bar {\n}"))
	require.NoError(t, err)
	ast, err := Adapt(dirs)
	require.NoError(t, err)

	err = Analyze(ast)
	require.Error(t, err)
	var semErr SemanticError
	require.ErrorAs(t, err, &semErr)
	require.Equal(t, InvalidConfig, semErr.Kind)
}
