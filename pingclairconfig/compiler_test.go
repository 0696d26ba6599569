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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pingclair/pingclair/caddyfile"
)

func compileSource(t *testing.T, src string) *PingclairConfig {
	t.Helper()
	dirs, err := caddyfile.Parse("Caddyfile", []byte(src))
	require.NoError(t, err)
	ast, err := Adapt(dirs)
	require.NoError(t, err)
	require.NoError(t, Analyze(ast))
	cfg, err := Compile(ast)
	require.NoError(t, err)
	return cfg
}

func TestCompileSimpleServer(t *testing.T) {
	cfg := compileSource(t, "example.com {\n\trespond \"hello\"\n}")
	require.Len(t, cfg.Servers, 1)
	require.Equal(t, "example.com", cfg.Servers[0].Name)
	require.Len(t, cfg.Servers[0].Routes, 1)
	require.Equal(t, HandlerRespond, cfg.Servers[0].Routes[0].Handler.Type)
}

func TestCompileProxy(t *testing.T) {
	cfg := compileSource(t, "example.com {\n\treverse_proxy localhost:3000\n}")
	require.Len(t, cfg.Servers, 1)
	require.Len(t, cfg.Servers[0].Routes, 1)

	route := cfg.Servers[0].Routes[0]
	require.Equal(t, "/*", route.Path)
	require.Equal(t, HandlerReverseProxy, route.Handler.Type)
	require.Equal(t, []string{"localhost:3000"}, route.Handler.ReverseProxy.Upstreams)
}

func TestCompileNamedMatcher(t *testing.T) {
	cfg := compileSource(t, "example.com {\n"+
		"\t@api {\n"+
		"\t\tpath /api/*\n"+
		"\t\tmethod POST\n"+
		"\t}\n"+
		"\treverse_proxy @api localhost:3000\n"+
		"}")

	route := cfg.Servers[0].Routes[0]
	require.Equal(t, "/api/*", route.Path)
	require.NotNil(t, route.Matcher)
	require.Len(t, route.Matcher.And, 2)
}

func TestCompileRoundTripIsFixedPoint(t *testing.T) {
	cfg := compileSource(t, "example.com {\n\treverse_proxy localhost:3000\n}\nstatic.example.com {\n\tfile_server /var/www\n}")

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var roundTripped PingclairConfig
	require.NoError(t, json.Unmarshal(data, &roundTripped))

	data2, err := json.Marshal(&roundTripped)
	require.NoError(t, err)
	require.JSONEq(t, string(data), string(data2))
}

func TestCompileRendersHeaderUpVariableExpression(t *testing.T) {
	cfg := compileSource(t, "example.com {\n"+
		"\treverse_proxy localhost:3000 {\n"+
		"\t\theader_up X-Real-IP \"{req.remote_ip}\"\n"+
		"\t\theader_up X-Forwarded-Host \"{req.host}\"\n"+
		"\t\theader_up X-Static literal-value\n"+
		"\t}\n"+
		"}")

	proxy := cfg.Servers[0].Routes[0].Handler.ReverseProxy
	require.Equal(t, "${req.remote_ip}", proxy.HeadersUp["X-Real-IP"])
	require.Equal(t, "${req.host}", proxy.HeadersUp["X-Forwarded-Host"])
	require.Equal(t, "literal-value", proxy.HeadersUp["X-Static"])
}

func TestCompileRendersHeaderDownVariableExpression(t *testing.T) {
	cfg := compileSource(t, "example.com {\n"+
		"\treverse_proxy localhost:3000 {\n"+
		"\t\theader_down X-Upstream-Path \"{req.path}\"\n"+
		"\t}\n"+
		"}")

	proxy := cfg.Servers[0].Routes[0].Handler.ReverseProxy
	require.Equal(t, "${req.path}", proxy.HeadersDown["X-Upstream-Path"])
}

func TestAnalyzeRejectsDuplicateServerNames(t *testing.T) {
	dirs, err := caddyfile.Parse("Caddyfile", []byte("example.com {\n\trespond ok\n}\nexample.com {\n\trespond ok\n}"))
	require.NoError(t, err)
	ast, err := Adapt(dirs)
	require.NoError(t, err)
	err = Analyze(ast)
	require.Error(t, err)
	var semErr SemanticError
	require.ErrorAs(t, err, &semErr)
	require.Equal(t, DuplicateServer, semErr.Kind)
}

func TestAnalyzeRejectsMultipleDefaultRoutes(t *testing.T) {
	dirs, err := caddyfile.Parse("Caddyfile", []byte("example.com {\n\trespond one\n\trespond two\n}"))
	require.NoError(t, err)
	ast, err := Adapt(dirs)
	require.NoError(t, err)
	err = Analyze(ast)
	require.Error(t, err)
	var semErr SemanticError
	require.ErrorAs(t, err, &semErr)
	require.Equal(t, TooManyDefaultRoutes, semErr.Kind)
}
