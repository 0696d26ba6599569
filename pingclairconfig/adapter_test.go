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

func adaptSource(t *testing.T, src string) *Ast {
	t.Helper()
	dirs, err := caddyfile.Parse("Caddyfile", []byte(src))
	require.NoError(t, err)
	ast, err := Adapt(dirs)
	require.NoError(t, err)
	return ast
}

func TestAdaptReverseProxyRejectsNoUpstreams(t *testing.T) {
	dirs, err := caddyfile.Parse("Caddyfile", []byte("example.com {\n\treverse_proxy\n}"))
	require.NoError(t, err)
	_, err = Adapt(dirs)
	require.Error(t, err)
	var aerr AdapterError
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, ArgumentCount, aerr.Kind)
}

func TestAdaptRedirectRejectsMissingTarget(t *testing.T) {
	dirs, err := caddyfile.Parse("Caddyfile", []byte("example.com {\n\tredirect\n}"))
	require.NoError(t, err)
	_, err = Adapt(dirs)
	require.Error(t, err)
	var aerr AdapterError
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, ArgumentCount, aerr.Kind)
}

func TestAdaptNamedMatcherBlockForm(t *testing.T) {
	ast := adaptSource(t, "example.com {\n"+
		"\t@api {\n"+
		"\t\tpath /api/*\n"+
		"\t\theader X-Env prod\n"+
		"\t}\n"+
		"\trespond @api ok\n"+
		"}")

	sb := ast.Servers[0]
	m, ok := sb.Matchers["api"]
	require.True(t, ok)
	and, ok := m.(AndMatcherNode)
	require.True(t, ok)
	_, ok = and.Left.(PathMatcherNode)
	require.True(t, ok)
	_, ok = and.Right.(HeaderMatcherNode)
	require.True(t, ok)
}

func TestAdaptQueryMatcherDefaultsToEquals(t *testing.T) {
	ast := adaptSource(t, "example.com {\n"+
		"\t@q {\n"+
		"\t\tquery debug true\n"+
		"\t}\n"+
		"\trespond @q ok\n"+
		"}")

	m := ast.Servers[0].Matchers["q"].(QueryMatcherNode)
	require.Equal(t, "debug", m.Name)
	require.Equal(t, CondEquals, m.Condition)
	require.Equal(t, "true", m.Value)
}

func TestAdaptHeaderMatcherWithExplicitCondition(t *testing.T) {
	ast := adaptSource(t, "example.com {\n"+
		"\t@h {\n"+
		"\t\theader X-Env starts_with prod\n"+
		"\t}\n"+
		"\trespond @h ok\n"+
		"}")

	m := ast.Servers[0].Matchers["h"].(HeaderMatcherNode)
	require.Equal(t, HeaderCondition("starts_with"), m.Condition)
	require.Equal(t, "prod", m.Value)
}

func TestAdaptFileServerWithBlockOptions(t *testing.T) {
	ast := adaptSource(t, "static.example.com {\n"+
		"\tfile_server {\n"+
		"\t\troot /var/www\n"+
		"\t\tindex home.html\n"+
		"\t\tbrowse\n"+
		"\t}\n"+
		"}")

	fs := ast.Servers[0].Routes[0].Handler.(FileServerHandlerNode)
	require.Equal(t, "/var/www", fs.Root)
	require.Equal(t, []string{"home.html"}, fs.Index)
	require.True(t, fs.Browse)
}

func TestAdaptListenAddrForms(t *testing.T) {
	cases := []struct {
		in       string
		wantOK   bool
		wantAddr ListenAddr
	}{
		{":8080", true, ListenAddr{Scheme: "http", Host: "0.0.0.0", Port: 8080}},
		{"https://example.com", true, ListenAddr{Scheme: "https", Host: "example.com", Port: 443}},
		{"example.com:9000", true, ListenAddr{Scheme: "http", Host: "example.com", Port: 9000}},
		{"", false, ListenAddr{}},
		{":notaport", false, ListenAddr{}},
	}
	for _, c := range cases {
		addr, ok := parseListenAddr(c.in)
		require.Equal(t, c.wantOK, ok, c.in)
		if c.wantOK {
			require.Equal(t, c.wantAddr, addr, c.in)
		}
	}
}

func TestAdaptDuplicateGlobalBlockRejected(t *testing.T) {
	dirs, err := caddyfile.Parse("Caddyfile", []byte("{\n\temail a@example.com\n}\n{\n\temail b@example.com\n}"))
	require.NoError(t, err)
	_, err = Adapt(dirs)
	require.Error(t, err)
	var aerr AdapterError
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, DuplicateGlobal, aerr.Kind)
}
