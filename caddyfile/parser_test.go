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

package caddyfile

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenizeBasic(t *testing.T) {
	tokens, err := Tokenize([]byte(`example.com {
		reverse_proxy localhost:3000
	}`), "Caddyfile")
	require.NoError(t, err)

	var words []string
	for _, tok := range tokens {
		if tok.Text != "\n" {
			words = append(words, tok.Text)
		}
	}
	require.Equal(t, []string{"example.com", "{", "reverse_proxy", "localhost:3000", "}"}, words)
}

func TestTokenizeQuotedStringWithEscapes(t *testing.T) {
	tokens, err := Tokenize([]byte(`respond "hello\nworld"`), "Caddyfile")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	require.Equal(t, "hello\nworld", tokens[1].Text)
}

func TestTokenizeComment(t *testing.T) {
	tokens, err := Tokenize([]byte("# a comment\nrespond ok"), "Caddyfile")
	require.NoError(t, err)

	var words []string
	for _, tok := range tokens {
		if tok.Text != "\n" {
			words = append(words, tok.Text)
		}
	}
	require.Equal(t, []string{"respond", "ok"}, words)
}

func TestParseSimpleServer(t *testing.T) {
	dirs, err := Parse("Caddyfile", []byte(`example.com {
		reverse_proxy localhost:3000
	}`))
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	require.Equal(t, "example.com", dirs[0].Name)
	require.Len(t, dirs[0].Block, 1)
	require.Equal(t, "reverse_proxy", dirs[0].Block[0].Name)
	require.Equal(t, []string{"localhost:3000"}, dirs[0].Block[0].Args)
}

func TestParseNamedMatcherAndComposition(t *testing.T) {
	dirs, err := Parse("Caddyfile", []byte("example.com {\n"+
		"\t@api {\n"+
		"\t\tpath /api/*\n"+
		"\t\tmethod POST\n"+
		"\t}\n"+
		"\treverse_proxy @api localhost:3000\n"+
		"}"))
	require.NoError(t, err)
	require.Len(t, dirs[0].Block, 2)
	require.Equal(t, "@api", dirs[0].Block[0].Name)
	require.Len(t, dirs[0].Block[0].Block, 2)
}

func TestReplaceEnvVars(t *testing.T) {
	os.Setenv("PINGCLAIR_TEST_VAR", "example.org")
	defer os.Unsetenv("PINGCLAIR_TEST_VAR")

	out, err := replaceEnvVars([]byte("site {$PINGCLAIR_TEST_VAR} { respond ok }"))
	require.NoError(t, err)
	require.Contains(t, string(out), "example.org")
}

func TestReplaceEnvVarsDefault(t *testing.T) {
	out, err := replaceEnvVars([]byte("listen {$PINGCLAIR_UNSET_VAR:8080}"))
	require.NoError(t, err)
	require.Equal(t, "listen 8080", string(out))
}

func TestParseGlobalBlock(t *testing.T) {
	dirs, err := Parse("Caddyfile", []byte("{\n\temail admin@example.com\n}\nexample.com {\n\trespond ok\n}"))
	require.NoError(t, err)
	require.Len(t, dirs, 2)
	require.Equal(t, "", dirs[0].Name)
	require.Equal(t, "email", dirs[0].Block[0].Name)
}

func TestParseUnclosedBlockIsUnexpectedEOF(t *testing.T) {
	_, err := Parse("Caddyfile", []byte("example.com {\n\trespond ok\n"))
	require.Error(t, err)
	var eofErr UnexpectedEOF
	require.ErrorAs(t, err, &eofErr)
}
