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

package proxy

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVariableResolverResolvesRequestFields(t *testing.T) {
	r := httptest.NewRequest("POST", "http://example.com/api/widgets?limit=10", nil)
	r.Header.Set("X-Api-Key", "secret")

	v := NewVariableResolver(r, "203.0.113.7", nil)

	val, ok := v.Resolve("req.host")
	require.True(t, ok)
	require.Equal(t, "example.com", val)

	val, ok = v.Resolve("req.path")
	require.True(t, ok)
	require.Equal(t, "/api/widgets", val)

	val, ok = v.Resolve("req.method")
	require.True(t, ok)
	require.Equal(t, "POST", val)

	val, ok = v.Resolve("req.remote_ip")
	require.True(t, ok)
	require.Equal(t, "203.0.113.7", val)

	val, ok = v.Resolve(`req.header["X-Api-Key"]`)
	require.True(t, ok)
	require.Equal(t, "secret", val)

	val, ok = v.Resolve(`req.query["limit"]`)
	require.True(t, ok)
	require.Equal(t, "10", val)
}

func TestVariableResolverShortAliases(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.com/x", nil)
	v := NewVariableResolver(r, "10.0.0.1", nil)

	val, ok := v.Resolve("remote_host")
	require.True(t, ok)
	require.Equal(t, "10.0.0.1", val)

	val, ok = v.Resolve("host")
	require.True(t, ok)
	require.Equal(t, "example.com", val)

	val, ok = v.Resolve("uri")
	require.True(t, ok)
	require.Equal(t, "/x", val)
}

func TestVariableResolverCustomVariables(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.com/x", nil)
	v := NewVariableResolver(r, "10.0.0.1", map[string]string{"env": "prod", "region": "us-east"})

	val, ok := v.Resolve("custom.env")
	require.True(t, ok)
	require.Equal(t, "prod", val)

	val, ok = v.Resolve("region")
	require.True(t, ok)
	require.Equal(t, "us-east", val)

	_, ok = v.Resolve("custom.missing")
	require.False(t, ok)
}

func TestVariableResolverUnresolvedReturnsFalse(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.com/x", nil)
	v := NewVariableResolver(r, "10.0.0.1", nil)

	_, ok := v.Resolve("req.header[\"X-Missing\"]")
	require.False(t, ok)

	_, ok = v.Resolve("req.nonsense")
	require.False(t, ok)
}

func TestVariableResolverTemplateSubstitutesAndBlanksUnresolved(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.com/widgets", nil)
	v := NewVariableResolver(r, "198.51.100.3", nil)

	out := v.ResolveTemplate("ip=${req.remote_ip} path=${req.path} missing=${req.header[\"Nope\"]}")
	require.Equal(t, "ip=198.51.100.3 path=/widgets missing=", out)
}

func TestVariableResolverTemplateLiteralPassesThrough(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.com/widgets", nil)
	v := NewVariableResolver(r, "198.51.100.3", nil)

	require.Equal(t, "literal-value", v.ResolveTemplate("literal-value"))
}
