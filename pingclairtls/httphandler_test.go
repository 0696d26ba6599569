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

package pingclairtls

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPChallengeHandlerServesKnownToken(t *testing.T) {
	mem := NewMemoryChallengeHandler()
	mem.Deploy(nil, "tok123", "key-auth-value")

	h := NewHTTPChallengeHandler(mem, "", nil)
	req := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/tok123", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "key-auth-value", rec.Body.String())
}

func TestHTTPChallengeHandlerUnknownTokenIsNotFound(t *testing.T) {
	mem := NewMemoryChallengeHandler()
	h := NewHTTPChallengeHandler(mem, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/missing", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, 404, rec.Code)
}

func TestHTTPChallengeHandlerRedirectsOtherRequestsToHTTPS(t *testing.T) {
	mem := NewMemoryChallengeHandler()
	h := NewHTTPChallengeHandler(mem, "max-age=31536000", nil)

	req := httptest.NewRequest(http.MethodGet, "/some/path", nil)
	req.Host = "example.com"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMovedPermanently, rec.Code)
	require.Equal(t, "https://example.com/some/path", rec.Header().Get("Location"))
	require.Equal(t, "max-age=31536000", rec.Header().Get("Strict-Transport-Security"))
}
