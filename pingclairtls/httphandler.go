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

	"github.com/go-chi/chi/v5"
)

// KeyAuthorizationLookup is satisfied by both challenge handler
// implementations; it is the read side HTTPChallengeHandler needs.
type KeyAuthorizationLookup interface {
	KeyAuthorization(token string) (string, bool)
}

// HTTPChallengeHandler serves HTTP-01 challenge responses on plain HTTP.
// Every other request is passed to next when next is non-nil, and is
// otherwise redirected to HTTPS.
// Routing is a chi.Mux: the ACME path is a single route with a URL-param
// token segment, and everything else falls through to a catch-all.
type HTTPChallengeHandler struct {
	mux *chi.Mux

	lookup KeyAuthorizationLookup
	hsts   string
	next   http.Handler
}

// NewHTTPChallengeHandler builds a handler that answers ACME HTTP-01
// challenges and forwards every other request to next. With a nil next it
// redirects those requests to HTTPS instead, setting hstsHeader as
// Strict-Transport-Security when it is non-empty.
func NewHTTPChallengeHandler(lookup KeyAuthorizationLookup, hstsHeader string, next http.Handler) *HTTPChallengeHandler {
	h := &HTTPChallengeHandler{lookup: lookup, hsts: hstsHeader, next: next}

	r := chi.NewRouter()
	r.Get("/.well-known/acme-challenge/{token}", h.serveChallenge)
	r.NotFound(h.serveFallback)
	h.mux = r

	return h
}

func (h *HTTPChallengeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *HTTPChallengeHandler) serveChallenge(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	keyAuth, ok := h.lookup.KeyAuthorization(token)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(keyAuth))
}

func (h *HTTPChallengeHandler) serveFallback(w http.ResponseWriter, r *http.Request) {
	if h.next != nil {
		h.next.ServeHTTP(w, r)
		return
	}

	target := "https://" + r.Host + r.URL.RequestURI()
	if h.hsts != "" {
		w.Header().Set("Strict-Transport-Security", h.hsts)
	}
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}
