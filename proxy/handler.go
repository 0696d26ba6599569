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
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/pingclair/pingclair/internal/metrics"
	"github.com/pingclair/pingclair/pingclairconfig"
	"github.com/pingclair/pingclair/pingclairhttp"
)

// upstreamTransport is shared by every reverse-proxy request: it is
// configured for HTTP/2 up to upstreams that negotiate it over TLS,
// falling back to HTTP/1.1 otherwise.
var upstreamTransport = newUpstreamTransport()

func newUpstreamTransport() *http.Transport {
	t := &http.Transport{}
	_ = http2.ConfigureTransport(t)
	return t
}

// RequestCtx carries the per-request mutable state threaded through the
// filter pipeline: headers a Headers handler recorded for the eventual
// response to the client, and bookkeeping used for access logging.
type RequestCtx struct {
	HeadersDown   map[string]string
	HeadersRemove []string
	StartTime     time.Time
	RemoteIP      net.IP
	RequestID     string
}

func newRequestCtx(r *http.Request) *RequestCtx {
	rctx := &RequestCtx{
		HeadersDown: map[string]string{},
		StartTime:   time.Now(),
		RequestID:   uuid.NewString(),
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		rctx.RemoteIP = net.ParseIP(host)
	} else {
		rctx.RemoteIP = net.ParseIP(r.RemoteAddr)
	}
	return rctx
}

// Handler is the top-level http.Handler serving every configured virtual
// host out of one PingclairProxy.
type Handler struct {
	proxy *PingclairProxy
	log   *zap.Logger

	// AltSvcH3Port, when non-zero, is advertised via Alt-Svc on every
	// HTTP/1.1-HTTP/2 response so clients know an HTTP/3 listener is
	// available on the same host.
	AltSvcH3Port int
}

// NewHandler builds a Handler over p.
func NewHandler(p *PingclairProxy, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{proxy: p, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.AltSvcH3Port != 0 {
		w.Header().Set("Alt-Svc", fmt.Sprintf(`h3=":%d"; ma=86400`, h.AltSvcH3Port))
	}

	ss, rs := h.resolve(r)
	if ss == nil {
		http.Error(w, "no matching server", http.StatusNotFound)
		return
	}
	if rs == nil {
		http.NotFound(w, r)
		return
	}

	rctx := newRequestCtx(r)
	w.Header().Set("X-Request-Id", rctx.RequestID)
	metrics.M.RequestsTotal.WithLabelValues(ss.Config.Name, rs.Route.Path).Inc()
	h.execute(w, r, rs.Handler, rctx)
}

// ServeHTTP3 serves an HTTP/3 request over the same per-virtual-host
// routing as ServeHTTP. Per §4.9, the H3 path implements Respond and
// FileServer terminally but returns 501 for ReverseProxy; parity with
// HTTP/1.1/2 is a deliberate, documented TODO rather than an oversight.
func (h *Handler) ServeHTTP3(w http.ResponseWriter, r *http.Request) {
	ss, rs := h.resolve(r)
	if ss == nil {
		http.Error(w, "no matching server", http.StatusNotFound)
		return
	}
	if rs == nil {
		http.NotFound(w, r)
		return
	}

	if handlesReverseProxy(rs.Handler) {
		http.Error(w, "reverse_proxy over HTTP/3 is not yet supported", http.StatusNotImplemented)
		return
	}

	rctx := newRequestCtx(r)
	w.Header().Set("X-Request-Id", rctx.RequestID)
	metrics.M.RequestsTotal.WithLabelValues(ss.Config.Name, rs.Route.Path).Inc()
	h.execute(w, r, rs.Handler, rctx)
}

// handlesReverseProxy reports whether hs, or any pipeline stage nested
// within it, is a reverse-proxy handler.
func handlesReverseProxy(hs *HandlerState) bool {
	if hs == nil {
		return false
	}
	if hs.Config.Type == pingclairconfig.HandlerReverseProxy {
		return true
	}
	for _, stage := range hs.Pipeline {
		if handlesReverseProxy(stage) {
			return true
		}
	}
	return false
}

// resolve matches r against the selected virtual host's router, shared by
// both the HTTP/1.1-HTTP/2 and HTTP/3 entry points.
func (h *Handler) resolve(r *http.Request) (*ServerState, *RouteState) {
	ss := h.proxy.GetState(r.Host)
	if ss == nil {
		return nil, nil
	}

	mreq := pingclairhttp.MatchRequest{
		Path:     r.URL.Path,
		Method:   r.Method,
		Host:     r.Host,
		RemoteIP: remoteIPString(r),
		Protocol: protocolOf(r),
		Header: func(name string) (string, bool) {
			v := r.Header.Get(name)
			if v == "" {
				return "", false
			}
			return v, true
		},
		Query: func(name string) (string, bool) {
			v := r.URL.Query().Get(name)
			if v == "" {
				return "", false
			}
			return v, true
		},
	}

	route := ss.Router.Match(mreq)
	if route == nil {
		return ss, nil
	}
	return ss, ss.Routes[route.Index]
}

func remoteIPString(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func protocolOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// execute runs one handler node, returning true if it was terminal (wrote
// a response or proxied upstream) and no further pipeline stage should
// run. Headers and rate-limit allows are non-terminal.
func (h *Handler) execute(w http.ResponseWriter, r *http.Request, hs *HandlerState, rctx *RequestCtx) bool {
	if hs == nil {
		http.Error(w, "no handler configured for route", http.StatusInternalServerError)
		return true
	}

	switch hs.Config.Type {
	case pingclairconfig.HandlerHeaders:
		applyHeaders(hs.Config.Headers, rctx)
		return false

	case pingclairconfig.HandlerRespond:
		writeRespond(w, hs.Config.Respond, rctx)
		return true

	case pingclairconfig.HandlerRedirect:
		writeRedirect(w, r, hs.Config.Redirect, rctx)
		return true

	case pingclairconfig.HandlerFileServer:
		h.serveFile(w, r, hs, rctx)
		return true

	case pingclairconfig.HandlerRateLimit:
		key := ""
		if rctx.RemoteIP != nil {
			key = rctx.RemoteIP.String()
		}
		allowed, info := hs.RateLimiter.Allow(key)
		if !allowed {
			for k, v := range info.Headers() {
				w.Header().Set(k, v)
			}
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return true
		}
		return false

	case pingclairconfig.HandlerReverseProxy:
		h.proxyUpstream(w, r, hs, rctx)
		return true

	case pingclairconfig.HandlerPipeline:
		for _, stage := range hs.Pipeline {
			if h.execute(w, r, stage, rctx) {
				return true
			}
		}
		return false

	case pingclairconfig.HandlerHandle, pingclairconfig.HandlerPlugin:
		// Reserved / inert: no-op passthrough.
		return false

	default:
		http.Error(w, "unsupported handler", http.StatusInternalServerError)
		return true
	}
}

// applyHeaders records a Headers handler's Set/Add/Remove entries into the
// per-request context so the eventual terminal handler can stamp or strip
// them on the response sent to the client, not on any upstream request.
func applyHeaders(cfg *pingclairconfig.HeadersConfig, rctx *RequestCtx) {
	if cfg == nil {
		return
	}
	for k, v := range cfg.Set {
		rctx.HeadersDown[k] = v
	}
	for k, v := range cfg.Add {
		rctx.HeadersDown[k] = v
	}
	rctx.HeadersRemove = append(rctx.HeadersRemove, cfg.Remove...)
}

// stripRemovedHeaders deletes every header name recorded by a Headers
// handler's remove directive from the given header set, before any
// HeadersDown entries are stamped on top.
func stripRemovedHeaders(header http.Header, rctx *RequestCtx) {
	for _, name := range rctx.HeadersRemove {
		header.Del(name)
	}
}

func writeRespond(w http.ResponseWriter, cfg *pingclairconfig.RespondConfig, rctx *RequestCtx) {
	if cfg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	for k, v := range cfg.Headers {
		w.Header().Set(k, v)
	}
	stripRemovedHeaders(w.Header(), rctx)
	for k, v := range rctx.HeadersDown {
		w.Header().Set(k, v)
	}
	status := cfg.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if cfg.Body != "" {
		w.Write([]byte(cfg.Body))
	}
}

func writeRedirect(w http.ResponseWriter, r *http.Request, cfg *pingclairconfig.RedirectConfig, rctx *RequestCtx) {
	if cfg == nil {
		http.Error(w, "redirect handler missing target", http.StatusInternalServerError)
		return
	}
	stripRemovedHeaders(w.Header(), rctx)
	for k, v := range rctx.HeadersDown {
		w.Header().Set(k, v)
	}
	code := cfg.Code
	if code == 0 {
		code = http.StatusFound
	}
	http.Redirect(w, r, cfg.To, code)
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, hs *HandlerState, rctx *RequestCtx) {
	sf, err := hs.FileServer.Serve(r.URL.Path, r.Header.Get("Range"), r.Header.Get("Accept-Encoding"))
	if err != nil {
		http.Error(w, "internal error serving file", http.StatusInternalServerError)
		return
	}
	if sf == nil {
		http.NotFound(w, r)
		return
	}

	header := w.Header()
	header.Set("Content-Type", sf.MimeType)
	if sf.ETag != "" {
		header.Set("ETag", sf.ETag)
	}
	if sf.LastModified != "" {
		header.Set("Last-Modified", sf.LastModified)
	}
	if sf.ContentEncoding != "" {
		header.Set("Content-Encoding", sf.ContentEncoding)
	}
	if sf.ContentRange != "" {
		header.Set("Content-Range", sf.ContentRange)
		header.Set("Accept-Ranges", "bytes")
	}
	stripRemovedHeaders(header, rctx)
	for k, v := range rctx.HeadersDown {
		header.Set(k, v)
	}
	header.Set("Content-Length", strconv.Itoa(len(sf.Content)))

	w.WriteHeader(sf.Status)
	w.Write(sf.Content)
}

// proxyUpstream implements the upstream_peer / upstream_request_filter /
// response_filter / error_while_proxy stages: select a healthy upstream,
// forward the request with merged headers, stamp response headers, and
// always release the active-connection count this request acquired.
func (h *Handler) proxyUpstream(w http.ResponseWriter, r *http.Request, hs *HandlerState, rctx *RequestCtx) {
	var key []byte
	if rctx.RemoteIP != nil {
		if v4 := rctx.RemoteIP.To4(); v4 != nil {
			key = v4
		} else {
			key = rctx.RemoteIP
		}
	}

	upstream := hs.LB.Select(key)
	if upstream == nil {
		http.Error(w, "no healthy upstream available", http.StatusBadGateway)
		return
	}

	target, err := parseUpstream(upstream.Addr)
	if err != nil {
		http.Error(w, "invalid upstream address", http.StatusBadGateway)
		return
	}

	upstream.IncConnections()
	defer upstream.DecConnections()

	resolver := NewVariableResolver(r, remoteIPString(r), nil)

	rp := &httputil.ReverseProxy{
		Transport: upstreamTransport,
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Host = target.Host
			req.Header.Set("X-Forwarded-Proto", protocolOf(r))
			for k, v := range hs.Config.ReverseProxy.HeadersUp {
				req.Header.Set(k, resolver.ResolveTemplate(v))
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			for k, v := range hs.Config.ReverseProxy.HeadersDown {
				resp.Header.Set(k, resolver.ResolveTemplate(v))
			}
			stripRemovedHeaders(resp.Header, rctx)
			for k, v := range rctx.HeadersDown {
				resp.Header.Set(k, v)
			}
			resp.Header.Set("Server", "Pingclair")
			resp.Header.Set("X-Content-Type-Options", "nosniff")
			resp.Header.Set("X-Frame-Options", "DENY")
			h.log.Debug("proxied request",
				zap.String("request_id", rctx.RequestID),
				zap.String("upstream", upstream.Addr),
				zap.Duration("elapsed", time.Since(rctx.StartTime)))
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.log.Error("upstream proxy error",
				zap.String("request_id", rctx.RequestID),
				zap.String("upstream", upstream.Addr),
				zap.Duration("elapsed", time.Since(rctx.StartTime)),
				zap.Error(err))
			http.Error(w, "upstream error", http.StatusBadGateway)
		},
	}

	if hs.Config.ReverseProxy.FlushInterval != 0 {
		if hs.Config.ReverseProxy.FlushInterval < 0 {
			rp.FlushInterval = -1
		} else {
			rp.FlushInterval = time.Duration(hs.Config.ReverseProxy.FlushInterval) * time.Millisecond
		}
	}

	rp.ServeHTTP(w, r)
}

// parseUpstream turns a configured upstream address into a target URL. A
// bare "host:port" defaults to plain HTTP; an "http(s)://" prefix is taken
// as given.
func parseUpstream(addr string) (*url.URL, error) {
	if strings.Contains(addr, "://") {
		return url.Parse(addr)
	}
	return &url.URL{Scheme: "http", Host: addr}, nil
}
