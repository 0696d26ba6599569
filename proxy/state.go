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
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pingclair/pingclair/pingclairconfig"
	"github.com/pingclair/pingclair/pingclairhttp"
	"github.com/pingclair/pingclair/pingclairhttp/fileserver"
	"github.com/pingclair/pingclair/pingclairhttp/ratelimit"
	"github.com/pingclair/pingclair/pingclairhttp/reverseproxy"
)

// HandlerState is the runtime counterpart of pingclairconfig.HandlerConfig:
// wherever the config names a reverse proxy, file server, or rate limiter,
// HandlerState holds the constructed, stateful object that serves it.
// Exactly the fields matching Config.Type are populated, same as the
// config type it mirrors.
type HandlerState struct {
	Config pingclairconfig.HandlerConfig

	Pool          *reverseproxy.UpstreamPool
	LB            *reverseproxy.LoadBalancer
	HealthChecker *reverseproxy.HealthChecker
	FileServer    *fileserver.Handler
	RateLimiter   *ratelimit.Limiter

	Pipeline []*HandlerState
}

// buildHandlerState constructs the runtime state for a single handler
// config node, recursing into Pipeline stages. Handle blocks are compiled
// but never recursively instantiated, matching the reserved, not-yet-
// executed scope documented for that handler kind.
func buildHandlerState(cfg pingclairconfig.HandlerConfig, log *zap.Logger) (*HandlerState, error) {
	hs := &HandlerState{Config: cfg}

	switch cfg.Type {
	case pingclairconfig.HandlerReverseProxy:
		rp := cfg.ReverseProxy
		if rp == nil || len(rp.Upstreams) == 0 {
			return nil, fmt.Errorf("reverse_proxy handler has no upstreams configured")
		}
		hs.Pool = reverseproxy.NewUpstreamPool(rp.Upstreams)
		strategy := reverseproxy.ParseStrategy(rp.LoadBalance.Strategy)
		hs.LB = reverseproxy.NewLoadBalancer(hs.Pool, strategy)

		if rp.HealthCheck != nil {
			hcCfg := reverseproxy.DefaultHealthCheckConfig()
			if rp.HealthCheck.Path != "" {
				hcCfg.Path = rp.HealthCheck.Path
			}
			if rp.HealthCheck.IntervalSeconds > 0 {
				hcCfg.Interval = time.Duration(rp.HealthCheck.IntervalSeconds) * time.Second
			}
			if rp.HealthCheck.TimeoutSeconds > 0 {
				hcCfg.Timeout = time.Duration(rp.HealthCheck.TimeoutSeconds) * time.Second
			}
			if rp.HealthCheck.PositiveThreshold > 0 {
				hcCfg.PositiveThreshold = int32(rp.HealthCheck.PositiveThreshold)
			}
			if rp.HealthCheck.NegativeThreshold > 0 {
				hcCfg.NegativeThreshold = int32(rp.HealthCheck.NegativeThreshold)
			}
			hcCfg.HTTPCheck = rp.HealthCheck.HTTP
			hs.HealthChecker = reverseproxy.NewHealthChecker(hcCfg, log)
			hs.HealthChecker.Start(hs.Pool)
		}

	case pingclairconfig.HandlerFileServer:
		fs := cfg.FileServer
		if fs == nil {
			return nil, fmt.Errorf("file_server handler has no configuration")
		}
		hs.FileServer = fileserver.New(fileserver.Config{
			Root:          fs.Root,
			Index:         fs.Index,
			Browse:        fs.Browse,
			Compress:      fs.Compress,
			Precompressed: fs.Precompressed,
		})

	case pingclairconfig.HandlerRateLimit:
		rl := cfg.RateLimit
		if rl == nil {
			return nil, fmt.Errorf("rate_limit handler has no configuration")
		}
		hs.RateLimiter = ratelimit.New(ratelimit.Config{
			RequestsPerWindow: float64(rl.RequestsPerWindow),
			WindowSeconds:     rl.WindowSeconds,
			Burst:             rl.Burst,
			ByIP:              rl.ByIP,
		})

	case pingclairconfig.HandlerPipeline:
		for _, stage := range cfg.Pipeline {
			child, err := buildHandlerState(stage, log)
			if err != nil {
				return nil, err
			}
			hs.Pipeline = append(hs.Pipeline, child)
		}

	case pingclairconfig.HandlerRespond, pingclairconfig.HandlerRedirect,
		pingclairconfig.HandlerHeaders, pingclairconfig.HandlerHandle,
		pingclairconfig.HandlerPlugin:
		// Stateless or reserved; config alone is sufficient at request time.

	default:
		return nil, fmt.Errorf("unsupported handler kind %q", cfg.Type)
	}

	return hs, nil
}

// Stop tears down any background goroutines owned by this handler state
// (health checkers) and its pipeline children.
func (hs *HandlerState) Stop() {
	if hs == nil {
		return
	}
	if hs.HealthChecker != nil {
		hs.HealthChecker.Stop()
	}
	for _, child := range hs.Pipeline {
		child.Stop()
	}
}

// RouteState pairs a compiled route's static config with its constructed
// runtime handler state.
type RouteState struct {
	Route   pingclairconfig.RouteConfig
	Handler *HandlerState
}

// ServerState is the fully constructed runtime form of one ServerConfig:
// its router plus one RouteState per route, aligned by router index
// exactly as pingclairconfig.RouteConfig are aligned in ServerConfig.Routes.
type ServerState struct {
	Config           pingclairconfig.ServerConfig
	Router           *pingclairhttp.Router
	Routes           []*RouteState
	ConnectionFilter *ConnectionFilter
}

// NewServerState builds the runtime state for one server block.
func NewServerState(cfg pingclairconfig.ServerConfig, log *zap.Logger) (*ServerState, error) {
	ss := &ServerState{
		Config:           cfg,
		Router:           pingclairhttp.NewRouter(cfg.Routes, log),
		ConnectionFilter: NewConnectionFilter(cfg.BlockedCIDRs, log),
	}

	for _, rc := range cfg.Routes {
		hs, err := buildHandlerState(rc.Handler, log)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", rc.Path, err)
		}
		ss.Routes = append(ss.Routes, &RouteState{Route: rc, Handler: hs})
	}

	return ss, nil
}

// Stop releases every background resource owned by this server's routes.
func (ss *ServerState) Stop() {
	if ss == nil {
		return
	}
	for _, rs := range ss.Routes {
		rs.Handler.Stop()
	}
}

// PingclairProxy is the top-level runtime object: one ServerState per
// virtual host, selected by the inbound request's Host header.
//
// hosts/def/all are guarded by mu so a reload can replace a virtual
// host's ServerState without disturbing a request already holding the
// previous snapshot returned by GetState; the old ServerState is simply
// no longer reachable from future lookups once the lock is released.
type PingclairProxy struct {
	mu    sync.RWMutex
	hosts map[string]*ServerState
	def   *ServerState
	all   []*ServerState
	log   *zap.Logger
}

// NewPingclairProxy builds a PingclairProxy from a compiled configuration.
// A server with no name or the name "_" becomes the default, a later one
// replacing an earlier one, matching the compiler's own "_" convention for
// unnamed or multi-listener blocks. Until such a server appears, the first
// named server holds the default slot, so a lone server is always the
// default.
func NewPingclairProxy(cfg *pingclairconfig.PingclairConfig, log *zap.Logger) (*PingclairProxy, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := &PingclairProxy{hosts: map[string]*ServerState{}, log: log}

	for _, sc := range cfg.Servers {
		ss, err := NewServerState(sc, log)
		if err != nil {
			return nil, err
		}
		p.all = append(p.all, ss)

		if sc.Name == "" || sc.Name == "_" {
			p.def = ss
			continue
		}
		p.hosts[sc.Name] = ss
		if p.def == nil {
			p.def = ss
		}
	}

	return p, nil
}

// GetState selects the ServerState serving hostHeader, stripping any port
// suffix and falling back to the default server on no exact match.
// Wildcard hostname matching is not implemented, matching the upstream
// TODO this proxy loop is grounded on.
func (p *PingclairProxy) GetState(hostHeader string) *ServerState {
	host := hostHeader
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if ss, ok := p.hosts[host]; ok {
		return ss
	}
	return p.def
}

// UpdateServer rebuilds the runtime state for one virtual host and swaps
// it in, replacing whatever ServerState previously served sc.Name (or the
// default slot, for an unnamed/wildcard server). It is the hot-reload
// coordinator's primitive for applying a re-parsed ServerConfig without
// disrupting requests already dispatched against the prior ServerState;
// the previous state's background resources are stopped only after the
// swap, once no new request can reach it.
func (p *PingclairProxy) UpdateServer(sc pingclairconfig.ServerConfig, log *zap.Logger) error {
	if log == nil {
		log = p.log
	}
	ss, err := NewServerState(sc, log)
	if err != nil {
		return fmt.Errorf("rebuild server %q: %w", sc.Name, err)
	}

	p.mu.Lock()
	var previous *ServerState
	if sc.Name == "" || sc.Name == "_" {
		previous = p.def
		p.def = ss
	} else {
		previous = p.hosts[sc.Name]
		p.hosts[sc.Name] = ss
		if p.def == previous {
			p.def = ss
		}
	}
	p.all = replaceInAll(p.all, previous, ss)
	p.mu.Unlock()

	previous.Stop()
	return nil
}

// AddServer registers a ServerConfig that did not previously exist on
// this listener (e.g. a new virtual host added to an already-running
// port's Caddyfile). Binding an entirely new listen address is not
// supported here; see the hot-reload coordinator in package reload.
func (p *PingclairProxy) AddServer(sc pingclairconfig.ServerConfig, log *zap.Logger) error {
	if log == nil {
		log = p.log
	}
	ss, err := NewServerState(sc, log)
	if err != nil {
		return fmt.Errorf("build server %q: %w", sc.Name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.all = append(p.all, ss)
	if sc.Name == "" || sc.Name == "_" || p.def == nil {
		p.def = ss
	}
	if sc.Name != "" && sc.Name != "_" {
		p.hosts[sc.Name] = ss
	}
	return nil
}

func replaceInAll(all []*ServerState, previous, next *ServerState) []*ServerState {
	if previous == nil {
		return append(all, next)
	}
	for i, ss := range all {
		if ss == previous {
			all[i] = next
			return all
		}
	}
	return append(all, next)
}

// Stop tears down every server's background resources.
func (p *PingclairProxy) Stop() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ss := range p.all {
		ss.Stop()
	}
}
