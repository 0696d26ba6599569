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

// Package reload implements the hot-reload coordinator: on a SIGHUP or a
// request to the admin mux's "/config/reload" route, it re-reads and
// re-parses the Caddyfile, groups the resulting ServerConfigs by listen
// address, and swaps each affected virtual host's runtime state in place.
// No admin route accepts a configuration in the request body. Binding a brand-new listen
// address requires a process restart; the coordinator only warns about
// it, per §4.12.
package reload

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pingclair/pingclair/caddyfile"
	"github.com/pingclair/pingclair/internal/metrics"
	"github.com/pingclair/pingclair/pingclairconfig"
	"github.com/pingclair/pingclair/proxy"
)

// Summary reports the outcome of one reload attempt, suitable for both a
// structured log line and an admin-API JSON response.
type Summary struct {
	ServersUpdated int           `json:"servers_updated"`
	Warnings       []string      `json:"warnings,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Coordinator owns the live set of per-listen-address proxies and applies
// reloads to them. Binding new ports is out of scope here (§4.12 step 3);
// the process that owns listener accept loops is an external collaborator.
type Coordinator struct {
	log *zap.Logger

	mu          sync.RWMutex
	portProxies map[string]*proxy.PingclairProxy

	// reloading serializes Apply calls, whether from SIGHUP, the admin
	// API or a direct caller: only one reload runs at a time.
	reloading sync.Mutex
}

// New builds a Coordinator with no proxies yet registered. Call Register
// once for each listen address the process has already bound.
func New(log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{log: log, portProxies: map[string]*proxy.PingclairProxy{}}
}

// Register associates an already-running PingclairProxy with the listen
// address it serves, so future reloads know where to route updates for
// that address's virtual hosts.
func (c *Coordinator) Register(addr string, p *proxy.PingclairProxy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.portProxies[addr] = p
}

// ListenAndServeSIGHUP blocks, applying loadPath to Reload every time the
// process receives SIGHUP, until ctx is cancelled. It is meant to run in
// its own goroutine from main.
func (c *Coordinator) ListenAndServeSIGHUP(ctx context.Context, loadPath string) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			summary, err := c.Reload(loadPath)
			if err != nil {
				c.log.Error("reload failed, keeping running configuration", zap.Error(err))
				continue
			}
			c.log.Info("reload applied",
				zap.Int("servers_updated", summary.ServersUpdated),
				zap.Strings("warnings", summary.Warnings),
				zap.Duration("duration", summary.Duration))
		}
	}
}

// Reload re-parses the Caddyfile at path, recompiles it, and applies the
// result. A parse, semantic, or compile failure leaves the running
// configuration untouched and is returned verbatim to the caller.
func (c *Coordinator) Reload(path string) (Summary, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Compile(path, src)
	if err != nil {
		return Summary{}, err
	}
	return c.Apply(cfg)
}

// Compile runs the full lex/parse/adapt/analyze/compile pipeline over raw
// Caddyfile source, the same sequence cmd/pingclair's "validate" command
// runs before ever touching a live Coordinator.
func Compile(filename string, src []byte) (*pingclairconfig.PingclairConfig, error) {
	directives, err := caddyfile.Parse(filename, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}
	ast, err := pingclairconfig.Adapt(directives)
	if err != nil {
		return nil, fmt.Errorf("adapt %s: %w", filename, err)
	}
	if err := pingclairconfig.Analyze(ast); err != nil {
		return nil, fmt.Errorf("analyze %s: %w", filename, err)
	}
	cfg, err := pingclairconfig.Compile(ast)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", filename, err)
	}
	return cfg, nil
}

// Apply groups cfg's servers by their first listen address and updates
// each already-registered port's proxy in place. Concurrent Apply calls
// are serialized: a reload either fully applies or is fully rejected,
// never interleaved with another.
func (c *Coordinator) Apply(cfg *pingclairconfig.PingclairConfig) (Summary, error) {
	c.reloading.Lock()
	defer c.reloading.Unlock()

	start := time.Now()
	byAddr := groupByListenAddr(cfg.Servers)

	var summary Summary
	c.mu.RLock()
	portProxies := c.portProxies
	c.mu.RUnlock()

	// Build every affected server once before swapping any in, so a server
	// that fails to build rejects the whole reload.
	for addr, servers := range byAddr {
		if _, ok := portProxies[addr]; !ok {
			continue
		}
		for _, sc := range servers {
			ss, err := proxy.NewServerState(sc, c.log)
			if err != nil {
				metrics.M.ReloadsTotal.WithLabelValues("error").Inc()
				return summary, fmt.Errorf("apply server %q on %s: %w", sc.Name, addr, err)
			}
			ss.Stop()
		}
	}

	for addr, servers := range byAddr {
		p, ok := portProxies[addr]
		if !ok {
			summary.Warnings = append(summary.Warnings,
				fmt.Sprintf("listen address %s is new; binding a new port requires a process restart", addr))
			c.log.Warn("reload cannot bind new listen address", zap.String("addr", addr))
			continue
		}
		for _, sc := range servers {
			if err := p.UpdateServer(sc, c.log); err != nil {
				metrics.M.ReloadsTotal.WithLabelValues("error").Inc()
				return summary, fmt.Errorf("apply server %q on %s: %w", sc.Name, addr, err)
			}
			summary.ServersUpdated++
		}
	}

	summary.Duration = time.Since(start)
	metrics.M.ReloadDuration.Observe(summary.Duration.Seconds())
	metrics.M.ReloadsTotal.WithLabelValues("ok").Inc()

	return summary, nil
}

// groupByListenAddr buckets servers by the address string of their first
// listener, matching a bare ":80"/":443" and a "host:port" form alike.
func groupByListenAddr(servers []pingclairconfig.ServerConfig) map[string][]pingclairconfig.ServerConfig {
	out := map[string][]pingclairconfig.ServerConfig{}
	for _, sc := range servers {
		addr := "0.0.0.0:80"
		if len(sc.Listen) > 0 {
			addr = ListenAddrString(sc.Listen[0])
		}
		out[addr] = append(out[addr], sc)
	}
	return out
}

// ListenAddrString formats l the same way a net.Listener/http.Server
// Addr string is written: "host:port", defaulting the host to 0.0.0.0
// and the port to 443 for an https scheme, 80 otherwise.
func ListenAddrString(l pingclairconfig.ListenAddr) string {
	host := l.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := l.Port
	if port == 0 {
		if l.Scheme == "https" {
			port = 443
		} else {
			port = 80
		}
	}
	return host + ":" + strconv.Itoa(port)
}
