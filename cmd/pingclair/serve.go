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

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pingclair/pingclair/internal/pingclairlog"
	"github.com/pingclair/pingclair/pingclairconfig"
	"github.com/pingclair/pingclair/pingclairtls"
	"github.com/pingclair/pingclair/proxy"
	"github.com/pingclair/pingclair/reload"
)

// runServer reads, compiles, and serves the Caddyfile at configPath until
// interrupted, applying SIGHUP-triggered reloads in place.
func runServer(ctx context.Context, configPath string) error {
	src, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading config from file: %w", err)
	}
	cfg, err := reload.Compile(configPath, src)
	if err != nil {
		return err
	}

	logger, closeLogger, err := pingclairlog.New(cfg.Logging, pingclairlog.DefaultFileRotation())
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer closeLogger()

	tuneRuntime(logger)

	manager, autoHTTPS, challengeLookup, err := buildTLS(cfg, logger)
	if err != nil {
		return fmt.Errorf("building TLS stack: %w", err)
	}

	p, err := proxy.NewPingclairProxy(cfg, logger)
	if err != nil {
		return fmt.Errorf("building proxy: %w", err)
	}

	coordinator := reload.New(logger)
	h := proxy.NewHandler(p, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var serveErr error
	recordErr := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if serveErr == nil {
			serveErr = err
		}
		mu.Unlock()
	}

	for addr, servers := range groupByListenAddr(cfg.Servers) {
		coordinator.Register(addr, p)
		h3Port := h3Port(servers)

		srv := &http.Server{
			Addr:    addr,
			Handler: withAltSvc(h, h3Port),
		}
		if usesTLS(servers) {
			srv.TLSConfig = &tls.Config{GetCertificate: manager.GetCertificate}
		}

		wg.Add(1)
		go func(srv *http.Server, secure bool) {
			defer wg.Done()
			logger.Info("listening", zap.String("addr", srv.Addr), zap.Bool("tls", secure))
			var err error
			if secure {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				recordErr(fmt.Errorf("serve %s: %w", srv.Addr, err))
			}
		}(srv, usesTLS(servers))

		if h3Port != 0 {
			qs := pingclairtls.NewQuicServer(pingclairtls.QuicConfig{
				Listen:                fmt.Sprintf("0.0.0.0:%d", h3Port),
				MaxConcurrentStreams:  reverseproxyMaxStreams,
				MaxIdleTimeoutSeconds: 30,
			}, manager, logger)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := qs.Start(ctx, http.HandlerFunc(h.ServeHTTP3)); err != nil {
					recordErr(err)
				}
			}()
		}

		go func(srv *http.Server) {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}(srv)
	}

	if cfg.Global.AutoHTTPS && autoHTTPS != nil {
		challengeHandler := pingclairtls.NewHTTPChallengeHandler(challengeLookup, "", h)
		acmeSrv := &http.Server{Addr: "0.0.0.0:80", Handler: challengeHandler}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := acmeSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				recordErr(fmt.Errorf("serve ACME HTTP-01: %w", err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = acmeSrv.Shutdown(shutdownCtx)
		}()

		go autoHTTPS.StartRenewalLoop(ctx)
	}

	if cfg.Admin != nil && cfg.Admin.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/config/reload", func(w http.ResponseWriter, r *http.Request) {
			summary, err := coordinator.Reload(configPath)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			fmt.Fprintf(w, "reloaded %d servers in %s\n", summary.ServersUpdated, summary.Duration)
		})
		adminSrv := &http.Server{Addr: cfg.Admin.Listen, Handler: mux}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				recordErr(fmt.Errorf("serve admin API: %w", err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = adminSrv.Shutdown(shutdownCtx)
		}()
	}

	go coordinator.ListenAndServeSIGHUP(ctx, configPath)

	wg.Wait()
	return serveErr
}

const reverseproxyMaxStreams = 100

// groupByListenAddr mirrors reload's own grouping (same 0.0.0.0:80
// default, same reload.ListenAddrString formatting) so the listener set
// this function opens exactly matches what a later SIGHUP reload will try
// to route updates to.
func groupByListenAddr(servers []pingclairconfig.ServerConfig) map[string][]pingclairconfig.ServerConfig {
	out := map[string][]pingclairconfig.ServerConfig{}
	for _, sc := range servers {
		addr := "0.0.0.0:80"
		if len(sc.Listen) > 0 {
			addr = reload.ListenAddrString(sc.Listen[0])
		}
		out[addr] = append(out[addr], sc)
	}
	return out
}

func usesTLS(servers []pingclairconfig.ServerConfig) bool {
	for _, sc := range servers {
		for _, l := range sc.Listen {
			if l.Scheme == "https" {
				return true
			}
		}
	}
	return false
}

// h3Port returns the port HTTP/3 should advertise for this listen group,
// matching the TLS port when one is present, or 0 when the group is
// plain HTTP.
func h3Port(servers []pingclairconfig.ServerConfig) int {
	for _, sc := range servers {
		for _, l := range sc.Listen {
			if l.Scheme == "https" {
				if l.Port != 0 {
					return l.Port
				}
				return 443
			}
		}
	}
	return 0
}

func withAltSvc(h *proxy.Handler, port int) http.Handler {
	h.AltSvcH3Port = port
	return h
}

// buildTLS constructs the certificate manager and, when AutoHTTPS is
// enabled, the ACME coordinator backing it. Without AutoHTTPS the Manager
// has no certificate source: nothing in this command registers manual
// certificates.
func buildTLS(cfg *pingclairconfig.PingclairConfig, logger *zap.Logger) (*pingclairtls.Manager, *pingclairtls.AutoHTTPS, pingclairtls.KeyAuthorizationLookup, error) {
	if !cfg.Global.AutoHTTPS {
		return pingclairtls.NewManager(nil, logger), nil, nil, nil
	}

	store := pingclairtls.NewCertStore(pingclairtls.DefaultCertStorePath(), logger)
	if err := store.Init(); err != nil {
		return nil, nil, nil, fmt.Errorf("initializing certificate store: %w", err)
	}

	handler := pingclairtls.NewMemoryChallengeHandler()

	var client *pingclairtls.AcmeClient
	if cfg.Global.Staging {
		client = pingclairtls.NewStagingAcmeClient(cfg.Global.Email, logger)
	} else {
		client = pingclairtls.NewAcmeClient(cfg.Global.Email, logger)
	}

	autoCfg := pingclairtls.DefaultAutoHTTPSConfig()
	autoCfg.Staging = cfg.Global.Staging
	autoCfg.Email = cfg.Global.Email

	autoHTTPS := pingclairtls.NewAutoHTTPS(autoCfg, client, store, handler, logger)
	manager := pingclairtls.NewManager(autoHTTPS, logger)
	return manager, autoHTTPS, handler, nil
}
