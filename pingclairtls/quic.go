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
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"go.uber.org/zap"
)

// QuicConfig configures the HTTP/3 listener.
type QuicConfig struct {
	Listen                string
	MaxConcurrentStreams  int64
	MaxIdleTimeoutSeconds int
}

// DefaultQuicConfig mirrors the original's tuning: a 100-stream budget
// and a 30-second idle timeout on 0.0.0.0:443.
func DefaultQuicConfig() QuicConfig {
	return QuicConfig{
		Listen:                "0.0.0.0:443",
		MaxConcurrentStreams:  100,
		MaxIdleTimeoutSeconds: 30,
	}
}

// QuicServer exposes Pingclair's routes over HTTP/3 (QUIC), resolving
// certificates through the same Manager the HTTP/1.1 and HTTP/2 listeners
// use, so a single issued certificate serves all three protocols. It is a
// thin wrapper over quic-go's own http3.Server, which handles QUIC stream
// multiplexing and QPACK header (de)compression; pingclair supplies only
// the TLS resolver and the http.Handler to dispatch into.
type QuicServer struct {
	cfg     QuicConfig
	manager *Manager
	log     *zap.Logger

	mu  sync.Mutex
	srv *http3.Server
}

// NewQuicServer builds a QuicServer that resolves certificates via manager.
func NewQuicServer(cfg QuicConfig, manager *Manager, log *zap.Logger) *QuicServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &QuicServer{cfg: cfg, manager: manager, log: log}
}

// Start opens the UDP listener and serves handler over HTTP/3 until ctx is
// cancelled or the server is explicitly Close()d. It blocks; callers
// typically run it in its own goroutine.
func (s *QuicServer) Start(ctx context.Context, handler http.Handler) error {
	tlsConf := &tls.Config{
		GetCertificate: s.manager.GetCertificate,
		NextProtos:     []string{http3.NextProtoH3},
		MinVersion:     tls.VersionTLS13,
	}

	srv := &http3.Server{
		Addr:       s.cfg.Listen,
		Handler:    handler,
		TLSConfig:  tlsConf,
		QUICConfig: &quic.Config{MaxIncomingStreams: s.cfg.MaxConcurrentStreams, MaxIdleTimeout: time.Duration(s.cfg.MaxIdleTimeoutSeconds) * time.Second},
	}

	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	s.log.Info("HTTP/3 QUIC server started",
		zap.String("listen", s.cfg.Listen),
		zap.Int64("max_concurrent_streams", s.cfg.MaxConcurrentStreams))

	if err := srv.ListenAndServe(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve HTTP/3 on %s: %w", s.cfg.Listen, err)
	}
	return nil
}

// Close shuts down the QUIC listener.
func (s *QuicServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	return s.srv.Close()
}
