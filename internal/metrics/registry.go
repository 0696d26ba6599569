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

// Package metrics is the process-wide Prometheus registry scraped by the
// admin "/metrics" route that cmd/pingclair/serve.go mounts via
// promhttp. It defines and registers the gauges/counters/histograms this
// core instruments, the same way caddy's own metrics.go registers
// adminMetrics at init time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pingclair"

// M is the singleton metric set, explicitly initialized at package load
// and never torn down during normal operation — the "global mutable
// state... documented init point" design note calls for exactly this.
var M = newMetrics()

type metrics struct {
	UpstreamHealthy       *prometheus.GaugeVec
	UpstreamActiveConns   *prometheus.GaugeVec
	RequestsTotal         *prometheus.CounterVec
	ReloadDuration        prometheus.Histogram
	ReloadsTotal          *prometheus.CounterVec
	CertificatesIssued    *prometheus.CounterVec
	CertificateExpirySecs *prometheus.GaugeVec
}

func newMetrics() *metrics {
	return &metrics{
		UpstreamHealthy: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "healthy",
			Help:      "1 if the upstream is currently healthy, 0 otherwise.",
		}, []string{"upstream"}),

		UpstreamActiveConns: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "active_connections",
			Help:      "Number of requests currently proxied to this upstream.",
		}, []string{"upstream"}),

		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total requests served, by server name and route path.",
		}, []string{"server", "path"}),

		ReloadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "duration_seconds",
			Help:      "Time taken to apply a hot-reload of the running configuration.",
			Buckets:   prometheus.DefBuckets,
		}),

		ReloadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "total",
			Help:      "Count of hot-reload attempts, by outcome.",
		}, []string{"outcome"}),

		CertificatesIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acme",
			Name:      "certificates_issued_total",
			Help:      "Count of certificates successfully issued via ACME, by domain.",
		}, []string{"domain"}),

		CertificateExpirySecs: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "certificate_expiry_seconds",
			Help:      "Seconds remaining until the cached certificate for this domain expires.",
		}, []string{"domain"}),
	}
}
