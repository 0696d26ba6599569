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

// Package pingclairconfig implements the adapter, semantic analyzer, and
// compiler that turn a generic caddyfile.Directive tree into the strongly
// typed runtime configuration consumed by the router and proxy packages.
package pingclairconfig

// PingclairConfig is the root, JSON-serializable runtime configuration.
type PingclairConfig struct {
	Debug   bool            `json:"debug,omitempty"`
	Servers []ServerConfig  `json:"servers"`
	Admin   *AdminConfig    `json:"admin,omitempty"`
	Global  GlobalOptions   `json:"global"`
	Logging *LoggingOptions `json:"logging,omitempty"`
}

// AdminConfig describes the (externally implemented) admin API listener.
// It is carried through the config pipeline only; pingclairconfig never
// starts a listener itself.
type AdminConfig struct {
	Listen string `json:"listen,omitempty"`
}

// GlobalOptions holds server-wide options set from the Caddyfile's global
// block (the nameless top-level directive, or "global"/"options").
type GlobalOptions struct {
	Email     string `json:"email,omitempty"`
	AutoHTTPS bool   `json:"auto_https"`
	Staging   bool   `json:"staging,omitempty"`
}

// LoggingOptions configures the ambient structured logger.
type LoggingOptions struct {
	Level string `json:"level,omitempty"`
	File  string `json:"file,omitempty"`
}

// ListenAddr is one address a ServerConfig binds to.
type ListenAddr struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port,omitempty"`
}

// ServerConfig is one virtual host / listener group.
type ServerConfig struct {
	Name               string        `json:"name,omitempty"`
	Listen             []ListenAddr  `json:"listen"`
	TLS                *TLSConfig    `json:"tls,omitempty"`
	Routes             []RouteConfig `json:"routes"`
	Log                *LogConfig    `json:"log,omitempty"`
	ClientMaxBodySize  int64         `json:"client_max_body_size,omitempty"`
	BlockedCIDRs       []string      `json:"blocked_cidrs,omitempty"`
	CompressAlgorithms []string      `json:"compress,omitempty"`
}

// TLSConfig configures automatic or manual TLS for a server.
type TLSConfig struct {
	Manual      bool   `json:"manual,omitempty"`
	CertFile    string `json:"cert_file,omitempty"`
	KeyFile     string `json:"key_file,omitempty"`
	ChallenType string `json:"challenge_type,omitempty"`
}

// LogConfig configures per-server access logging.
type LogConfig struct {
	Output string `json:"output,omitempty"`
}

// RouteConfig is a single route arm in the compiled routing table.
type RouteConfig struct {
	Path    string        `json:"path"`
	Handler HandlerConfig `json:"handler"`
	Methods []string      `json:"methods,omitempty"`
	Matcher *Matcher      `json:"matcher,omitempty"`
}

// HandlerKind discriminates the HandlerConfig tagged union.
type HandlerKind string

const (
	HandlerReverseProxy HandlerKind = "reverse_proxy"
	HandlerRespond      HandlerKind = "respond"
	HandlerRedirect     HandlerKind = "redirect"
	HandlerHeaders      HandlerKind = "headers"
	HandlerFileServer   HandlerKind = "file_server"
	HandlerPipeline     HandlerKind = "pipeline"
	HandlerHandle       HandlerKind = "handle"
	HandlerPlugin       HandlerKind = "plugin"
	HandlerRateLimit    HandlerKind = "rate_limit"
)

// HandlerConfig is a tagged union over every route handler kind. Only the
// field matching Type is populated; the rest are nil/zero. This mirrors
// the Matcher shape-discriminated encoding described for the compiled
// configuration's wire format.
type HandlerConfig struct {
	Type HandlerKind `json:"type"`

	ReverseProxy *ReverseProxyConfig `json:"reverse_proxy,omitempty"`
	Respond      *RespondConfig      `json:"respond,omitempty"`
	Redirect     *RedirectConfig     `json:"redirect,omitempty"`
	Headers      *HeadersConfig      `json:"headers,omitempty"`
	FileServer   *FileServerConfig   `json:"file_server,omitempty"`
	Pipeline     []HandlerConfig     `json:"pipeline,omitempty"`
	Handle       []HandlerConfig     `json:"handle,omitempty"`
	Plugin       *PluginConfig       `json:"plugin,omitempty"`
	RateLimit    *RateLimitConfig    `json:"rate_limit,omitempty"`
}

// ReverseProxyConfig configures a reverse-proxy handler.
type ReverseProxyConfig struct {
	Upstreams     []string          `json:"upstreams"`
	LoadBalance   LoadBalanceConfig `json:"load_balance"`
	HealthCheck   *HealthCheckConfig `json:"health_check,omitempty"`
	HeadersUp     map[string]string `json:"headers_up,omitempty"`
	HeadersDown   map[string]string `json:"headers_down,omitempty"`
	FlushInterval int64             `json:"flush_interval_ms,omitempty"`
}

// LoadBalanceConfig selects the upstream-selection strategy.
type LoadBalanceConfig struct {
	Strategy string `json:"strategy,omitempty"`
}

// HealthCheckConfig configures active upstream health probing.
type HealthCheckConfig struct {
	Path              string `json:"path,omitempty"`
	IntervalSeconds   int64  `json:"interval,omitempty"`
	TimeoutSeconds    int64  `json:"timeout,omitempty"`
	PositiveThreshold int    `json:"positive_threshold,omitempty"`
	NegativeThreshold int    `json:"negative_threshold,omitempty"`
	HTTP              bool   `json:"http,omitempty"`
}

// RespondConfig configures a static response handler.
type RespondConfig struct {
	Status  int               `json:"status"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// RedirectConfig configures a redirect handler.
type RedirectConfig struct {
	To   string `json:"to"`
	Code int    `json:"code"`
}

// HeadersConfig configures header rewriting.
type HeadersConfig struct {
	Set    map[string]string `json:"set,omitempty"`
	Add    map[string]string `json:"add,omitempty"`
	Remove []string          `json:"remove,omitempty"`
}

// FileServerConfig configures the static file handler.
type FileServerConfig struct {
	Root          string   `json:"root"`
	Index         []string `json:"index,omitempty"`
	Browse        bool     `json:"browse,omitempty"`
	Compress      bool     `json:"compress,omitempty"`
	Precompressed bool     `json:"precompressed,omitempty"`
}

// PluginConfig carries an opaque, unrecognized directive through to a
// future dynamic extension point; pingclair does not load plugin ABIs at
// runtime (that is an explicit Non-goal), so this is an inert passthrough.
type PluginConfig struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// RateLimitConfig configures the supplemental token-bucket rate limiter.
type RateLimitConfig struct {
	RequestsPerWindow int     `json:"requests_per_window"`
	WindowSeconds     float64 `json:"window_seconds"`
	Burst             int     `json:"burst,omitempty"`
	ByIP              bool    `json:"by_ip,omitempty"`
}

// HeaderCondition is the comparison applied by a Header or Query matcher.
type HeaderCondition string

const (
	CondExists     HeaderCondition = "exists"
	CondEquals     HeaderCondition = "equals"
	CondContains   HeaderCondition = "contains"
	CondStartsWith HeaderCondition = "starts_with"
	CondEndsWith   HeaderCondition = "ends_with"
	CondRegex      HeaderCondition = "regex"
)

// Matcher is the compiled, JSON-serializable boolean matcher tree. Exactly
// one field (other than And/Or/Not, which may combine siblings) is set per
// node, discriminated implicitly by which field is non-nil/non-empty.
type Matcher struct {
	Path      []string     `json:"path,omitempty"`
	Header    *HeaderMatch `json:"header,omitempty"`
	Method    []string     `json:"method,omitempty"`
	Query     *HeaderMatch `json:"query,omitempty"`
	Host      []string     `json:"host,omitempty"`
	RemoteIP  []string     `json:"remote_ip,omitempty"`
	Protocol  []string     `json:"protocol,omitempty"`
	Named     string       `json:"named,omitempty"`
	And       []Matcher    `json:"and,omitempty"`
	Or        []Matcher    `json:"or,omitempty"`
	Not       *Matcher     `json:"not,omitempty"`
}

// HeaderMatch is the (name, condition[, value]) tuple shared by Header and
// Query matchers.
type HeaderMatch struct {
	Name      string          `json:"name"`
	Condition HeaderCondition `json:"condition"`
	Value     string          `json:"value,omitempty"`
}
