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
	"net/http"
	"strings"
)

// VariableResolver resolves "${...}" placeholders against one request's
// fields (req.host, req.path, req.method, req.remote_ip, req.header["X"],
// req.query["x"]) and a set of custom variables (custom.name, or a bare
// name as shorthand for it). An unset variable resolves to the empty
// string rather than an error, matching resolve_template's documented
// "value(x) if set else """ behavior.
type VariableResolver struct {
	headers  http.Header
	query    map[string][]string
	host     string
	path     string
	method   string
	remoteIP string
	custom   map[string]string
}

// NewVariableResolver builds a resolver scoped to one inbound request.
// custom may be nil.
func NewVariableResolver(r *http.Request, remoteIP string, custom map[string]string) *VariableResolver {
	return &VariableResolver{
		headers:  r.Header,
		query:    r.URL.Query(),
		host:     r.Host,
		path:     r.URL.Path,
		method:   r.Method,
		remoteIP: remoteIP,
		custom:   custom,
	}
}

// shortAliases lets header_up/header_down expressions use the same bare
// names Caddy's own placeholder replacer recognizes (e.g. "remote_host")
// instead of spelling out the full "req.remote_ip" path every time.
var shortAliases = map[string]string{
	"remote_host": "req.remote_ip",
	"host":        "req.host",
	"uri":         "req.path",
	"method":      "req.method",
}

// Resolve looks up one dotted variable path, e.g. "req.host" or
// "custom.tenant", returning ("", false) if it isn't set.
func (v *VariableResolver) Resolve(path string) (string, bool) {
	if alias, ok := shortAliases[path]; ok {
		path = alias
	}

	name, rest, hasDot := strings.Cut(path, ".")
	switch {
	case hasDot && name == "req":
		return v.resolveRequest(rest)
	case hasDot && name == "custom":
		s, ok := v.custom[rest]
		return s, ok
	case !hasDot:
		s, ok := v.custom[name]
		return s, ok
	default:
		return "", false
	}
}

func (v *VariableResolver) resolveRequest(path string) (string, bool) {
	if idx := strings.IndexByte(path, '['); idx != -1 && strings.HasSuffix(path, "]") {
		prefix := path[:idx]
		key := strings.Trim(path[idx+1:len(path)-1], `"`)
		switch prefix {
		case "header":
			val := v.headers.Get(key)
			return val, val != ""
		case "query":
			vals, ok := v.query[key]
			if !ok || len(vals) == 0 {
				return "", false
			}
			return vals[0], true
		default:
			return "", false
		}
	}

	switch path {
	case "host":
		return v.host, true
	case "path":
		return v.path, true
	case "method":
		return v.method, true
	case "remote_ip":
		return v.remoteIP, true
	default:
		return "", false
	}
}

// ResolveTemplate scans template for "${path}" substrings and substitutes
// each with Resolve(path), using "" for anything unset.
func (v *VariableResolver) ResolveTemplate(template string) string {
	var out strings.Builder
	out.Grow(len(template))

	for {
		start := strings.Index(template, "${")
		if start == -1 {
			out.WriteString(template)
			break
		}
		end := strings.IndexByte(template[start+2:], '}')
		if end == -1 {
			out.WriteString(template)
			break
		}
		end += start + 2

		out.WriteString(template[:start])
		if val, ok := v.Resolve(template[start+2 : end]); ok {
			out.WriteString(val)
		}
		template = template[end+1:]
	}

	return out.String()
}
