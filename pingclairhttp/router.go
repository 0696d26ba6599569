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

package pingclairhttp

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/pingclair/pingclair/pingclairconfig"
)

// CompiledRoute pairs a RouteConfig with its index in the server's route
// list. The regexes of its matcher are precompiled into the owning
// Router's cache, not stored on the route.
type CompiledRoute struct {
	Config pingclairconfig.RouteConfig
	Index  int
}

type cachedRegex struct {
	re  *regexp.Regexp
	err error
}

type prefixBucket struct {
	prefix string
	routes []*CompiledRoute
}

// Router is an immutable, once-built value: a radix-style path index
// (here a longest-prefix index plus an exact-match table, which together
// give the same "grouped candidate list per leaf" semantics a true radix
// tree would) composed with the compiled boolean matcher tree.
type Router struct {
	exact    map[string][]*CompiledRoute
	prefixes []prefixBucket
	defaults []*CompiledRoute
	regexes  map[string]*cachedRegex
	all      []pingclairconfig.RouteConfig
	log      *zap.Logger
}

// NewRouter builds a Router once per ServerConfig's route list.
func NewRouter(routes []pingclairconfig.RouteConfig, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{
		exact:   map[string][]*CompiledRoute{},
		regexes: map[string]*cachedRegex{},
		all:     routes,
		log:     log,
	}

	prefixIndex := map[string]int{}

	for i, rc := range routes {
		path := rc.Path
		if path == "" {
			path = "/"
		}

		cr := &CompiledRoute{Config: rc, Index: i}
		r.compileRouteMatcher(rc.Matcher)

		switch {
		case path == "/*" || path == "/":
			r.defaults = append(r.defaults, cr)

		case strings.HasSuffix(path, "/*"):
			prefix := strings.TrimSuffix(path, "/*")
			r.insertPrefix(prefix, cr, prefixIndex)

		case strings.HasSuffix(path, "*"):
			prefix := strings.TrimSuffix(path, "*")
			r.insertPrefix(prefix, cr, prefixIndex)

		default:
			r.exact[path] = append(r.exact[path], cr)
		}
	}

	sort.Slice(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix)
	})

	return r
}

func (r *Router) insertPrefix(prefix string, cr *CompiledRoute, index map[string]int) {
	if idx, ok := index[prefix]; ok {
		r.prefixes[idx].routes = append(r.prefixes[idx].routes, cr)
		return
	}
	index[prefix] = len(r.prefixes)
	r.prefixes = append(r.prefixes, prefixBucket{prefix: prefix, routes: []*CompiledRoute{cr}})
}

// compileRouteMatcher walks a matcher tree once, precompiling every regex
// condition it finds and caching it by source pattern. A failed compile
// is cached as an error entry for that pattern, so evaluate() treats it
// as "no match" rather than failing the whole router build.
func (r *Router) compileRouteMatcher(m *pingclairconfig.Matcher) {
	if m == nil {
		return
	}
	if m.Header != nil && m.Header.Condition == pingclairconfig.CondRegex {
		r.compileRegex(m.Header.Value)
	}
	if m.Query != nil && m.Query.Condition == pingclairconfig.CondRegex {
		r.compileRegex(m.Query.Value)
	}
	for i := range m.And {
		r.compileRouteMatcher(&m.And[i])
	}
	for i := range m.Or {
		r.compileRouteMatcher(&m.Or[i])
	}
	r.compileRouteMatcher(m.Not)
}

func (r *Router) compileRegex(pattern string) {
	if _, ok := r.regexes[pattern]; ok {
		return
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		r.log.Warn("matcher regex failed to compile, condition will never match", zap.String("pattern", pattern), zap.Error(err))
		r.regexes[pattern] = &cachedRegex{err: err}
		return
	}
	r.regexes[pattern] = &cachedRegex{re: re}
}

// Match finds the first CompiledRoute whose method and matcher conditions
// are satisfied by req, trying exact and prefix candidates before falling
// back to the server's default routes. Candidate order within a group is
// insertion order, the documented tie-break.
func (r *Router) Match(req MatchRequest) *CompiledRoute {
	candidates := r.candidates(req.Path)

	for _, c := range candidates {
		if len(c.Config.Methods) > 0 && !containsFold(c.Config.Methods, req.Method) {
			continue
		}
		if evaluate(c.Config.Matcher, req, r.regexes) {
			return c
		}
	}
	return nil
}

func (r *Router) candidates(path string) []*CompiledRoute {
	var out []*CompiledRoute
	out = append(out, r.exact[path]...)

	for _, b := range r.prefixes {
		if path == b.prefix || strings.HasPrefix(path, b.prefix+"/") || strings.HasPrefix(path, b.prefix) {
			out = append(out, b.routes...)
		}
	}

	out = append(out, r.defaults...)
	return out
}
