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

package fileserver

import (
	"fmt"
	"html"
	"path"
	"strconv"
	"strings"
)

// renderListing builds a minimal HTML directory listing, sorted
// directories-first then alphabetically (the caller already sorted
// entries alphabetically; this just buckets directories ahead of files).
func renderListing(reqPath string, entries []dirEntry) string {
	var dirs, files []dirEntry
	for _, e := range entries {
		if e.IsDir {
			dirs = append(dirs, e)
		} else {
			files = append(files, e)
		}
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head><title>Index of ")
	b.WriteString(html.EscapeString(reqPath))
	b.WriteString("</title></head>\n<body>\n<h1>Index of ")
	b.WriteString(html.EscapeString(reqPath))
	b.WriteString("</h1>\n<ul>\n")

	if reqPath != "/" && reqPath != "" {
		parent := path.Dir(strings.TrimSuffix(reqPath, "/"))
		if !strings.HasSuffix(parent, "/") {
			parent += "/"
		}
		fmt.Fprintf(&b, "<li><a href=%q>../</a></li>\n", parent)
	}

	for _, e := range dirs {
		href := path.Join(reqPath, e.Name) + "/"
		fmt.Fprintf(&b, "<li><a href=%q>%s/</a></li>\n", href, html.EscapeString(e.Name))
	}
	for _, e := range files {
		href := path.Join(reqPath, e.Name)
		fmt.Fprintf(&b, "<li><a href=%q>%s</a> (%s bytes)</li>\n", href, html.EscapeString(e.Name), strconv.FormatInt(e.Size, 10))
	}

	b.WriteString("</ul>\n</body>\n</html>\n")
	return b.String()
}
