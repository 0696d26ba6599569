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

// Package fileserver implements the static file handler: directory/index
// resolution, directory listings, byte-range responses, and compression
// negotiation, in the style of Caddy's legacy staticfiles file server.
package fileserver

import (
	"bytes"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Config mirrors pingclairconfig.FileServerConfig; kept as a distinct type
// so this package has no dependency on the config pipeline.
type Config struct {
	Root          string
	Index         []string
	Browse        bool
	Compress      bool
	Precompressed bool
}

// ServedFile is the result of a successful Serve call.
type ServedFile struct {
	Status          int
	MimeType        string
	Content         []byte
	ContentRange    string
	LastModified    string
	ETag            string
	ContentEncoding string
}

// Handler serves files rooted at Config.Root.
type Handler struct {
	cfg Config
}

// New builds a file-serving Handler.
func New(cfg Config) *Handler {
	if len(cfg.Index) == 0 {
		cfg.Index = []string{"index.html"}
	}
	return &Handler{cfg: cfg}
}

// precompressed sibling suffixes in server preference order.
var precompressedExts = []string{".br", ".zst", ".gz"}

var precompressedEncoding = map[string]string{
	".br":  "br",
	".zst": "zstd",
	".gz":  "gzip",
}

// Serve resolves reqPath against the configured root and returns the
// response to send, or (nil, nil) for "not found" (the caller is expected
// to fall through to a 404).
func (h *Handler) Serve(reqPath, rangeHeader, acceptEncoding string) (*ServedFile, error) {
	joined := filepath.Join(h.cfg.Root, filepath.FromSlash(reqPath))

	// Path traversal guard: a prefix check on the unresolved join is
	// sufficient because filepath.Join already collapses ".." segments
	// before this check runs.
	rootClean := filepath.Clean(h.cfg.Root)
	if joined != rootClean && !strings.HasPrefix(joined, rootClean+string(filepath.Separator)) {
		return nil, nil
	}

	info, err := os.Stat(joined)
	if err != nil {
		return nil, nil
	}

	if info.IsDir() {
		return h.serveDir(joined, reqPath)
	}

	return h.serveFile(joined, info, rangeHeader, acceptEncoding)
}

func (h *Handler) serveDir(dir, reqPath string) (*ServedFile, error) {
	for _, idx := range h.cfg.Index {
		candidate := filepath.Join(dir, idx)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return h.serveFile(candidate, info, "", "")
		}
	}

	if h.cfg.Browse {
		return h.generateListing(dir, reqPath)
	}

	return nil, nil
}

func (h *Handler) serveFile(path string, info os.FileInfo, rangeHeader, acceptEncoding string) (*ServedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	etag := calculateETag(info)
	lastModified := info.ModTime().UTC().Format(http1123)
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	sf := &ServedFile{
		Status:       200,
		MimeType:     mimeType,
		Content:      data,
		LastModified: lastModified,
		ETag:         etag,
	}

	if rangeHeader != "" {
		if start, end, ok := ParseRange(rangeHeader, len(data)); ok {
			sf.Content = data[start : end+1]
			sf.Status = 206
			sf.ContentRange = fmt.Sprintf("bytes %d-%d/%d", start, end, len(data))
			return sf, nil
		}
	}

	if sf.Status == 200 {
		h.applyCompression(sf, path, acceptEncoding)
	}

	return sf, nil
}

// applyCompression implements the precompressed-sibling lookup, falling
// back to on-the-fly compression, in br > zstd > gzip preference order.
// No brotli encoder is available in this build's dependency set (see
// DESIGN.md), so on-the-fly compression only ever produces zstd or gzip;
// a precompressed ".br" sibling is still served as-is when present.
func (h *Handler) applyCompression(sf *ServedFile, path, acceptEncoding string) {
	if h.cfg.Precompressed {
		for _, ext := range precompressedExts {
			if !acceptEncodingAllows(acceptEncoding, precompressedEncoding[ext]) {
				continue
			}
			sibling := path + ext
			if data, err := os.ReadFile(sibling); err == nil {
				sf.Content = data
				sf.ContentEncoding = precompressedEncoding[ext]
				return
			}
		}
	}

	if !h.cfg.Compress {
		return
	}

	switch {
	case acceptEncodingAllows(acceptEncoding, "zstd"):
		if compressed, ok := compressZstd(sf.Content); ok {
			sf.Content = compressed
			sf.ContentEncoding = "zstd"
		}
	case acceptEncodingAllows(acceptEncoding, "gzip"):
		if compressed, ok := compressGzip(sf.Content); ok {
			sf.Content = compressed
			sf.ContentEncoding = "gzip"
		}
	}
}

// acceptEncodingAllows does a substring match against Accept-Encoding,
// not full quality-value negotiation, per the documented simplification.
func acceptEncodingAllows(acceptEncoding, encoding string) bool {
	return strings.Contains(acceptEncoding, encoding)
}

func compressGzip(data []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

func compressZstd(data []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, false
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

const http1123 = "Mon, 02 Jan 2006 15:04:05 GMT"

// calculateETag produces the "<size-hex>-<mtime-elapsed-hex>" ETag this
// spec requires, deliberately not the conventional quoted strong/weak
// validator format.
func calculateETag(info os.FileInfo) string {
	return fmt.Sprintf("%x-%x", info.Size(), info.ModTime().Unix())
}

// ParseRange parses a "bytes=A-B" Range header against a resource of
// length size, returning (start, end) inclusive. end defaults to size-1
// when omitted ("bytes=A-"). Returns ok=false when A > B or A >= size.
func ParseRange(header string, size int) (start, end int, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, prefix)
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	if parts[0] == "" {
		return 0, 0, false
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil || start < 0 {
		return 0, 0, false
	}

	end = size - 1
	if parts[1] != "" {
		e, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, false
		}
		end = e
	}

	if end > size-1 {
		end = size - 1
	}
	if start > end || start >= size {
		return 0, 0, false
	}
	return start, end, true
}

type dirEntry struct {
	Name  string
	IsDir bool
	Size  int64
}

func (h *Handler) generateListing(dir, reqPath string) (*ServedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var items []dirEntry
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, dirEntry{Name: e.Name(), IsDir: e.IsDir(), Size: info.Size()})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	html := renderListing(reqPath, items)
	return &ServedFile{Status: 200, MimeType: "text/html; charset=utf-8", Content: []byte(html)}, nil
}
