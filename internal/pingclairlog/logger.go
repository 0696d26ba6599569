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

// Package pingclairlog builds the process-wide structured logger used by
// every other package: a *zap.Logger writing JSON to stdout by default, or
// to a timberjack-rotated file when a LoggingOptions.File path is set,
// mirroring how caddy's own logging.go wires a *zap.Logger per module.
package pingclairlog

import (
	"os"

	"github.com/DeRuina/timberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pingclair/pingclair/pingclairconfig"
)

// FileRotation mirrors timberjack's tunables for the access/ACME log
// roller. Zero or negative sizes fall back to DefaultFileRotation's
// 100MB, 10 backups and 28 days.
type FileRotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultFileRotation matches the rotation policy Caddy ships with: 100MB
// per file, 10 backups, 28 days, compressed.
func DefaultFileRotation() FileRotation {
	return FileRotation{MaxSizeMB: 100, MaxBackups: 10, MaxAgeDays: 28, Compress: true}
}

// New builds the process logger from the compiled config's LoggingOptions.
// opts may be nil, in which case an info-level stdout JSON logger is
// returned. The returned closer flushes buffered entries and, for a file
// sink, closes the underlying roller; callers should defer it from main.
func New(opts *pingclairconfig.LoggingOptions, rotation FileRotation) (*zap.Logger, func() error, error) {
	level := zapcore.InfoLevel
	file := ""
	if opts != nil {
		file = opts.File
		if opts.Level != "" {
			if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
				level = zapcore.InfoLevel
			}
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	var sink zapcore.WriteSyncer
	var closer func() error

	if file != "" {
		roller := &timberjack.Logger{
			Filename:   file,
			MaxSize:    nonZero(rotation.MaxSizeMB, 100),
			MaxBackups: nonZero(rotation.MaxBackups, 10),
			MaxAge:     nonZero(rotation.MaxAgeDays, 28),
			Compress:   rotation.Compress,
		}
		sink = zapcore.AddSync(roller)
		closer = roller.Close
	} else {
		sink = zapcore.Lock(os.Stdout)
		closer = func() error { return nil }
	}

	core := zapcore.NewCore(encoder, sink, level)
	logger := zap.New(core, zap.AddCaller())

	return logger, func() error {
		_ = logger.Sync()
		return closer()
	}, nil
}

func nonZero(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
