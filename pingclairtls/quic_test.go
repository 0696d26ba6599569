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
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultQuicConfig(t *testing.T) {
	cfg := DefaultQuicConfig()
	require.Equal(t, "0.0.0.0:443", cfg.Listen)
	require.EqualValues(t, 100, cfg.MaxConcurrentStreams)
	require.Equal(t, 30, cfg.MaxIdleTimeoutSeconds)
}

func TestNewQuicServerClosesCleanlyBeforeStart(t *testing.T) {
	manager := NewManager(nil, zap.NewNop())
	s := NewQuicServer(DefaultQuicConfig(), manager, zap.NewNop())
	require.NotNil(t, s)

	// Close before Start has ever run must be a no-op, not a panic.
	require.NoError(t, s.Close())
}

func TestNewQuicServerDefaultsLoggerWhenNil(t *testing.T) {
	manager := NewManager(nil, zap.NewNop())
	s := NewQuicServer(DefaultQuicConfig(), manager, nil)
	require.NotNil(t, s.log)
}
