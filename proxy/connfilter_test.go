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
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectionFilterBlocksConfiguredAddresses(t *testing.T) {
	f := NewConnectionFilter([]string{"127.0.0.1", "192.168.1.0/24"}, nil)

	require.False(t, f.Allow(net.ParseIP("127.0.0.1")))
	require.False(t, f.Allow(net.ParseIP("192.168.1.42")))
	require.True(t, f.Allow(net.ParseIP("10.0.0.1")))
	require.True(t, f.Allow(net.ParseIP("192.168.2.1")))
}

func TestEmptyConnectionFilterAllowsEverything(t *testing.T) {
	f := NewConnectionFilter(nil, nil)
	require.True(t, f.Allow(net.ParseIP("1.2.3.4")))
}

func TestConnectionFilterIgnoresInvalidEntries(t *testing.T) {
	f := NewConnectionFilter([]string{"not-an-ip"}, nil)
	require.True(t, f.Allow(net.ParseIP("1.2.3.4")))
}
