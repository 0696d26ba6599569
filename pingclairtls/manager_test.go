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
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManagerReturnsManualCertificateFirst(t *testing.T) {
	m := NewManager(nil, nil)
	m.AddManualCertificate("manual.example.com", tls.Certificate{})

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "manual.example.com"})
	require.NoError(t, err)
	require.NotNil(t, cert)
}

func TestManagerErrorsWithNoSNI(t *testing.T) {
	m := NewManager(nil, nil)
	_, err := m.GetCertificate(&tls.ClientHelloInfo{})
	require.Error(t, err)
}

func TestManagerErrorsWithoutAutoHTTPSOnMiss(t *testing.T) {
	m := NewManager(nil, nil)
	_, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "unknown.example.com"})
	require.Error(t, err)
}

func TestManagerCleanupExpiredCacheIsSafeWhenEmpty(t *testing.T) {
	m := NewManager(nil, nil)
	m.CleanupExpiredCache()
}
