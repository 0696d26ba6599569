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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"github.com/mholt/acmez/v3/acme"
	"github.com/stretchr/testify/require"
)

func TestKeyAuthorizationIsDeterministicForSameKeyAndToken(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	a, err := keyAuthorization(key, "token-123")
	require.NoError(t, err)
	b, err := keyAuthorization(key, "token-123")
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.True(t, strings.HasPrefix(a, "token-123."))
}

func TestKeyAuthorizationDiffersAcrossKeys(t *testing.T) {
	key1, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	key2, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	a, err := keyAuthorization(key1, "token-123")
	require.NoError(t, err)
	b, err := keyAuthorization(key2, "token-123")
	require.NoError(t, err)

	require.NotEqual(t, a, b)
}

func TestDnsIdentifiersBuildsOneEntryPerDomain(t *testing.T) {
	ids := dnsIdentifiers([]string{"example.com", "www.example.com"})
	require.Equal(t, []acme.Identifier{
		{Type: "dns", Value: "example.com"},
		{Type: "dns", Value: "www.example.com"},
	}, ids)
}

func TestSelectHTTP01PicksTheHTTP01Challenge(t *testing.T) {
	authz := acme.Authorization{
		Challenges: []acme.Challenge{
			{Type: "dns-01", Token: "dns-token"},
			{Type: acme.ChallengeTypeHTTP01, Token: "http-token"},
		},
	}

	chal, ok := selectHTTP01(authz)
	require.True(t, ok)
	require.Equal(t, "http-token", chal.Token)
}

func TestSelectHTTP01ReportsMissingChallenge(t *testing.T) {
	authz := acme.Authorization{Challenges: []acme.Challenge{{Type: "dns-01"}}}

	_, ok := selectHTTP01(authz)
	require.False(t, ok)
}

func TestAcmeErrorFormatsWithDomain(t *testing.T) {
	err := AcmeError{Kind: AcmeChallengeFailed, Domain: "example.com", Detail: "deploy challenge response", Err: errors.New("connection refused")}
	require.Equal(t, "example.com: deploy challenge response: connection refused", err.Error())
	require.Equal(t, "connection refused", err.Unwrap().Error())
}

func TestAcmeErrorFormatsWithoutDomain(t *testing.T) {
	err := AcmeError{Kind: AcmeOrderFailed, Detail: "create order", Err: errors.New("server down")}
	require.Equal(t, "create order: server down", err.Error())
}

func TestAcmeErrorUnwrapMatchesErrorsAs(t *testing.T) {
	wrapped := AcmeError{Kind: AcmeAccount, Detail: "create ACME account", Err: errors.New("bad request")}

	var acmeErr AcmeError
	require.True(t, errors.As(wrapped, &acmeErr))
	require.Equal(t, AcmeAccount, acmeErr.Kind)
}
