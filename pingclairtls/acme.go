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
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/mholt/acmez/v3/acme"
	"go.uber.org/zap"
)

// ACME directory endpoints.
const (
	LetsEncryptProduction = "https://acme-v02.api.letsencrypt.org/directory"
	LetsEncryptStaging    = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

// AcmeErrorKind classifies which stage of the ACME order state machine
// failed.
type AcmeErrorKind int

const (
	AcmeAccount AcmeErrorKind = iota
	AcmeOrderFailed
	AcmeChallengeFailed
	AcmeCertGeneration
	AcmeProtocol
)

// AcmeError is a terminal error raised while driving an order through the
// ACME v2 (RFC 8555) state machine.
type AcmeError struct {
	Kind   AcmeErrorKind
	Domain string
	Detail string
	Err    error
}

func (e AcmeError) Error() string {
	if e.Domain != "" {
		return fmt.Sprintf("%s: %s: %v", e.Domain, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Detail, e.Err)
}

func (e AcmeError) Unwrap() error { return e.Err }

// ChallengeHandler deploys and removes the proof an ACME challenge needs
// in order to validate; pingclair uses it only for HTTP-01.
type ChallengeHandler interface {
	Deploy(ctx context.Context, token, keyAuthorization string) error
	CleanUp(ctx context.Context, token string) error
}

// AcmeClient drives the RFC 8555 account/order/authorize/challenge/
// finalize/download state machine directly against acmez's low-level
// acme.Client, rather than through acmez.Client's single-call
// ObtainCertificate convenience wrapper: the order's step sequence,
// per-authorization challenge selection, and cleanup are this package's
// own responsibility, not something a library call hides.
type AcmeClient struct {
	directoryURL string
	email        string
	log          *zap.Logger
}

// NewAcmeClient builds a client against the production directory.
func NewAcmeClient(email string, log *zap.Logger) *AcmeClient {
	return newAcmeClient(LetsEncryptProduction, email, log)
}

// NewStagingAcmeClient builds a client against the staging directory,
// whose certificates are not browser-trusted but are unrate-limited.
func NewStagingAcmeClient(email string, log *zap.Logger) *AcmeClient {
	return newAcmeClient(LetsEncryptStaging, email, log)
}

func newAcmeClient(directory, email string, log *zap.Logger) *AcmeClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &AcmeClient{directoryURL: directory, email: email, log: log}
}

// ObtainCertificate runs the ACME order/authorize/finalize flow for
// domains, using handler to serve HTTP-01 challenges, and returns the
// issued certificate with an approximate 90-day expiry window matching
// what Let's Encrypt actually issues.
//
// The steps below are explicit rather than delegated to one library call:
// directory selection happens at construction (directoryURL), then
// account, order, per-authorization challenge solving, finalize, and
// download each run as their own request against the directory's
// endpoints, with every deployed challenge cleaned up before returning
// regardless of which step failed.
func (c *AcmeClient) ObtainCertificate(ctx context.Context, domains []string, handler ChallengeHandler) (Certificate, error) {
	c.log.Info("obtaining certificate", zap.Strings("domains", domains))

	client := &acme.Client{Directory: c.directoryURL}

	account, accountKey, err := c.ensureAccount(ctx, client)
	if err != nil {
		return Certificate{}, err
	}

	order, err := client.NewOrder(ctx, account, acme.Order{Identifiers: dnsIdentifiers(domains)})
	if err != nil {
		return Certificate{}, AcmeError{Kind: AcmeOrderFailed, Detail: "create order", Err: err}
	}
	c.log.Debug("order created", zap.String("order_url", order.Location))

	var deployed []string
	defer func() {
		for _, token := range deployed {
			if err := handler.CleanUp(ctx, token); err != nil {
				c.log.Warn("cleanup ACME challenge token failed", zap.String("token", token), zap.Error(err))
			}
		}
	}()

	for _, authzURL := range order.Authorizations {
		token, err := c.satisfyAuthorization(ctx, client, account, accountKey, authzURL, handler)
		if token != "" {
			deployed = append(deployed, token)
		}
		if err != nil {
			return Certificate{}, err
		}
	}

	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Certificate{}, AcmeError{Kind: AcmeCertGeneration, Detail: "generate certificate key", Err: err}
	}
	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{DNSNames: domains}, certKey)
	if err != nil {
		return Certificate{}, AcmeError{Kind: AcmeCertGeneration, Detail: "build certificate signing request", Err: err}
	}

	order, err = client.FinalizeOrder(ctx, account, order, csrDER)
	if err != nil {
		return Certificate{}, AcmeError{Kind: AcmeOrderFailed, Detail: "finalize order", Err: err}
	}
	if order.Status != acme.StatusValid {
		return Certificate{}, AcmeError{Kind: AcmeOrderFailed, Detail: "order did not reach the valid status"}
	}

	certs, err := client.GetCertificateChain(ctx, account, order.Certificate)
	if err != nil {
		return Certificate{}, AcmeError{Kind: AcmeCertGeneration, Detail: "download certificate", Err: err}
	}
	if len(certs) == 0 {
		return Certificate{}, AcmeError{Kind: AcmeCertGeneration, Detail: "ACME server returned no certificates"}
	}

	keyPEM, err := marshalECKey(certKey)
	if err != nil {
		return Certificate{}, AcmeError{Kind: AcmeCertGeneration, Detail: "marshal certificate key", Err: err}
	}

	c.log.Info("certificate obtained", zap.Strings("domains", domains))

	return Certificate{
		CertPEM:   string(certs[0].ChainPEM),
		KeyPEM:    keyPEM,
		Domains:   domains,
		ExpiresAt: time.Now().Add(89 * 24 * time.Hour).Unix(),
	}, nil
}

// ensureAccount generates a fresh account key and registers it with the
// directory, agreeing to its terms of service on pingclair's behalf.
func (c *AcmeClient) ensureAccount(ctx context.Context, client *acme.Client) (acme.Account, *ecdsa.PrivateKey, error) {
	accountKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return acme.Account{}, nil, AcmeError{Kind: AcmeAccount, Detail: "generate account key", Err: err}
	}

	var contact []string
	if c.email != "" {
		contact = []string{"mailto:" + c.email}
	}

	account := acme.Account{
		Contact:              contact,
		TermsOfServiceAgreed: true,
		PrivateKey:           accountKey,
	}
	account, err = client.NewAccount(ctx, account)
	if err != nil {
		return acme.Account{}, nil, AcmeError{Kind: AcmeAccount, Detail: "create ACME account", Err: err}
	}
	return account, accountKey, nil
}

// satisfyAuthorization drives one authorization through challenge
// selection, deployment, the ready signal, and validation polling. It
// returns the token it deployed (so the caller can clean it up even on
// failure) and any error encountered.
func (c *AcmeClient) satisfyAuthorization(ctx context.Context, client *acme.Client, account acme.Account, accountKey *ecdsa.PrivateKey, authzURL string, handler ChallengeHandler) (string, error) {
	authz, err := client.GetAuthorization(ctx, account, authzURL)
	if err != nil {
		return "", AcmeError{Kind: AcmeProtocol, Detail: "fetch authorization", Err: err}
	}
	if authz.Status == acme.StatusValid {
		return "", nil
	}

	domain := authz.Identifier.Value

	chal, ok := selectHTTP01(authz)
	if !ok {
		return "", AcmeError{Kind: AcmeChallengeFailed, Domain: domain, Detail: "no http-01 challenge offered"}
	}

	keyAuth, err := keyAuthorization(accountKey, chal.Token)
	if err != nil {
		return "", AcmeError{Kind: AcmeChallengeFailed, Domain: domain, Detail: "compute key authorization", Err: err}
	}
	chal.KeyAuthorization = keyAuth

	if err := handler.Deploy(ctx, chal.Token, keyAuth); err != nil {
		return "", AcmeError{Kind: AcmeChallengeFailed, Domain: domain, Detail: "deploy challenge response", Err: err}
	}

	if _, err := client.InitiateChallenge(ctx, account, chal); err != nil {
		return chal.Token, AcmeError{Kind: AcmeChallengeFailed, Domain: domain, Detail: "notify challenge ready", Err: err}
	}

	authz, err = client.PollAuthorization(ctx, account, authz)
	if err != nil {
		return chal.Token, AcmeError{Kind: AcmeChallengeFailed, Domain: domain, Detail: "poll authorization", Err: err}
	}
	if authz.Status != acme.StatusValid {
		return chal.Token, AcmeError{Kind: AcmeChallengeFailed, Domain: domain, Detail: "authorization did not validate"}
	}

	return chal.Token, nil
}

func selectHTTP01(authz acme.Authorization) (acme.Challenge, bool) {
	for _, chal := range authz.Challenges {
		if chal.Type == acme.ChallengeTypeHTTP01 {
			return chal, true
		}
	}
	return acme.Challenge{}, false
}

func dnsIdentifiers(domains []string) []acme.Identifier {
	ids := make([]acme.Identifier, len(domains))
	for i, d := range domains {
		ids[i] = acme.Identifier{Type: "dns", Value: d}
	}
	return ids
}

// jwkECThumbprint is the RFC 7638 JSON Web Key thumbprint input for an EC
// public key; field order matters; it must be lexicographic, which the
// struct's field declaration order already satisfies.
type jwkECThumbprint struct {
	Crv string `json:"crv"`
	Kty string `json:"kty"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// keyAuthorization computes an HTTP-01 challenge's key authorization
// (RFC 8555 §8.1): the challenge token joined with the base64url SHA-256
// thumbprint of the account key's JWK, a value the server never sends and
// every client must derive itself.
func keyAuthorization(key *ecdsa.PrivateKey, token string) (string, error) {
	size := (key.PublicKey.Curve.Params().BitSize + 7) / 8
	xb := make([]byte, size)
	yb := make([]byte, size)
	key.PublicKey.X.FillBytes(xb)
	key.PublicKey.Y.FillBytes(yb)

	thumb := jwkECThumbprint{
		Crv: "P-256",
		Kty: "EC",
		X:   base64.RawURLEncoding.EncodeToString(xb),
		Y:   base64.RawURLEncoding.EncodeToString(yb),
	}
	data, err := json.Marshal(thumb)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return token + "." + base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

func marshalECKey(key *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", err
	}
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}
