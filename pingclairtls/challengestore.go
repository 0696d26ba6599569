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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryChallengeHandler deploys HTTP-01 tokens in memory only; tokens do
// not survive a process restart. Suitable for short-lived or test runs.
type MemoryChallengeHandler struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewMemoryChallengeHandler builds an empty in-memory handler.
func NewMemoryChallengeHandler() *MemoryChallengeHandler {
	return &MemoryChallengeHandler{tokens: map[string]string{}}
}

func (h *MemoryChallengeHandler) Deploy(_ context.Context, token, keyAuthorization string) error {
	h.mu.Lock()
	h.tokens[token] = keyAuthorization
	h.mu.Unlock()
	return nil
}

func (h *MemoryChallengeHandler) CleanUp(_ context.Context, token string) error {
	h.mu.Lock()
	delete(h.tokens, token)
	h.mu.Unlock()
	return nil
}

// KeyAuthorization returns the deployed key authorization for token, if any.
func (h *MemoryChallengeHandler) KeyAuthorization(token string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.tokens[token]
	return v, ok
}

type tokenEntry struct {
	KeyAuthorization string `json:"key_authorization"`
	CreatedAt        int64  `json:"created_at"`
}

type tokenStorage struct {
	Tokens map[string]tokenEntry `json:"tokens"`
}

// PersistentChallengeHandler persists HTTP-01 tokens to a JSON file so
// pending challenges survive a service restart mid-issuance.
type PersistentChallengeHandler struct {
	storagePath string
	log         *zap.Logger

	mu     sync.RWMutex
	tokens map[string]tokenEntry
}

// NewPersistentChallengeHandler loads any existing tokens from
// storagePath (tolerating a missing or corrupt file by starting fresh)
// and ensures the parent directory exists.
func NewPersistentChallengeHandler(storagePath string, log *zap.Logger) (*PersistentChallengeHandler, error) {
	if log == nil {
		log = zap.NewNop()
	}

	tokens := map[string]tokenEntry{}
	if data, err := os.ReadFile(storagePath); err == nil {
		var stored tokenStorage
		if err := json.Unmarshal(data, &stored); err == nil {
			tokens = stored.Tokens
			log.Info("loaded persisted ACME tokens", zap.Int("count", len(tokens)))
		} else {
			log.Warn("corrupt challenge file found, starting fresh", zap.Error(err))
		}
	}

	if err := os.MkdirAll(filepath.Dir(storagePath), 0o700); err != nil {
		return nil, fmt.Errorf("create challenge storage directory: %w", err)
	}

	h := &PersistentChallengeHandler{storagePath: storagePath, log: log, tokens: tokens}
	if err := h.saveLocked(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *PersistentChallengeHandler) Deploy(_ context.Context, token, keyAuthorization string) error {
	h.mu.Lock()
	h.tokens[token] = tokenEntry{KeyAuthorization: keyAuthorization, CreatedAt: time.Now().Unix()}
	err := h.saveLocked()
	h.mu.Unlock()
	h.log.Debug("persisted ACME token")
	return err
}

func (h *PersistentChallengeHandler) CleanUp(_ context.Context, token string) error {
	h.mu.Lock()
	delete(h.tokens, token)
	err := h.saveLocked()
	h.mu.Unlock()
	h.log.Debug("removed ACME token")
	return err
}

// KeyAuthorization returns the persisted key authorization for token.
func (h *PersistentChallengeHandler) KeyAuthorization(token string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.tokens[token]
	return entry.KeyAuthorization, ok
}

func (h *PersistentChallengeHandler) saveLocked() error {
	data, err := json.MarshalIndent(tokenStorage{Tokens: h.tokens}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token storage: %w", err)
	}
	if err := os.WriteFile(h.storagePath, data, 0o600); err != nil {
		return fmt.Errorf("write token storage: %w", err)
	}
	return nil
}
