// Package cache stores resolved attributedBody results so repeated
// imports skip the extraction work for bodies already seen.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/wesm/imsgtext/internal/attrbody"
)

// Cache looks up and stores resolve results by key.
type Cache interface {
	// Get returns the cached result for key. ok is false on a miss.
	Get(ctx context.Context, key string) (result attrbody.Result, ok bool, err error)
	Set(ctx context.Context, key string, result attrbody.Result) error
}

// Key derives the cache key for a message resolved under the policy with
// the given fingerprint. Only body-derived results are cacheable, so the
// plain text does not take part.
func Key(fingerprint string, m attrbody.Message) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0, flagByte(m.HasAttachments), flagByte(m.IsReaction), 0})
	h.Write(m.AttributedBody)
	return hex.EncodeToString(h.Sum(nil))
}

func flagByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Memory is an in-process Cache without expiry.
type Memory struct {
	mu      sync.Mutex
	entries map[string]attrbody.Result
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]attrbody.Result)}
}

func (m *Memory) Get(_ context.Context, key string) (attrbody.Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.entries[key]
	return r, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, result attrbody.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = result
	return nil
}

// Len returns the number of cached entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
