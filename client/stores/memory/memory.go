// Package memory provides an in-process Backend, used as the session scoped mirror.
// Its contents live as long as the process, which is the closest analogue of a
// browser tab session.
package memory

import (
	"context"
	"sync"

	"github.com/panyam/shopauth"
)

// Backend is a goroutine-safe map backed store
type Backend struct {
	mu     sync.RWMutex
	values map[string]string

	// FailWith, when set, makes every call return this error. Used to simulate
	// disabled or full storage.
	FailWith error
}

var _ shopauth.Backend = (*Backend)(nil)

// NewBackend creates an empty in-memory backend
func NewBackend() *Backend {
	return &Backend{values: make(map[string]string)}
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.FailWith != nil {
		return "", false, b.FailWith
	}
	v, ok := b.values[key]
	return v, ok, nil
}

func (b *Backend) Set(ctx context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWith != nil {
		return b.FailWith
	}
	b.values[key] = value
	return nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWith != nil {
		return b.FailWith
	}
	delete(b.values, key)
	return nil
}

// Keys returns a copy of the stored keys
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	return keys
}
