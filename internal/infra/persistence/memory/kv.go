// Package memory provides in-memory implementations of the local key/value
// store and the remote document store, used for tests and ephemeral
// environments.
package memory

import (
	"context"
	"sync"

	"fishlog/pkg/domain"
)

var _ domain.LocalStore = (*KV)(nil)

// KV is an in-memory LocalStore. Values are copied on the way in and out.
type KV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewKV constructs an empty KV.
func NewKV() *KV {
	return &KV{data: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key.
func (s *KV) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set stores value under key.
func (s *KV) Set(ctx context.Context, key string, value []byte) error {
	return s.SetMany(ctx, map[string][]byte{key: value})
}

// SetMany stores every entry under a single lock acquisition.
func (s *KV) SetMany(ctx context.Context, entries map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range entries {
		s.data[k] = append([]byte{}, v...)
	}
	return nil
}

// Remove deletes keys. Missing keys are ignored.
func (s *KV) Remove(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// Keys returns the stored keys in no particular order.
func (s *KV) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}
