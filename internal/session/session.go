// Package session is the per-browser key-value store the roster engine reads and writes.
// Values are JSON encoded; a session lives as long as its cookie and backend TTL.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Session is one browser session's storage.
type Session interface {
	ID() string
	// Get decodes the value stored under key into dst and reports whether it existed.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Put(ctx context.Context, key string, value any) error
	Forget(ctx context.Context, key string) error
}

// Backend opens sessions by id.
type Backend interface {
	Open(id string) Session
}

// MemorySession keeps values in process memory. The zero value is not usable; use NewMemory.
type MemorySession struct {
	id     string
	mu     sync.Mutex
	values map[string][]byte
}

// NewMemory returns an empty standalone session, mostly for tests.
func NewMemory(id string) *MemorySession {
	return &MemorySession{id: id, values: make(map[string][]byte)}
}

func (s *MemorySession) ID() string { return s.id }

func (s *MemorySession) Get(ctx context.Context, key string, dst any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.values[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode session key %s: %w", key, err)
	}
	return true, nil
}

func (s *MemorySession) Put(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode session key %s: %w", key, err)
	}
	s.mu.Lock()
	s.values[key] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemorySession) Forget(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}

// MemoryBackend hands out MemorySessions keyed by id.
type MemoryBackend struct {
	mu       sync.Mutex
	sessions map[string]*MemorySession
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]*MemorySession)}
}

func (b *MemoryBackend) Open(id string) Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		s = NewMemory(id)
		b.sessions[id] = s
	}
	return s
}
