// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/holomush/sessionauth/internal/auth"
)

type memoryEntry struct {
	values  map[string]string
	expires time.Time
}

// MemoryBackend keeps sessions in process memory. It suits a single
// instance and tests.
type MemoryBackend struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry
	ttl      time.Duration
	clock    auth.Clock
}

// NewMemoryBackend creates a MemoryBackend whose sessions idle out after ttl.
// A nil clock uses the system clock.
func NewMemoryBackend(ttl time.Duration, clock auth.Clock) *MemoryBackend {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = auth.SystemClock{}
	}
	return &MemoryBackend{sessions: make(map[string]*memoryEntry), ttl: ttl, clock: clock}
}

// live returns the entry for id, dropping it if it has expired.
// Caller holds mu.
func (b *MemoryBackend) live(id string) *memoryEntry {
	e, ok := b.sessions[id]
	if !ok {
		return nil
	}
	if !b.clock.Now().Before(e.expires) {
		delete(b.sessions, id)
		return nil
	}
	return e
}

// Get implements Backend.
func (b *MemoryBackend) Get(_ context.Context, id, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.live(id)
	if e == nil {
		return "", false, nil
	}
	v, ok := e.values[key]
	return v, ok, nil
}

// Set implements Backend.
func (b *MemoryBackend) Set(_ context.Context, id, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.live(id)
	if e == nil {
		e = &memoryEntry{values: make(map[string]string)}
		b.sessions[id] = e
	}
	e.values[key] = value
	e.expires = b.clock.Now().Add(b.ttl)
	return nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(_ context.Context, id, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e := b.live(id); e != nil {
		delete(e.values, key)
	}
	return nil
}

// Destroy implements Backend.
func (b *MemoryBackend) Destroy(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
	return nil
}

// Rename implements Backend.
func (b *MemoryBackend) Rename(_ context.Context, oldID, newID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.live(oldID)
	if e == nil {
		return nil
	}
	delete(b.sessions, oldID)
	b.sessions[newID] = &memoryEntry{values: maps.Clone(e.values), expires: e.expires}
	return nil
}

// Len reports how many live sessions are held.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id := range b.sessions {
		if b.live(id) != nil {
			n++
		}
	}
	return n
}

// Compile-time interface check.
var _ Backend = (*MemoryBackend)(nil)
