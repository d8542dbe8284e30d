// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package session provides the server-side session state bound to a session
// cookie, backed by Redis or process memory.
package session

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
)

// DefaultTTL is how long an idle session survives.
const DefaultTTL = 2 * time.Hour

// Backend persists session key/value state by session identifier.
type Backend interface {
	Get(ctx context.Context, id, key string) (string, bool, error)
	Set(ctx context.Context, id, key, value string) error
	Delete(ctx context.Context, id, key string) error
	Destroy(ctx context.Context, id string) error
	// Rename moves the state of oldID to newID. A missing oldID is not an
	// error.
	Rename(ctx context.Context, oldID, newID string) error
}

// NewID returns a fresh random session identifier.
func NewID() (string, error) {
	id, err := auth.GenerateTokenValue()
	if err != nil {
		return "", oops.Code("SESSION_ID_FAILED").Wrap(err)
	}
	return id, nil
}

// Handle binds a Backend to the session of one request and implements
// auth.SessionStore. OnChange is called with the new identifier after
// Regenerate and with "" after Destroy, so the transport can reissue or
// drop the session cookie.
type Handle struct {
	backend  Backend
	id       string
	OnChange func(id string)
}

// NewHandle binds backend to id. An empty id is allocated on first write.
func NewHandle(backend Backend, id string) *Handle {
	return &Handle{backend: backend, id: id}
}

// ID returns the current session identifier, "" when none is allocated.
func (h *Handle) ID() string {
	return h.id
}

// Get implements auth.SessionStore.
func (h *Handle) Get(ctx context.Context, key string) (string, bool, error) {
	if h.id == "" {
		return "", false, nil
	}
	return h.backend.Get(ctx, h.id, key)
}

// Set implements auth.SessionStore.
func (h *Handle) Set(ctx context.Context, key, value string) error {
	if h.id == "" {
		if err := h.allocate(); err != nil {
			return err
		}
	}
	return h.backend.Set(ctx, h.id, key, value)
}

// Delete implements auth.SessionStore.
func (h *Handle) Delete(ctx context.Context, key string) error {
	if h.id == "" {
		return nil
	}
	return h.backend.Delete(ctx, h.id, key)
}

// Destroy implements auth.SessionStore.
func (h *Handle) Destroy(ctx context.Context) error {
	if h.id == "" {
		return nil
	}
	if err := h.backend.Destroy(ctx, h.id); err != nil {
		return err
	}
	h.id = ""
	h.changed()
	return nil
}

// Regenerate implements auth.SessionStore.
func (h *Handle) Regenerate(ctx context.Context) error {
	if h.id == "" {
		return h.allocate()
	}
	newID, err := NewID()
	if err != nil {
		return err
	}
	if err := h.backend.Rename(ctx, h.id, newID); err != nil {
		return err
	}
	h.id = newID
	h.changed()
	return nil
}

func (h *Handle) allocate() error {
	id, err := NewID()
	if err != nil {
		return err
	}
	h.id = id
	h.changed()
	return nil
}

func (h *Handle) changed() {
	if h.OnChange != nil {
		h.OnChange(h.id)
	}
}

// Compile-time interface check.
var _ auth.SessionStore = (*Handle)(nil)
