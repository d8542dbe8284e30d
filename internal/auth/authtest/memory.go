// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authtest provides in-memory collaborators for testing the auth package.
package authtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/sessionauth/internal/auth"
)

// Store is an in-memory user, role and token store.
//
// Errs injects failures: a non-nil entry keyed by method name (for example
// "GetByUsername" or "Tokens.Rotate") is returned instead of running the
// method.
type Store struct {
	mu     sync.Mutex
	users  map[ulid.ULID]auth.User
	roles  map[ulid.ULID]map[string]bool
	known  map[string]bool
	tokens map[string]auth.Token // keyed by value digest

	Errs map[string]error
}

// NewStore creates an empty Store that knows the given role names.
func NewStore(roles ...string) *Store {
	s := &Store{
		users:  make(map[ulid.ULID]auth.User),
		roles:  make(map[ulid.ULID]map[string]bool),
		known:  make(map[string]bool),
		tokens: make(map[string]auth.Token),
		Errs:   make(map[string]error),
	}
	for _, r := range roles {
		s.known[r] = true
	}
	return s
}

// AddUser stores a user and grants it roles, registering unknown role names.
func (s *Store) AddUser(u *auth.User, roles ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = *u
	if s.roles[u.ID] == nil {
		s.roles[u.ID] = make(map[string]bool)
	}
	for _, r := range roles {
		s.known[r] = true
		s.roles[u.ID][r] = true
	}
}

// User returns a copy of the stored user.
func (s *Store) User(id ulid.ULID) (auth.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

// TokensFor returns copies of every token owned by the user.
func (s *Store) TokensFor(userID ulid.ULID) []auth.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Token
	for _, t := range s.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) fail(method string) error {
	return s.Errs[method]
}

// GetByID implements auth.UserRepository.
func (s *Store) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	if err := s.fail("GetByID"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &u, nil
}

// GetByUsername implements auth.UserRepository.
func (s *Store) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	if err := s.fail("GetByUsername"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return &u, nil
		}
	}
	return nil, auth.ErrNotFound
}

// RecordLogin implements auth.UserRepository.
func (s *Store) RecordLogin(_ context.Context, id ulid.ULID, at time.Time) error {
	if err := s.fail("RecordLogin"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.RecordLogin(at)
	s.users[id] = u
	return nil
}

// UpdatePassword implements auth.UserRepository.
func (s *Store) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	if err := s.fail("UpdatePassword"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	s.users[id] = u
	return nil
}

// DeleteTokens implements auth.UserRepository.
func (s *Store) DeleteTokens(_ context.Context, id ulid.ULID) error {
	if err := s.fail("DeleteTokens"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.tokens {
		if t.UserID == id {
			delete(s.tokens, k)
		}
	}
	return nil
}

// HasRoles implements auth.RoleChecker.
func (s *Store) HasRoles(_ context.Context, userID ulid.ULID, roles ...string) (bool, error) {
	if err := s.fail("HasRoles"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range roles {
		if !s.known[r] || !s.roles[userID][r] {
			return false, nil
		}
	}
	return true, nil
}

// Tokens returns the token repository view of the store.
func (s *Store) Tokens() *Tokens {
	return &Tokens{s: s}
}

// Tokens implements auth.TokenRepository on top of a Store.
type Tokens struct {
	s *Store
}

// Create implements auth.TokenRepository.
func (t *Tokens) Create(_ context.Context, token *auth.Token) error {
	if err := t.s.fail("Tokens.Create"); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	stored := *token
	stored.Value = ""
	t.s.tokens[token.Hash()] = stored
	return nil
}

// GetByValue implements auth.TokenRepository.
func (t *Tokens) GetByValue(_ context.Context, value string) (*auth.Token, error) {
	if err := t.s.fail("Tokens.GetByValue"); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	stored, ok := t.s.tokens[auth.HashToken(value)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	stored.Value = value
	return &stored, nil
}

// Rotate implements auth.TokenRepository.
func (t *Tokens) Rotate(_ context.Context, token *auth.Token) error {
	if err := t.s.fail("Tokens.Rotate"); err != nil {
		return err
	}
	value, err := auth.GenerateTokenValue()
	if err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	oldHash := token.Hash()
	stored, ok := t.s.tokens[oldHash]
	if !ok || stored.ID != token.ID {
		return auth.ErrNotFound
	}
	delete(t.s.tokens, oldHash)
	t.s.tokens[auth.HashToken(value)] = stored
	token.Value = value
	return nil
}

// Delete implements auth.TokenRepository.
func (t *Tokens) Delete(_ context.Context, id ulid.ULID) error {
	if err := t.s.fail("Tokens.Delete"); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for k, tok := range t.s.tokens {
		if tok.ID == id {
			delete(t.s.tokens, k)
			return nil
		}
	}
	return auth.ErrNotFound
}

// DeleteByUser implements auth.TokenRepository.
func (t *Tokens) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	if err := t.s.fail("Tokens.DeleteByUser"); err != nil {
		return err
	}
	return t.s.DeleteTokens(ctx, userID)
}

// DeleteExpired implements auth.TokenRepository.
func (t *Tokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	if err := t.s.fail("Tokens.DeleteExpired"); err != nil {
		return 0, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var n int64
	for k, tok := range t.s.tokens {
		if tok.IsExpiredAt(now) {
			delete(t.s.tokens, k)
			n++
		}
	}
	return n, nil
}

// Verify interfaces are satisfied.
var (
	_ auth.UserRepository  = (*Store)(nil)
	_ auth.RoleChecker     = (*Store)(nil)
	_ auth.TokenRepository = (*Tokens)(nil)
)
