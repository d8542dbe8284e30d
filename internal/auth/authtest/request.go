// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/holomush/sessionauth/internal/auth"
)

// Clock is a settable auth.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock stopped at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now implements auth.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Cookie is a cookie recorded by a CookieJar.
type Cookie struct {
	Value string
	TTL   time.Duration
}

// CookieJar is an auth.CookieTransport that remembers what was set, the way
// a browser would between requests.
type CookieJar struct {
	mu      sync.Mutex
	cookies map[string]Cookie
	deleted map[string]int
}

// NewCookieJar creates an empty CookieJar.
func NewCookieJar() *CookieJar {
	return &CookieJar{
		cookies: make(map[string]Cookie),
		deleted: make(map[string]int),
	}
}

// Get implements auth.CookieTransport.
func (j *CookieJar) Get(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	c, ok := j.cookies[name]
	return c.Value, ok
}

// Set implements auth.CookieTransport.
func (j *CookieJar) Set(name, value string, ttl time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies[name] = Cookie{Value: value, TTL: ttl}
}

// Delete implements auth.CookieTransport.
func (j *CookieJar) Delete(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.cookies, name)
	j.deleted[name]++
}

// Cookie returns the recorded cookie.
func (j *CookieJar) Cookie(name string) (Cookie, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	c, ok := j.cookies[name]
	return c, ok
}

// Deleted returns how many times the cookie was deleted.
func (j *CookieJar) Deleted(name string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.deleted[name]
}

// Session is an in-memory auth.SessionStore for a single client.
// Errs injects failures keyed by method name.
type Session struct {
	mu          sync.Mutex
	values      map[string]string
	destroyed   bool
	regenerated int

	Errs map[string]error
}

// NewSession creates an empty Session.
func NewSession() *Session {
	return &Session{
		values: make(map[string]string),
		Errs:   make(map[string]error),
	}
}

// Get implements auth.SessionStore.
func (s *Session) Get(_ context.Context, key string) (string, bool, error) {
	if err := s.Errs["Get"]; err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// Set implements auth.SessionStore.
func (s *Session) Set(_ context.Context, key, value string) error {
	if err := s.Errs["Set"]; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.destroyed = false
	return nil
}

// Delete implements auth.SessionStore.
func (s *Session) Delete(_ context.Context, key string) error {
	if err := s.Errs["Delete"]; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Destroy implements auth.SessionStore.
func (s *Session) Destroy(_ context.Context) error {
	if err := s.Errs["Destroy"]; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
	s.destroyed = true
	return nil
}

// Regenerate implements auth.SessionStore.
func (s *Session) Regenerate(_ context.Context) error {
	if err := s.Errs["Regenerate"]; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regenerated++
	return nil
}

// Value returns the raw session value.
func (s *Session) Value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Destroyed reports whether Destroy ran since the last Set.
func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Regenerated returns how many times the session id was regenerated.
func (s *Session) Regenerated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regenerated
}

// Verify interfaces are satisfied.
var (
	_ auth.Clock           = (*Clock)(nil)
	_ auth.CookieTransport = (*CookieJar)(nil)
	_ auth.SessionStore    = (*Session)(nil)
)
