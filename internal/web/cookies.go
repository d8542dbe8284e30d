// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"net/http"
	"time"

	"github.com/holomush/sessionauth/internal/auth"
)

// CookieOptions controls the attributes of every cookie the API issues.
type CookieOptions struct {
	Path   string
	Secure bool
}

func (o CookieOptions) normalize() CookieOptions {
	if o.Path == "" {
		o.Path = "/"
	}
	return o
}

// HTTPCookies implements auth.CookieTransport over one request/response
// pair. Cookies written during the request are visible to later reads in
// the same request.
type HTTPCookies struct {
	w       http.ResponseWriter
	r       *http.Request
	opts    CookieOptions
	now     func() time.Time
	pending map[string]*string // nil value means deleted
}

// NewHTTPCookies binds a cookie transport to w and r.
func NewHTTPCookies(w http.ResponseWriter, r *http.Request, opts CookieOptions) *HTTPCookies {
	return &HTTPCookies{
		w:       w,
		r:       r,
		opts:    opts.normalize(),
		now:     time.Now,
		pending: make(map[string]*string),
	}
}

// Get implements auth.CookieTransport.
func (c *HTTPCookies) Get(name string) (string, bool) {
	if v, ok := c.pending[name]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}
	cookie, err := c.r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// Set implements auth.CookieTransport.
func (c *HTTPCookies) Set(name, value string, ttl time.Duration) {
	ttl = max(ttl.Truncate(time.Second), time.Second)
	http.SetCookie(c.w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.opts.Path,
		Expires:  c.now().Add(ttl),
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   c.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	c.pending[name] = &value
}

// Delete implements auth.CookieTransport.
func (c *HTTPCookies) Delete(name string) {
	http.SetCookie(c.w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     c.opts.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	c.pending[name] = nil
}

// Compile-time interface check.
var _ auth.CookieTransport = (*HTTPCookies)(nil)
