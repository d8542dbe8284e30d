// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package web serves the session login API over HTTP.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/observability"
	"github.com/holomush/sessionauth/internal/session"
	"github.com/holomush/sessionauth/pkg/errutil"
)

var tracer = otel.Tracer("sessionauth/web")

// AdminRole is required to impersonate another user.
const AdminRole = "admin"

// ResetNotifier delivers a password reset token to the account owner.
type ResetNotifier interface {
	NotifyReset(ctx context.Context, username, token string) error
}

// Config wires the API to its collaborators.
type Config struct {
	Manager       *auth.Manager
	Resets        *auth.PasswordResetService
	Notifier      ResetNotifier // nil disables POST /password/forgot
	Sessions      session.Backend
	SessionCookie string
	Cookies       CookieOptions
	Logger        *slog.Logger
	Metrics       *observability.HTTPMetrics
}

// Server routes the login API.
type Server struct {
	cfg    Config
	logger *slog.Logger
}

// NewServer validates cfg and creates a Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, oops.Code("WEB_INVALID_DEPENDENCY").Errorf("session manager is required")
	}
	if cfg.Sessions == nil {
		return nil, oops.Code("WEB_INVALID_DEPENDENCY").Errorf("session backend is required")
	}
	if cfg.SessionCookie == "" {
		return nil, oops.Code("WEB_INVALID_DEPENDENCY").Errorf("session cookie name is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}, nil
}

// Routes returns the API handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Use(s.withSession)

	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)
	r.Get("/me", s.handleMe)
	r.Post("/password/check", s.handleCheckPassword)
	r.Post("/password/reset", s.handleResetPassword)
	if s.cfg.Resets != nil && s.cfg.Notifier != nil {
		r.Post("/password/forgot", s.handleForgotPassword)
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/impersonate", s.handleImpersonate)
	})
	return r
}

type authKey struct{}

// authenticatorFrom returns the Authenticator bound by withSession.
func authenticatorFrom(ctx context.Context) *auth.Authenticator {
	a, _ := ctx.Value(authKey{}).(*auth.Authenticator) //nolint:errcheck // presence is guaranteed by withSession
	return a
}

// withSession binds the session cookie, the cookie transport and the client
// to an Authenticator for the request.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies := NewHTTPCookies(w, r, s.cfg.Cookies)

		id, _ := cookies.Get(s.cfg.SessionCookie)
		handle := session.NewHandle(s.cfg.Sessions, id)
		handle.OnChange = func(newID string) {
			if newID == "" {
				cookies.Delete(s.cfg.SessionCookie)
				return
			}
			// Session cookies carry no expiry; the backend TTL bounds them.
			http.SetCookie(w, &http.Cookie{
				Name:     s.cfg.SessionCookie,
				Value:    newID,
				Path:     cookies.opts.Path,
				HttpOnly: true,
				Secure:   cookies.opts.Secure,
				SameSite: http.SameSiteLaxMode,
			})
		}

		a, err := s.cfg.Manager.Authenticator(auth.Request{
			Session: handle,
			Cookies: cookies,
			Client:  auth.UserAgent(r.UserAgent()),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authKey{}, a)))
	})
}

// requireAdmin admits callers holding AdminRole whose session was not itself
// opened by impersonation.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := authenticatorFrom(r.Context())
		ok, err := a.LoggedIn(r.Context(), AdminRole)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if !ok {
			writeError(w, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		forced, err := a.IsForced(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if forced {
			writeError(w, http.StatusForbidden, "forbidden", "impersonated sessions cannot impersonate")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument traces each request and records counts and latency by route
// pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "http.request",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.request.method", r.Method)),
		)
		defer span.End()
		r = r.WithContext(ctx)

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", status),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
			s.cfg.Metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// fail maps an unexpected error to 503 for store outages and 500 otherwise.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	if isUnavailable(err) {
		status = http.StatusServiceUnavailable
		code = "unavailable"
	}
	errutil.LogError(s.logger, "request failed", err,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()))
	writeError(w, status, code, http.StatusText(status))
}
