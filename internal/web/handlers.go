// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/pkg/errutil"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// userView is the public projection of auth.User.
type userView struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     *string    `json:"email,omitempty"`
	Logins    int        `json:"logins"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	Forced    bool       `json:"forced,omitempty"`
}

func viewOf(u *auth.User) userView {
	return userView{
		ID:        u.ID.String(),
		Username:  u.Username,
		Email:     u.Email,
		Logins:    u.Logins,
		LastLogin: u.LastLogin,
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// decode reads a JSON body or a form into dst, a map of field names to
// string values.
func decode(r *http.Request, fields ...string) (map[string]string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	out := make(map[string]string, len(fields))

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")) //nolint:errcheck // empty type falls through to form parsing
	if mediaType == "application/json" {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, oops.Code("WEB_BAD_REQUEST").With("operation", "decode json body").Wrap(err)
		}
		for _, f := range fields {
			if v, ok := raw[f]; ok && v != nil {
				out[f] = fmt.Sprint(v)
			}
		}
		return out, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, oops.Code("WEB_BAD_REQUEST").With("operation", "parse form").Wrap(err)
	}
	for _, f := range fields {
		out[f] = r.PostForm.Get(f)
	}
	return out, nil
}

// truthy accepts the spellings browsers and JSON clients use for a flag.
func truthy(s string) bool {
	if s == "on" || s == "yes" {
		return true
	}
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func isUnavailable(err error) bool {
	return errors.Is(err, auth.ErrStoreUnavailable)
}

func errorCode(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok && oopsErr.Code() != nil {
		return fmt.Sprint(oopsErr.Code())
	}
	return ""
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	in, err := decode(r, "username", "password", "remember")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}

	a := authenticatorFrom(r.Context())
	ok, err := a.Login(r.Context(), auth.ByUsername(in["username"]), in["password"], truthy(in["remember"]))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}

	user, err := a.CurrentUser(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(user))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	in, err := decode(r, "everywhere")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}

	ok, err := authenticatorFrom(r.Context()).Logout(r.Context(), true, truthy(in["everywhere"]))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"logged_out": ok})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	a := authenticatorFrom(r.Context())
	user, err := a.CurrentUser(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "not logged in")
		return
	}
	forced, err := a.IsForced(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view := viewOf(user)
	view.Forced = forced
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCheckPassword(w http.ResponseWriter, r *http.Request) {
	in, err := decode(r, "password")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}
	ok, err := authenticatorFrom(r.Context()).CheckPassword(r.Context(), in["password"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}

func (s *Server) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	in, err := decode(r, "username")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}

	a := authenticatorFrom(r.Context())
	ok, err := a.ForceLogin(r.Context(), auth.ByUsername(in["username"]), true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such user")
		return
	}

	user, err := a.CurrentUser(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "impersonation started", "target_id", user.ID.String())
	view := viewOf(user)
	view.Forced = true
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	in, err := decode(r, "username")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}

	token, err := s.cfg.Resets.RequestReset(r.Context(), auth.ByUsername(in["username"]))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if token != "" {
		if err := s.cfg.Notifier.NotifyReset(r.Context(), in["username"], token); err != nil {
			errutil.LogWarn(r.Context(), s.logger, "reset notification failed", err)
		}
	}
	// Same answer whether or not the account exists.
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Resets == nil {
		writeError(w, http.StatusNotFound, "not_found", "password reset is disabled")
		return
	}
	in, err := decode(r, "token", "password")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}

	err = s.cfg.Resets.ResetPassword(r.Context(), in["token"], in["password"])
	switch code := errorCode(err); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case isUnavailable(err):
		s.fail(w, r, err)
	case code == "RESET_TOKEN_EMPTY", code == "RESET_TOKEN_INVALID", code == "RESET_TOKEN_EXPIRED":
		writeError(w, http.StatusBadRequest, "invalid_token", "reset token is invalid or expired")
	case code == "RESET_PASSWORD_EMPTY", code == "RESET_PASSWORD_UNCHANGED":
		writeError(w, http.StatusUnprocessableEntity, "invalid_password", "choose a different, non-empty password")
	default:
		s.fail(w, r, err)
	}
}
