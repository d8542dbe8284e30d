// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"

	"github.com/oklog/ulid/v2"
)

type refKind uint8

const (
	refNone refKind = iota
	refByID
	refByUsername
	refResolved
)

// UserRef identifies a user by ID, by username, or as an already loaded User.
type UserRef struct {
	kind     refKind
	id       ulid.ULID
	username string
	user     *User
}

// ByID references a user by ID.
func ByID(id ulid.ULID) UserRef {
	return UserRef{kind: refByID, id: id}
}

// ByUsername references a user by username.
func ByUsername(username string) UserRef {
	return UserRef{kind: refByUsername, username: username}
}

// Resolved wraps a user that has already been loaded.
func Resolved(user *User) UserRef {
	return UserRef{kind: refResolved, user: user}
}

// String returns a log-safe description of the reference.
func (r UserRef) String() string {
	switch r.kind {
	case refByID:
		return "id:" + r.id.String()
	case refByUsername:
		return "username:" + r.username
	case refResolved:
		if r.user == nil {
			return "user:<nil>"
		}
		return "user:" + r.user.ID.String()
	default:
		return "<none>"
	}
}

// resolve loads the referenced user. A reference that cannot name a user
// returns ErrNotFound.
func (r UserRef) resolve(ctx context.Context, users UserRepository) (*User, error) {
	switch r.kind {
	case refByID:
		return users.GetByID(ctx, r.id)
	case refByUsername:
		if r.username == "" {
			return nil, ErrNotFound
		}
		return users.GetByUsername(ctx, r.username)
	case refResolved:
		if r.user == nil {
			return nil, ErrNotFound
		}
		return r.user, nil
	default:
		return nil, ErrNotFound
	}
}
