// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrStoreUnavailable marks errors raised by a backing store rather than by an
// authentication decision. Callers should read it as "cannot determine
// authentication state", not as "unauthenticated".
var ErrStoreUnavailable = errors.New("store unavailable")

// storeUnavailable wraps a repository or session store fault so that
// errors.Is(err, ErrStoreUnavailable) holds while the original cause stays in
// the chain.
func storeUnavailable(operation string, err error) error {
	return oops.Code("AUTH_STORE_UNAVAILABLE").
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
