// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported hash algorithm identifiers.
const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmArgon2i  = "argon2i"
	AlgorithmBcrypt   = "bcrypt"
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a hash of the password using the target algorithm.
	Hash(password string) (string, error)

	// Verify checks if the password matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid hash.
	Verify(password, hash string) (bool, error)

	// NeedsUpgrade returns true if the hash was produced by a weaker
	// algorithm or with parameters other than the current target.
	NeedsUpgrade(hash string) bool
}

// HashParams describes the target algorithm and its cost parameters.
type HashParams struct {
	Algorithm  string
	Memory     uint32 // KiB
	Time       uint32 // iterations
	Threads    uint8
	SaltLength uint32
	KeyLength  uint32
}

// DefaultHashParams returns OWASP-recommended argon2id parameters.
func DefaultHashParams() HashParams {
	return HashParams{
		Algorithm:  AlgorithmArgon2id,
		Memory:     64 * 1024,
		Time:       1,
		Threads:    4,
		SaltLength: 16,
		KeyLength:  32,
	}
}

// Validate checks that the parameters can produce a hash.
func (p HashParams) Validate() error {
	if p.Algorithm != AlgorithmArgon2id && p.Algorithm != AlgorithmArgon2i {
		return oops.Code("AUTH_INVALID_HASH_PARAMS").
			With("algorithm", p.Algorithm).
			Errorf("unsupported target hash algorithm: %s", p.Algorithm)
	}
	if p.Memory == 0 || p.Time == 0 || p.Threads == 0 {
		return oops.Code("AUTH_INVALID_HASH_PARAMS").Errorf("memory, time and threads must be positive")
	}
	if p.SaltLength < 8 || p.KeyLength < 16 {
		return oops.Code("AUTH_INVALID_HASH_PARAMS").
			With("salt_length", p.SaltLength).
			With("key_length", p.KeyLength).
			Errorf("salt must be at least 8 bytes and key at least 16 bytes")
	}
	return nil
}

// Argon2Hasher implements PasswordHasher. It hashes with argon2id or argon2i
// and verifies argon2id, argon2i and bcrypt hashes so that legacy credentials
// keep working until they are upgraded.
type Argon2Hasher struct {
	params HashParams
}

// NewArgon2Hasher creates an Argon2Hasher targeting params.
func NewArgon2Hasher(params HashParams) (*Argon2Hasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Argon2Hasher{params: params}, nil
}

// NewArgon2idHasher creates an Argon2Hasher with DefaultHashParams.
func NewArgon2idHasher() *Argon2Hasher {
	return &Argon2Hasher{params: DefaultHashParams()}
}

// Params returns the target parameters.
func (h *Argon2Hasher) Params() HashParams {
	return h.params
}

// Hash produces a PHC-encoded hash of the password.
func (h *Argon2Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := deriveKey(h.params.Algorithm, []byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLength)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		h.params.Algorithm,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks if the password matches the hash.
func (h *Argon2Hasher) Verify(password, encodedHash string) (bool, error) {
	if isBcrypt(encodedHash) {
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, oops.Code("AUTH_INVALID_HASH").With("algorithm", AlgorithmBcrypt).Wrap(err)
		}
	}

	decoded, err := decodeArgon2(encodedHash)
	if err != nil {
		return false, err
	}

	computed := deriveKey(decoded.algorithm, []byte(password), decoded.salt, decoded.time, decoded.memory, decoded.threads, uint32(len(decoded.key)))

	// Constant-time comparison
	return subtle.ConstantTimeCompare(computed, decoded.key) == 1, nil
}

// NeedsUpgrade reports whether hash differs from the target algorithm or
// parameters. Unparseable hashes always need an upgrade.
func (h *Argon2Hasher) NeedsUpgrade(hash string) bool {
	if isBcrypt(hash) {
		return true
	}
	decoded, err := decodeArgon2(hash)
	if err != nil {
		return true
	}
	return decoded.algorithm != h.params.Algorithm ||
		decoded.version != argon2.Version ||
		decoded.memory != h.params.Memory ||
		decoded.time != h.params.Time ||
		decoded.threads != h.params.Threads ||
		uint32(len(decoded.key)) != h.params.KeyLength
}

type argon2Hash struct {
	algorithm string
	version   int
	memory    uint32
	time      uint32
	threads   uint8
	salt      []byte
	key       []byte
}

func decodeArgon2(encodedHash string) (*argon2Hash, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}

	if parts[1] != AlgorithmArgon2id && parts[1] != AlgorithmArgon2i {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	out := &argon2Hash{algorithm: parts[1]}
	if _, err := fmt.Sscanf(parts[2], "v=%d", &out.version); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	var threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &out.memory, &out.time, &threads); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	// Validate threads fits in uint8 to prevent silent truncation
	if threads == 0 || threads > 255 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}
	out.threads = uint8(threads)

	var err error
	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if out.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	if keyLen := len(out.key); keyLen <= 0 || keyLen > 1<<30 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", keyLen)
	}

	return out, nil
}

func deriveKey(algorithm string, password, salt []byte, time, memory uint32, threads uint8, keyLen uint32) []byte {
	if algorithm == AlgorithmArgon2i {
		return argon2.Key(password, salt, time, memory, threads, keyLen)
	}
	return argon2.IDKey(password, salt, time, memory, threads, keyLen)
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") ||
		strings.HasPrefix(hash, "$2b$") ||
		strings.HasPrefix(hash, "$2y$")
}
