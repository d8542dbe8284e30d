// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/auth/postgres"
)

var _ = Describe("UserRepository", func() {
	var (
		users *postgres.UserRepository
		alice *auth.User
	)

	BeforeEach(func(ctx SpecContext) {
		truncate(ctx)
		users = postgres.NewUserRepository(pool)

		var err error
		alice, err = auth.NewUser("Alice", "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA$aGFzaA", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(users.Create(ctx, alice, "login")).To(Succeed())
	})

	It("finds users by username regardless of case", func(ctx SpecContext) {
		found, err := users.GetByUsername(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(found.ID).To(Equal(alice.ID))
		Expect(found.Username).To(Equal("Alice"))
	})

	It("rejects a second user with the same name", func(ctx SpecContext) {
		dup, err := auth.NewUser("ALICE", "h", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(users.Create(ctx, dup)).To(MatchError(postgres.ErrDuplicate))
	})

	It("rolls back the user when a role is unknown", func(ctx SpecContext) {
		bob, err := auth.NewUser("bob", "h", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(users.Create(ctx, bob, "login", "wizard")).To(MatchError(postgres.ErrUnknownRole))

		_, err = users.GetByUsername(ctx, "bob")
		Expect(auth.IsNotFound(err)).To(BeTrue())
	})

	It("checks role membership", func(ctx SpecContext) {
		ok, err := users.HasRoles(ctx, alice.ID, "login")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		ok, err = users.HasRoles(ctx, alice.ID, "login", "admin")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		Expect(users.GrantRole(ctx, alice.ID, "admin")).To(Succeed())
		Expect(users.GrantRole(ctx, alice.ID, "admin")).To(Succeed())
		Expect(users.Roles(ctx, alice.ID)).To(Equal([]string{"admin", "login"}))

		Expect(users.RevokeRole(ctx, alice.ID, "admin")).To(Succeed())
		Expect(users.Roles(ctx, alice.ID)).To(Equal([]string{"login"}))
	})

	It("records login bookkeeping", func(ctx SpecContext) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		Expect(users.RecordLogin(ctx, alice.ID, now)).To(Succeed())
		Expect(users.RecordLogin(ctx, alice.ID, now)).To(Succeed())

		found, err := users.GetByID(ctx, alice.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(found.Logins).To(Equal(2))
		Expect(found.LastLogin).NotTo(BeNil())
		Expect(found.LastLogin.Equal(now)).To(BeTrue())
	})

	It("keeps a password change made between read and login bookkeeping", func(ctx SpecContext) {
		stale, err := users.GetByID(ctx, alice.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(users.UpdatePassword(ctx, alice.ID, "$argon2id$changed")).To(Succeed())
		Expect(users.RecordLogin(ctx, stale.ID, time.Now().UTC())).To(Succeed())

		found, err := users.GetByID(ctx, alice.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(found.PasswordHash).To(Equal("$argon2id$changed"))
	})

	It("replaces the password hash", func(ctx SpecContext) {
		Expect(users.UpdatePassword(ctx, alice.ID, "$argon2id$new")).To(Succeed())
		found, err := users.GetByID(ctx, alice.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(found.PasswordHash).To(Equal("$argon2id$new"))

		Expect(users.UpdatePassword(ctx, ulid.Make(), "x")).To(MatchError(auth.ErrNotFound))
	})

	It("cascades tokens when the user is deleted", func(ctx SpecContext) {
		tokens := postgres.NewTokenRepository(pool)
		now := time.Now().UTC()
		token, err := auth.NewToken(alice.ID, auth.KindRemember, "fp", now, now.Add(time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(tokens.Create(ctx, token)).To(Succeed())

		Expect(users.Delete(ctx, alice.ID)).To(Succeed())
		_, err = tokens.GetByValue(ctx, token.Value)
		Expect(auth.IsNotFound(err)).To(BeTrue())
	})
})

var _ = Describe("TokenRepository", func() {
	var (
		tokens *postgres.TokenRepository
		owner  *auth.User
		now    time.Time
	)

	newToken := func(kind auth.TokenKind, ttl time.Duration) *auth.Token {
		token, err := auth.NewToken(owner.ID, kind, auth.Fingerprint("curl/8.0"), now, now.Add(ttl))
		Expect(err).NotTo(HaveOccurred())
		return token
	}

	BeforeEach(func(ctx SpecContext) {
		truncate(ctx)
		tokens = postgres.NewTokenRepository(pool)
		now = time.Now().UTC().Truncate(time.Microsecond)

		var err error
		owner, err = auth.NewUser("owner", "h", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(postgres.NewUserRepository(pool).Create(ctx, owner)).To(Succeed())
	})

	It("finds a token by its value and stores only the digest", func(ctx SpecContext) {
		token := newToken(auth.KindRemember, time.Hour)
		Expect(tokens.Create(ctx, token)).To(Succeed())

		found, err := tokens.GetByValue(ctx, token.Value)
		Expect(err).NotTo(HaveOccurred())
		Expect(found.ID).To(Equal(token.ID))
		Expect(found.Kind).To(Equal(auth.KindRemember))
		Expect(found.ExpiresAt.Equal(token.ExpiresAt)).To(BeTrue())

		var stored string
		Expect(pool.QueryRow(ctx, `SELECT token_hash FROM user_tokens WHERE id = $1`, token.ID.String()).
			Scan(&stored)).To(Succeed())
		Expect(stored).To(Equal(auth.HashToken(token.Value)))
		Expect(stored).NotTo(Equal(token.Value))
	})

	It("rotates once per presented value", func(ctx SpecContext) {
		token := newToken(auth.KindRemember, time.Hour)
		Expect(tokens.Create(ctx, token)).To(Succeed())
		old := token.Value

		stale := *token
		Expect(tokens.Rotate(ctx, token)).To(Succeed())
		Expect(tokens.Rotate(ctx, &stale)).To(MatchError(auth.ErrNotFound))

		_, err := tokens.GetByValue(ctx, old)
		Expect(auth.IsNotFound(err)).To(BeTrue())
		found, err := tokens.GetByValue(ctx, token.Value)
		Expect(err).NotTo(HaveOccurred())
		Expect(found.ID).To(Equal(token.ID))
	})

	It("prunes only expired tokens", func(ctx SpecContext) {
		live := newToken(auth.KindRemember, time.Hour)
		expired := newToken(auth.KindPasswordReset, time.Minute)
		Expect(tokens.Create(ctx, live)).To(Succeed())
		Expect(tokens.Create(ctx, expired)).To(Succeed())

		n, err := tokens.DeleteExpired(ctx, now.Add(time.Minute))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))

		_, err = tokens.GetByValue(ctx, live.Value)
		Expect(err).NotTo(HaveOccurred())
	})

	It("deletes by id and by owner", func(ctx SpecContext) {
		first := newToken(auth.KindRemember, time.Hour)
		second := newToken(auth.KindRemember, time.Hour)
		Expect(tokens.Create(ctx, first)).To(Succeed())
		Expect(tokens.Create(ctx, second)).To(Succeed())

		Expect(tokens.Delete(ctx, first.ID)).To(Succeed())
		Expect(tokens.Delete(ctx, first.ID)).To(MatchError(auth.ErrNotFound))

		Expect(tokens.DeleteByUser(ctx, owner.ID)).To(Succeed())
		_, err := tokens.GetByValue(ctx, second.Value)
		Expect(auth.IsNotFound(err)).To(BeTrue())
	})
})
