// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const defaultRedisPrefix = "sessionauth:session:"

// RedisBackend stores each session as a Redis hash that expires after the
// session TTL. Every write refreshes the expiry.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisBackend.
type RedisOption func(*RedisBackend)

// WithRedisPrefix sets the key prefix for session hashes.
func WithRedisPrefix(prefix string) RedisOption {
	return func(b *RedisBackend) { b.prefix = prefix }
}

// WithRedisTTL sets the idle lifetime of a session.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(b *RedisBackend) { b.ttl = ttl }
}

// NewRedisBackend creates a RedisBackend. The client is not closed by the
// backend.
func NewRedisBackend(client redis.UniversalClient, opts ...RedisOption) *RedisBackend {
	b := &RedisBackend{client: client, prefix: defaultRedisPrefix, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBackend) key(id string) string {
	return b.prefix + id
}

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, id, key string) (string, bool, error) {
	value, err := b.client.HGet(ctx, b.key(id), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, oops.Code("SESSION_READ_FAILED").
			With("operation", "hget").
			With("field", key).
			Wrap(err)
	}
	return value, true, nil
}

// Set implements Backend.
func (b *RedisBackend) Set(ctx context.Context, id, key, value string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.key(id), key, value)
		pipe.Expire(ctx, b.key(id), b.ttl)
		return nil
	})
	if err != nil {
		return oops.Code("SESSION_WRITE_FAILED").
			With("operation", "hset").
			With("field", key).
			Wrap(err)
	}
	return nil
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, id, key string) error {
	if err := b.client.HDel(ctx, b.key(id), key).Err(); err != nil {
		return oops.Code("SESSION_WRITE_FAILED").
			With("operation", "hdel").
			With("field", key).
			Wrap(err)
	}
	return nil
}

// Destroy implements Backend.
func (b *RedisBackend) Destroy(ctx context.Context, id string) error {
	if err := b.client.Del(ctx, b.key(id)).Err(); err != nil {
		return oops.Code("SESSION_WRITE_FAILED").With("operation", "del").Wrap(err)
	}
	return nil
}

// Rename implements Backend. RENAME keeps the remaining TTL.
func (b *RedisBackend) Rename(ctx context.Context, oldID, newID string) error {
	err := b.client.Rename(ctx, b.key(oldID), b.key(newID)).Err()
	if err != nil && !isNoSuchKey(err) {
		return oops.Code("SESSION_WRITE_FAILED").With("operation", "rename").Wrap(err)
	}
	return nil
}

// Ping reports whether Redis answers.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func isNoSuchKey(err error) bool {
	return strings.Contains(err.Error(), "no such key")
}

// Compile-time interface check.
var _ Backend = (*RedisBackend)(nil)
