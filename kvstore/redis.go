// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the parameters for the Redis-backed Store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server. Required.
	Addr string

	// Password authenticates against servers with requirepass set.
	// Empty means no authentication.
	Password string

	// DB selects the Redis logical database. Zero is the default DB.
	DB int
}

// OpenRedis opens a Redis-backed Store. Keyspaces become key prefixes
// ("<name>/<key>"). Counters live under the same key as any other
// value, in the canonical 8-byte big-endian form, so a Get observes
// exactly what Increment maintains; atomicity comes from an optimistic
// WATCH/MULTI transaction rather than INCRBY, which would force a
// decimal representation onto the byte-blob contract.
func OpenRedis(cfg RedisConfig) (Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("kvstore: redis Addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &redisStore{client: client}, nil
}

type redisStore struct {
	client *redis.Client
}

func (s *redisStore) Keyspace(name string) (Keyspace, error) {
	if err := validKeyspaceName(name); err != nil {
		return nil, err
	}
	return &redisKeyspace{client: s.client, prefix: name + "/"}, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

type redisKeyspace struct {
	client *redis.Client
	prefix string
}

func (k *redisKeyspace) redisKey(key []byte) string {
	return k.prefix + string(key)
}

func (k *redisKeyspace) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	value, err := k.client.Get(ctx, k.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kvstore: redis get: %w", err)
	}
	return value, true, nil
}

func (k *redisKeyspace) Insert(ctx context.Context, key, value []byte) error {
	if err := k.client.Set(ctx, k.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("kvstore: redis set: %w", err)
	}
	return nil
}

func (k *redisKeyspace) Remove(ctx context.Context, key []byte) error {
	if err := k.client.Del(ctx, k.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("kvstore: redis del: %w", err)
	}
	return nil
}

// incrementRetries bounds the optimistic-transaction retry loop. A
// conflict means another client incremented the same key between our
// read and write; contention on a single counter key is low enough
// that a handful of retries always suffices in practice.
const incrementRetries = 16

func (k *redisKeyspace) Increment(ctx context.Context, key []byte) (uint64, error) {
	redisKey := k.redisKey(key)

	var next uint64
	transaction := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, redisKey).Bytes()
		var current uint64
		switch {
		case errors.Is(err, redis.Nil):
			// Absent counts as zero.
		case err != nil:
			return fmt.Errorf("kvstore: redis get: %w", err)
		default:
			current, err = DecodeCounter(raw)
			if err != nil {
				return err
			}
		}
		next = current + 1

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, EncodeCounter(next), 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < incrementRetries; attempt++ {
		err := k.client.Watch(ctx, transaction, redisKey)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrBadValue) {
			return 0, err
		}
		return 0, fmt.Errorf("kvstore: redis increment: %w", err)
	}
	return 0, fmt.Errorf("kvstore: redis increment: retries exhausted under contention")
}
