// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrBadValue reports that a stored record failed to decode (wrong
// width counter, truncated payload). It is never returned for a simple
// absent key — absence is a normal (value, false, nil) result.
var ErrBadValue = errors.New("bad database value")

// Keyspace is one named byte-oriented map inside a Store. All methods
// are safe for concurrent use.
type Keyspace interface {
	// Get returns the value stored under key. The second return is
	// false when the key is absent, which is not an error.
	Get(ctx context.Context, key []byte) ([]byte, bool, error)

	// Insert stores value under key, replacing any existing value.
	Insert(ctx context.Context, key, value []byte) error

	// Remove deletes the value under key. Removing an absent key is a
	// no-op, not an error.
	Remove(ctx context.Context, key []byte) error

	// Increment atomically increments the unsigned counter under key
	// and returns the new value. An absent key counts as zero, so the
	// first Increment returns 1. A stored value that is not an 8-byte
	// big-endian integer fails with ErrBadValue.
	Increment(ctx context.Context, key []byte) (uint64, error)
}

// Store opens named keyspaces. Keyspace names are internal constants
// (lowercase letters and underscores); backends may reject anything
// else since names become table names or key prefixes.
type Store interface {
	Keyspace(name string) (Keyspace, error)
	Close() error
}

// EncodeCounter returns the canonical stored form of a counter value:
// 8 bytes, big-endian.
func EncodeCounter(value uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	return buf[:]
}

// DecodeCounter parses the canonical stored form of a counter.
// Returns ErrBadValue for any width other than 8 bytes.
func DecodeCounter(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("%w: counter is %d bytes, want 8", ErrBadValue, len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

// validKeyspaceName enforces the naming contract shared by all
// backends: non-empty, lowercase letters and underscores only.
func validKeyspaceName(name string) error {
	if name == "" {
		return fmt.Errorf("keyspace name is empty")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < 'a' || c > 'z') && c != '_' {
			return fmt.Errorf("keyspace name %q: invalid character %q", name, c)
		}
	}
	return nil
}
