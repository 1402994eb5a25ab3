// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"context"
	"sync"
)

// Memory returns an in-memory Store. Contents do not survive the
// process; intended for tests and ephemeral development servers.
func Memory() Store {
	return &memoryStore{keyspaces: make(map[string]*memoryKeyspace)}
}

type memoryStore struct {
	mu        sync.Mutex
	keyspaces map[string]*memoryKeyspace
}

func (s *memoryStore) Keyspace(name string) (Keyspace, error) {
	if err := validKeyspaceName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ks, ok := s.keyspaces[name]
	if !ok {
		ks = &memoryKeyspace{entries: make(map[string][]byte)}
		s.keyspaces[name] = ks
	}
	return ks, nil
}

func (s *memoryStore) Close() error { return nil }

type memoryKeyspace struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func (k *memoryKeyspace) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	value, ok := k.entries[string(key)]
	if !ok {
		return nil, false, nil
	}
	// Copy so callers cannot mutate stored bytes.
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (k *memoryKeyspace) Insert(_ context.Context, key, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	k.mu.Lock()
	defer k.mu.Unlock()
	k.entries[string(key)] = stored
	return nil
}

func (k *memoryKeyspace) Remove(_ context.Context, key []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.entries, string(key))
	return nil
}

func (k *memoryKeyspace) Increment(_ context.Context, key []byte) (uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	var current uint64
	if raw, ok := k.entries[string(key)]; ok {
		decoded, err := DecodeCounter(raw)
		if err != nil {
			return 0, err
		}
		current = decoded
	}
	current++
	k.entries[string(key)] = EncodeCounter(current)
	return current, nil
}
