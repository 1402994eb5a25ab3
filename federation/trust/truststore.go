// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package trust

import (
	"context"
	"fmt"

	"github.com/emberfed/hearth/kvstore"
	"github.com/emberfed/hearth/lib/clock"
	"github.com/emberfed/hearth/lib/codec"
	"github.com/emberfed/hearth/lib/ref"
)

// VerifyKey is one remote signing key in the unpadded-base64 form used
// on the federation wire.
type VerifyKey struct {
	Key string `json:"key"`
}

// ExpiredVerifyKey is a retired remote signing key. It stays in the
// trust record forever so old signatures remain verifiable.
type ExpiredVerifyKey struct {
	Key       string `json:"key"`
	ExpiredTS int64  `json:"expired_ts"`
}

// ServerSigningKeys is the trust record for one remote server: its
// current verify keys, its retired keys, and how long the current set
// claims validity.
type ServerSigningKeys struct {
	ServerName    ref.ServerName
	VerifyKeys    map[ref.KeyID]VerifyKey
	OldVerifyKeys map[ref.KeyID]ExpiredVerifyKey
	ValidUntilTS  int64
}

// storedSigningKeys is the persisted CBOR form of ServerSigningKeys.
// Map keys are plain strings so the record layout does not depend on
// how any particular CBOR library treats TextMarshaler map keys.
type storedSigningKeys struct {
	ServerName    string                      `cbor:"server_name"`
	VerifyKeys    map[string]VerifyKey        `cbor:"verify_keys"`
	OldVerifyKeys map[string]ExpiredVerifyKey `cbor:"old_verify_keys"`
	ValidUntilTS  int64                       `cbor:"valid_until_ts"`
}

// Store persists remote servers' signing keys, one record per server
// name. Merges are additive; concurrent fetches for the same origin
// race last-write-wins, which is acceptable because merges are
// idempotent — losing a race only delays visibility of a new key.
type Store struct {
	keyspace kvstore.Keyspace
	clock    clock.Clock
}

// NewStore returns a trust store backed by the given keyspace
// (conventionally "server_signingkeys", keyed by server name bytes).
func NewStore(keyspace kvstore.Keyspace, clk clock.Clock) *Store {
	return &Store{keyspace: keyspace, clock: clk}
}

// AddSigningKeys merges fetched keys into the record for origin and
// returns the union of current and historical keys as one lookup
// table for immediate use by the caller.
//
// A key ID present in both the stored record and the fetch is
// overwritten by the fetch. The fetch is not checked for recency
// against the stored record — see the conflict test pinning this.
func (s *Store) AddSigningKeys(ctx context.Context, origin ref.ServerName, fetched ServerSigningKeys) (map[ref.KeyID]VerifyKey, error) {
	record, err := s.load(ctx, origin)
	if err != nil {
		return nil, err
	}
	if record == nil {
		// First fetch for this origin. The exact timestamp is
		// immaterial; stamp with now.
		record = &ServerSigningKeys{
			ServerName:    origin,
			VerifyKeys:    make(map[ref.KeyID]VerifyKey),
			OldVerifyKeys: make(map[ref.KeyID]ExpiredVerifyKey),
			ValidUntilTS:  s.clock.Now().UnixMilli(),
		}
	}

	for id, key := range fetched.VerifyKeys {
		record.VerifyKeys[id] = key
	}
	for id, key := range fetched.OldVerifyKeys {
		record.OldVerifyKeys[id] = key
	}
	if fetched.ValidUntilTS > record.ValidUntilTS {
		record.ValidUntilTS = fetched.ValidUntilTS
	}

	encoded, err := codec.Marshal(toStored(record))
	if err != nil {
		return nil, fmt.Errorf("trust: encoding record for %s: %w", origin, err)
	}
	if err := s.keyspace.Insert(ctx, []byte(origin.String()), encoded); err != nil {
		return nil, fmt.Errorf("trust: persisting record for %s: %w", origin, err)
	}

	return keyUnion(record), nil
}

// SigningKeysFor returns the stored current + historical key union for
// a server. A server that has never been fetched yields an empty map,
// not an error — absence of trust data is a normal state.
func (s *Store) SigningKeysFor(ctx context.Context, origin ref.ServerName) (map[ref.KeyID]VerifyKey, error) {
	record, err := s.load(ctx, origin)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return map[ref.KeyID]VerifyKey{}, nil
	}
	return keyUnion(record), nil
}

// load reads and decodes the record for origin, or nil when absent.
func (s *Store) load(ctx context.Context, origin ref.ServerName) (*ServerSigningKeys, error) {
	raw, found, err := s.keyspace.Get(ctx, []byte(origin.String()))
	if err != nil {
		return nil, fmt.Errorf("trust: reading record for %s: %w", origin, err)
	}
	if !found {
		return nil, nil
	}

	var stored storedSigningKeys
	if err := codec.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("%w: trust record for %s: %v", kvstore.ErrBadValue, origin, err)
	}
	return fromStored(&stored)
}

// keyUnion flattens a record into a single current + historical lookup
// table. Historical keys lose their expiry metadata — callers only
// need the key bytes to verify an old signature.
func keyUnion(record *ServerSigningKeys) map[ref.KeyID]VerifyKey {
	union := make(map[ref.KeyID]VerifyKey, len(record.VerifyKeys)+len(record.OldVerifyKeys))
	for id, key := range record.OldVerifyKeys {
		union[id] = VerifyKey{Key: key.Key}
	}
	// Current keys win on the (unrealistic) overlap of a key ID that
	// is both current and retired.
	for id, key := range record.VerifyKeys {
		union[id] = key
	}
	return union
}

func toStored(record *ServerSigningKeys) *storedSigningKeys {
	stored := &storedSigningKeys{
		ServerName:    record.ServerName.String(),
		VerifyKeys:    make(map[string]VerifyKey, len(record.VerifyKeys)),
		OldVerifyKeys: make(map[string]ExpiredVerifyKey, len(record.OldVerifyKeys)),
		ValidUntilTS:  record.ValidUntilTS,
	}
	for id, key := range record.VerifyKeys {
		stored.VerifyKeys[id.String()] = key
	}
	for id, key := range record.OldVerifyKeys {
		stored.OldVerifyKeys[id.String()] = key
	}
	return stored
}

func fromStored(stored *storedSigningKeys) (*ServerSigningKeys, error) {
	serverName, err := ref.ParseServerName(stored.ServerName)
	if err != nil {
		return nil, fmt.Errorf("%w: trust record server name: %v", kvstore.ErrBadValue, err)
	}
	record := &ServerSigningKeys{
		ServerName:    serverName,
		VerifyKeys:    make(map[ref.KeyID]VerifyKey, len(stored.VerifyKeys)),
		OldVerifyKeys: make(map[ref.KeyID]ExpiredVerifyKey, len(stored.OldVerifyKeys)),
		ValidUntilTS:  stored.ValidUntilTS,
	}
	for id, key := range stored.VerifyKeys {
		keyID, err := ref.ParseKeyID(id)
		if err != nil {
			return nil, fmt.Errorf("%w: trust record key ID: %v", kvstore.ErrBadValue, err)
		}
		record.VerifyKeys[keyID] = key
	}
	for id, key := range stored.OldVerifyKeys {
		keyID, err := ref.ParseKeyID(id)
		if err != nil {
			return nil, fmt.Errorf("%w: trust record key ID: %v", kvstore.ErrBadValue, err)
		}
		record.OldVerifyKeys[keyID] = key
	}
	return record, nil
}
