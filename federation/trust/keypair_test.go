// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package trust

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/emberfed/hearth/kvstore"
)

func globalsKeyspace(t *testing.T) kvstore.Keyspace {
	t.Helper()
	ks, err := kvstore.Memory().Keyspace("globals")
	if err != nil {
		t.Fatalf("Keyspace: %v", err)
	}
	return ks
}

func TestLoadOrCreateKeypair_FreshStore(t *testing.T) {
	ctx := context.Background()
	globals := globalsKeyspace(t)

	keypair, err := LoadOrCreateKeypair(ctx, globals)
	if err != nil {
		t.Fatalf("LoadOrCreateKeypair: %v", err)
	}

	if len(keypair.Version()) != versionLength {
		t.Errorf("version %q has length %d, want %d", keypair.Version(), len(keypair.Version()), versionLength)
	}
	if got := keypair.KeyID().Algorithm(); got != "ed25519" {
		t.Errorf("KeyID algorithm = %q", got)
	}

	// The keypair must be functional.
	message := []byte("federation request")
	signature := keypair.Sign(message)
	if !ed25519.Verify(keypair.Public(), message, signature) {
		t.Error("sign/verify round-trip failed")
	}

	// The record must have been persisted.
	if _, found, _ := globals.Get(ctx, []byte("keypair")); !found {
		t.Error("keypair record not persisted")
	}
}

func TestLoadOrCreateKeypair_LoadsExisting(t *testing.T) {
	ctx := context.Background()
	globals := globalsKeyspace(t)

	first, err := LoadOrCreateKeypair(ctx, globals)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := LoadOrCreateKeypair(ctx, globals)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	if first.Version() != second.Version() {
		t.Errorf("version changed across loads: %q then %q", first.Version(), second.Version())
	}
	if !first.Public().Equal(second.Public()) {
		t.Error("public key changed across loads")
	}
}

func TestLoadOrCreateKeypair_CorruptRecord(t *testing.T) {
	ctx := context.Background()

	corruptRecords := map[string][]byte{
		"no separator":  []byte("truncatedbytes"),
		"empty version": append([]byte{0xFF}, 1, 2, 3),
		"bad version":   append([]byte("UPPER\xff"), 1, 2, 3),
		"bad DER":       append([]byte("abcdefgh\xff"), 1, 2, 3),
	}

	for name, record := range corruptRecords {
		t.Run(name, func(t *testing.T) {
			globals := globalsKeyspace(t)
			if err := globals.Insert(ctx, []byte("keypair"), record); err != nil {
				t.Fatalf("Insert: %v", err)
			}

			_, err := LoadOrCreateKeypair(ctx, globals)
			if !errors.Is(err, ErrCorruptKeyMaterial) {
				t.Fatalf("LoadOrCreateKeypair = %v, want ErrCorruptKeyMaterial", err)
			}

			// The corrupt record must be gone — never auto-regenerated
			// in the same call.
			if _, found, _ := globals.Get(ctx, []byte("keypair")); found {
				t.Error("corrupt record still present after failed load")
			}

			// A subsequent call on the now-empty store regenerates a
			// fresh, parseable keypair.
			keypair, err := LoadOrCreateKeypair(ctx, globals)
			if err != nil {
				t.Fatalf("regenerate after corruption: %v", err)
			}
			message := []byte("m")
			if !ed25519.Verify(keypair.Public(), message, keypair.Sign(message)) {
				t.Error("regenerated keypair failed sign/verify")
			}
		})
	}
}

func TestKeypairRecordRoundTrip(t *testing.T) {
	keypair, record, err := generateKeypair()
	if err != nil {
		t.Fatalf("generateKeypair: %v", err)
	}

	parsed, err := parseKeypairRecord(record)
	if err != nil {
		t.Fatalf("parseKeypairRecord: %v", err)
	}
	if parsed.Version() != keypair.Version() {
		t.Errorf("version = %q, want %q", parsed.Version(), keypair.Version())
	}
	if !parsed.Public().Equal(keypair.Public()) {
		t.Error("public key mismatch after round trip")
	}
}
