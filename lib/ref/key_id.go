// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// KeyID is a validated Matrix signing key identifier
// (e.g., "ed25519:a1b2c3").
//
// Key IDs name one key of a homeserver's signing keypair set:
// "algorithm:version". The version distinguishes successive keys of
// the same algorithm; old versions remain in the trust store forever
// so that signatures made with retired keys stay verifiable.
//
// KeyID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type KeyID struct {
	id string
}

// ParseKeyID validates and wraps a raw signing key ID string. Returns
// an error if the string is not "algorithm:version" with both parts
// non-empty.
func ParseKeyID(raw string) (KeyID, error) {
	colonIndex := strings.IndexByte(raw, ':')
	if colonIndex < 0 {
		return KeyID{}, fmt.Errorf("key ID missing ':' separator: %q", raw)
	}
	if colonIndex == 0 {
		return KeyID{}, fmt.Errorf("key ID has empty algorithm: %q", raw)
	}
	if colonIndex == len(raw)-1 {
		return KeyID{}, fmt.Errorf("key ID has empty version: %q", raw)
	}
	return KeyID{id: raw}, nil
}

// MustParseKeyID is like ParseKeyID but panics on error. Use in tests
// and static initialization where the input is known-valid.
func MustParseKeyID(raw string) KeyID {
	k, err := ParseKeyID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseKeyID(%q): %v", raw, err))
	}
	return k
}

// Ed25519KeyID constructs the key ID for an ed25519 key with the given
// version (e.g., Ed25519KeyID("a1b2c3") → "ed25519:a1b2c3").
func Ed25519KeyID(version string) KeyID {
	return KeyID{id: "ed25519:" + version}
}

// String returns the full key ID string (e.g., "ed25519:a1b2c3").
func (k KeyID) String() string { return k.id }

// IsZero reports whether the KeyID is the zero value (uninitialized).
func (k KeyID) IsZero() bool { return k.id == "" }

// Algorithm returns the part before the colon (e.g., "ed25519").
func (k KeyID) Algorithm() string {
	colonIndex := strings.IndexByte(k.id, ':')
	if colonIndex < 0 {
		return ""
	}
	return k.id[:colonIndex]
}

// Version returns the part after the colon (e.g., "a1b2c3").
func (k KeyID) Version() string {
	colonIndex := strings.IndexByte(k.id, ':')
	if colonIndex < 0 {
		return ""
	}
	return k.id[colonIndex+1:]
}

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (k KeyID) MarshalText() ([]byte, error) {
	if k.id == "" {
		return []byte{}, nil
	}
	return []byte(k.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for JSON and other
// text-based serialization formats. Validates the key ID format.
// An empty input produces the zero value (unset key ID).
func (k *KeyID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*k = KeyID{}
		return nil
	}
	parsed, err := ParseKeyID(string(data))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
