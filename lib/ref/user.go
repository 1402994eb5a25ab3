// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// UserID is a validated Matrix user ID (e.g., "@alice:hearth.local").
//
// User IDs name accounts, local and remote. The localpart is restricted
// to the Matrix-permitted character set; the server part follows the
// same rules as ServerName.
//
// UserID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string.
// Returns an error if the string doesn't have the @localpart:server
// shape or the localpart contains characters outside the Matrix set.
func ParseUserID(raw string) (UserID, error) {
	localpart, server, err := parseSigilID(raw, '@', "user ID")
	if err != nil {
		return UserID{}, err
	}
	for i := 0; i < len(localpart); i++ {
		if !allowedLocalpartChars[localpart[i]] {
			return UserID{}, fmt.Errorf("user ID %q: invalid character %q in localpart", raw, localpart[i])
		}
	}
	if err := validateServer(server); err != nil {
		return UserID{}, fmt.Errorf("user ID %q: %w", raw, err)
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is like ParseUserID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseUserID(raw string) UserID {
	u, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return u
}

// String returns the full user ID string (e.g., "@alice:hearth.local").
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value (uninitialized).
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the part between '@' and ':' (e.g., "alice").
func (u UserID) Localpart() string {
	colonIndex := strings.IndexByte(u.id, ':')
	if colonIndex < 0 {
		return ""
	}
	return u.id[1:colonIndex]
}

// Server returns the server name portion of the user ID.
func (u UserID) Server() ServerName {
	colonIndex := strings.IndexByte(u.id, ':')
	if colonIndex < 0 {
		return ServerName{}
	}
	return ServerName{name: u.id[colonIndex+1:]}
}

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (u UserID) MarshalText() ([]byte, error) {
	if u.id == "" {
		return []byte{}, nil
	}
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for JSON and other
// text-based serialization formats. Validates the user ID format.
// An empty input produces the zero value (unset user ID).
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
