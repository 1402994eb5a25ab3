// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// allowedLocalpartChars is the set of characters permitted in Matrix
// localparts (per the Matrix spec: a-z, 0-9, and the symbols . _ = - /).
var allowedLocalpartChars [256]bool

func init() {
	for c := byte('a'); c <= 'z'; c++ {
		allowedLocalpartChars[c] = true
	}
	for c := byte('0'); c <= '9'; c++ {
		allowedLocalpartChars[c] = true
	}
	allowedLocalpartChars['.'] = true
	allowedLocalpartChars['_'] = true
	allowedLocalpartChars['='] = true
	allowedLocalpartChars['-'] = true
	allowedLocalpartChars['/'] = true
}

// validateServer checks that a Matrix server name is minimally valid:
// non-empty, no control characters or spaces, no Matrix sigils.
func validateServer(server string) error {
	if server == "" {
		return fmt.Errorf("server name is empty")
	}
	for i := 0; i < len(server); i++ {
		c := server[i]
		if c <= ' ' || c == '@' || c == '#' || c == '!' || c == '$' {
			return fmt.Errorf("server name %q: invalid character at position %d", server, i)
		}
	}
	return nil
}

// parseSigilID extracts localpart and server from a Matrix identifier
// with the given sigil prefix (@ for user IDs, ! for room IDs).
func parseSigilID(identifier string, sigil byte, kind string) (localpart, server string, err error) {
	if len(identifier) < 2 || identifier[0] != sigil {
		return "", "", fmt.Errorf("invalid %s %q: must start with %c", kind, identifier, sigil)
	}
	colonIndex := strings.IndexByte(identifier[1:], ':')
	if colonIndex < 0 {
		return "", "", fmt.Errorf("invalid %s %q: missing :server", kind, identifier)
	}
	colonIndex++ // adjust for [1:] offset
	if colonIndex < 2 {
		return "", "", fmt.Errorf("invalid %s %q: empty localpart", kind, identifier)
	}
	localpart = identifier[1:colonIndex]
	server = identifier[colonIndex+1:]
	if server == "" {
		return "", "", fmt.Errorf("invalid %s %q: empty server", kind, identifier)
	}
	return localpart, server, nil
}
