// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable identity references
// for the Matrix identifiers Hearth handles: server names, room IDs,
// user IDs, device IDs, event IDs, and signing key IDs.
//
// Identifiers arrive over the federation and client APIs as raw
// strings. They are parsed into these value types at the boundary and
// passed through typed thereafter, so a room ID can never be used
// where a user ID is expected and every registry keyed by an
// identifier gets compile-time key safety.
//
// All constructors validate their inputs and return errors for invalid
// names. Once constructed, a ref is immutable. MustParse* variants
// panic on error and exist for tests and static initialization.
//
// JSON and CBOR marshaling uses the canonical Matrix string form via
// encoding.TextMarshaler.
package ref
