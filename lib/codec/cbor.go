// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Hearth's standard CBOR encoding. Persisted
// records (trust records, counters' envelopes) go through this package
// so that the same logical value always serializes to identical bytes,
// which keeps merge-and-rewrite operations on the key-value store
// idempotent at the byte level.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
// Unknown fields are silently ignored for forward compatibility.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Types implementing encoding.TextMarshaler (ref.ServerName,
	// ref.KeyID, etc.) serialize as CBOR text strings via MarshalText.
	// Without this, struct fields with unexported data would serialize
	// as empty CBOR maps, losing their identity.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Hearth never uses non-string map keys. When the decoder's
		// target is any, pick map[string]any rather than CBOR's default
		// map[interface{}]interface{} so decoded values interoperate
		// with encoding/json.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Mirror of TextMarshaler above for round-trip correctness.
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value, used to delay decoding or
// pre-encode output. Type alias so consumers import only lib/codec,
// not fxamacker/cbor directly.
type RawMessage = cbor.RawMessage
