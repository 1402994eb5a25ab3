// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package throttle

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Fingerprint is a 32-byte BLAKE3 digest identifying one signature
// set. The bad-signature registry is keyed by the ordered list of
// signature strings a failed verification saw; hashing collapses that
// list into a fixed-size comparable key.
type Fingerprint [32]byte

// fingerprintKey is the BLAKE3 keyed-hashing domain key for signature
// fingerprints. Fixed constant — changing it orphans any in-memory
// throttle state, nothing more. ASCII so it reads in hex dumps.
var fingerprintKey = [32]byte{
	'h', 'e', 'a', 'r', 't', 'h', '.', 't', 'h', 'r', 'o', 't', 't', 'l', 'e', '.',
	's', 'i', 'g', 'n', 'a', 't', 'u', 'r', 'e', 0, 0, 0, 0, 0, 0, 0,
}

// FingerprintSignatures computes the Fingerprint of an ordered
// signature-string list. Each element is length-prefixed into the hash
// input so ["ab","c"] and ["a","bc"] cannot collide.
func FingerprintSignatures(signatures []string) Fingerprint {
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		// NewKeyed fails only on a key of the wrong length.
		panic("throttle: blake3 keyed hasher: " + err.Error())
	}
	var lengthBuf [8]byte
	for _, signature := range signatures {
		binary.BigEndian.PutUint64(lengthBuf[:], uint64(len(signature)))
		hasher.Write(lengthBuf[:])
		hasher.Write([]byte(signature))
	}

	var fingerprint Fingerprint
	hasher.Digest().Read(fingerprint[:])
	return fingerprint
}

// String returns the fingerprint as lowercase hex, for log fields.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}
