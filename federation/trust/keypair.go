// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package trust

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/emberfed/hearth/kvstore"
	"github.com/emberfed/hearth/lib/ref"
)

// ErrCorruptKeyMaterial reports that the stored keypair record failed
// to parse. The record has been deleted; the load attempt fails and a
// restart regenerates a fresh keypair. It is never auto-repaired
// mid-flight because that would silently rotate the server identity.
var ErrCorruptKeyMaterial = errors.New("corrupt key material")

// keypairRecordKey is the key of the keypair record in the globals
// keyspace.
var keypairRecordKey = []byte("keypair")

// keypairSeparator splits the version prefix from the DER key bytes in
// the stored record. The version is restricted to lowercase ASCII, so
// 0xFF can never appear before the separator.
const keypairSeparator = 0xFF

// versionLength is the length of generated key versions.
const versionLength = 8

// Keypair is this server's long-term ed25519 identity keypair. Exactly
// one exists for the life of a deployment. Immutable after load.
type Keypair struct {
	version string
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// LoadOrCreateKeypair reads the keypair record from the globals
// keyspace. If absent, it generates a fresh ed25519 keypair, persists
// it as "version || 0xFF || PKCS#8 DER", and returns it. If present
// but unparsable, the record is deleted and the call fails with
// ErrCorruptKeyMaterial — it never regenerates in the same call.
func LoadOrCreateKeypair(ctx context.Context, globals kvstore.Keyspace) (*Keypair, error) {
	raw, found, err := globals.Get(ctx, keypairRecordKey)
	if err != nil {
		return nil, fmt.Errorf("trust: reading keypair record: %w", err)
	}

	if !found {
		keypair, record, err := generateKeypair()
		if err != nil {
			return nil, err
		}
		if err := globals.Insert(ctx, keypairRecordKey, record); err != nil {
			return nil, fmt.Errorf("trust: persisting keypair record: %w", err)
		}
		return keypair, nil
	}

	keypair, parseErr := parseKeypairRecord(raw)
	if parseErr != nil {
		if removeErr := globals.Remove(ctx, keypairRecordKey); removeErr != nil {
			return nil, fmt.Errorf("trust: deleting corrupt keypair record: %w", removeErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptKeyMaterial, parseErr)
	}
	return keypair, nil
}

// generateKeypair creates a fresh keypair with a random version and
// returns it with its serialized record form.
func generateKeypair() (*Keypair, []byte, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("trust: generating ed25519 keypair: %w", err)
	}

	version, err := randomVersion()
	if err != nil {
		return nil, nil, err
	}

	der, err := x509.MarshalPKCS8PrivateKey(private)
	if err != nil {
		return nil, nil, fmt.Errorf("trust: encoding private key: %w", err)
	}

	record := make([]byte, 0, len(version)+1+len(der))
	record = append(record, version...)
	record = append(record, keypairSeparator)
	record = append(record, der...)

	return &Keypair{
		version: version,
		private: private,
		public:  public,
	}, record, nil
}

// parseKeypairRecord decodes "version || 0xFF || PKCS#8 DER".
func parseKeypairRecord(raw []byte) (*Keypair, error) {
	separatorIndex := bytes.IndexByte(raw, keypairSeparator)
	if separatorIndex < 0 {
		return nil, fmt.Errorf("keypair record has no version separator")
	}

	version := string(raw[:separatorIndex])
	if version == "" {
		return nil, fmt.Errorf("keypair record has empty version")
	}
	for i := 0; i < len(version); i++ {
		if version[i] < 'a' || version[i] > 'z' {
			return nil, fmt.Errorf("keypair record version has invalid byte at %d", i)
		}
	}

	parsed, err := x509.ParsePKCS8PrivateKey(raw[separatorIndex+1:])
	if err != nil {
		return nil, fmt.Errorf("keypair record DER: %v", err)
	}
	private, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keypair record is not an ed25519 key")
	}

	return &Keypair{
		version: version,
		private: private,
		public:  private.Public().(ed25519.PublicKey),
	}, nil
}

// randomVersion returns a random lowercase version string. Lowercase
// ASCII keeps the version unambiguous against the 0xFF separator and
// valid inside a Matrix key ID.
func randomVersion() (string, error) {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	buf := make([]byte, versionLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("trust: generating key version: %w", err)
	}
	for i := range buf {
		buf[i] = alphabet[int(buf[i])%len(alphabet)]
	}
	return string(buf), nil
}

// Version returns the key version string (e.g., "abcdwxyz").
func (k *Keypair) Version() string { return k.version }

// KeyID returns the Matrix key ID for this keypair
// (e.g., "ed25519:abcdwxyz").
func (k *Keypair) KeyID() ref.KeyID { return ref.Ed25519KeyID(k.version) }

// Public returns the verify half of the keypair.
func (k *Keypair) Public() ed25519.PublicKey { return k.public }

// PublicBase64 returns the verify key in the unpadded base64 form used
// on the federation wire.
func (k *Keypair) PublicBase64() string {
	return base64.RawStdEncoding.EncodeToString(k.public)
}

// Sign signs message with the private half of the keypair.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.private, message)
}
