// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/emberfed/hearth/config"
	"github.com/emberfed/hearth/federation/trust"
	"github.com/emberfed/hearth/kvstore"
	"github.com/emberfed/hearth/lib/clock"
	"github.com/emberfed/hearth/lib/ref"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ServerName = "example.org"
	cfg.Database.Backend = config.BackendMemory
	// Federation off so Load skips the host DNS check; the federation
	// plumbing is still constructed.
	cfg.AllowFederation = false
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadGlobals(t *testing.T, store kvstore.Store, cfg *config.Config) *Globals {
	t.Helper()
	globals, err := load(context.Background(), store, cfg, testLogger(), clock.Fake(time.Unix(1000, 0)))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return globals
}

func TestLoadAssemblesGlobals(t *testing.T) {
	cfg := testConfig()
	globals := loadGlobals(t, kvstore.Memory(), cfg)

	if got := globals.ServerName(); got.String() != "example.org" {
		t.Errorf("ServerName = %v", got)
	}
	if globals.MaxRequestSize() != cfg.MaxRequestSize {
		t.Errorf("MaxRequestSize = %d", globals.MaxRequestSize())
	}
	if globals.Keypair() == nil || globals.Keypair().KeyID().IsZero() {
		t.Error("keypair not loaded")
	}
	if globals.TrustStore() == nil {
		t.Error("trust store not constructed")
	}
	if globals.DefaultClient() == nil || globals.FederationClient() == nil {
		t.Error("HTTP clients not constructed")
	}
	if globals.DefaultClient() == globals.FederationClient() {
		t.Error("default and federation clients must be distinct")
	}
	if globals.JWTKeyFunc() != nil {
		t.Error("JWT login enabled without a secret")
	}
	if globals.Resolver() != nil {
		t.Error("resolver constructed with federation disabled")
	}
}

func TestLoadKeypairStableAcrossRestarts(t *testing.T) {
	store := kvstore.Memory()
	cfg := testConfig()

	first := loadGlobals(t, store, cfg)
	second := loadGlobals(t, store, cfg)

	if first.Keypair().KeyID() != second.Keypair().KeyID() {
		t.Errorf("keypair changed across loads: %v then %v",
			first.Keypair().KeyID(), second.Keypair().KeyID())
	}
}

func TestLoadFailsOnCorruptKeypair(t *testing.T) {
	store := kvstore.Memory()
	globals, err := store.Keyspace("globals")
	if err != nil {
		t.Fatal(err)
	}
	if err := globals.Insert(context.Background(), []byte("keypair"), []byte("garbage")); err != nil {
		t.Fatal(err)
	}

	_, err = load(context.Background(), store, testConfig(), testLogger(), clock.Fake(time.Unix(0, 0)))
	if !errors.Is(err, trust.ErrCorruptKeyMaterial) {
		t.Fatalf("Load err = %v, want ErrCorruptKeyMaterial", err)
	}

	// The corrupt record was deleted, so the next load succeeds.
	if _, err := load(context.Background(), store, testConfig(), testLogger(), clock.Fake(time.Unix(0, 0))); err != nil {
		t.Fatalf("Load after corrupt record: %v", err)
	}
}

func TestCounters(t *testing.T) {
	globals := loadGlobals(t, kvstore.Memory(), testConfig())
	ctx := context.Background()

	if count, err := globals.CurrentCount(ctx); err != nil || count != 0 {
		t.Fatalf("CurrentCount = %d, %v, want 0", count, err)
	}

	for want := uint64(1); want <= 3; want++ {
		got, err := globals.NextCount(ctx)
		if err != nil {
			t.Fatalf("NextCount: %v", err)
		}
		if got != want {
			t.Errorf("NextCount = %d, want %d", got, want)
		}
	}

	if count, err := globals.CurrentCount(ctx); err != nil || count != 3 {
		t.Errorf("CurrentCount = %d, %v, want 3", count, err)
	}
}

func TestCountersOnRedisBackend(t *testing.T) {
	// CurrentCount reads the counter key with a plain Get, so every
	// backend must keep the counter observable under that key — not
	// just the backends whose Increment happens to be read-modify-write.
	mini := miniredis.RunT(t)
	store, err := kvstore.OpenRedis(kvstore.RedisConfig{Addr: mini.Addr()})
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	globals := loadGlobals(t, store, testConfig())
	ctx := context.Background()

	for want := uint64(1); want <= 3; want++ {
		got, err := globals.NextCount(ctx)
		if err != nil {
			t.Fatalf("NextCount: %v", err)
		}
		if got != want {
			t.Errorf("NextCount = %d, want %d", got, want)
		}
	}
	if count, err := globals.CurrentCount(ctx); err != nil || count != 3 {
		t.Errorf("CurrentCount = %d, %v, want 3", count, err)
	}
}

func TestDatabaseVersion(t *testing.T) {
	globals := loadGlobals(t, kvstore.Memory(), testConfig())
	ctx := context.Background()

	if version, err := globals.DatabaseVersion(ctx); err != nil || version != 0 {
		t.Fatalf("DatabaseVersion = %d, %v, want 0", version, err)
	}

	if err := globals.BumpDatabaseVersion(ctx, 4); err != nil {
		t.Fatalf("BumpDatabaseVersion: %v", err)
	}
	if version, err := globals.DatabaseVersion(ctx); err != nil || version != 4 {
		t.Errorf("DatabaseVersion = %d, %v, want 4", version, err)
	}

	if err := globals.BumpDatabaseVersion(ctx, 3); err == nil {
		t.Error("BumpDatabaseVersion accepted a downgrade")
	}
}

func TestJWTKeyFunc(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = "login-secret"
	globals := loadGlobals(t, kvstore.Memory(), cfg)

	keyFunc := globals.JWTKeyFunc()
	if keyFunc == nil {
		t.Fatal("JWT login not enabled despite a configured secret")
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "@alice:example.org",
	}).SignedString([]byte("login-secret"))
	if err != nil {
		t.Fatal(err)
	}

	token, err := jwt.Parse(signed, keyFunc)
	if err != nil || !token.Valid {
		t.Errorf("valid token rejected: %v", err)
	}

	// Tokens signed with a non-HMAC method must be refused by the key
	// function, not silently verified against the secret.
	forged := jwt.New(jwt.SigningMethodNone)
	if _, err := keyFunc(forged); err == nil {
		t.Error("key function accepted a non-HMAC signing method")
	}
}

func TestServerBackoff(t *testing.T) {
	globals := loadGlobals(t, kvstore.Memory(), testConfig())
	server := ref.MustParseServerName("flaky.example")

	if !globals.ServerBackoff(server) {
		t.Fatal("fresh server not contactable")
	}
	globals.Servers().RecordFailure(server)
	if globals.ServerBackoff(server) {
		t.Error("server contactable immediately after a failure")
	}
	globals.Servers().Clear(server)
	if !globals.ServerBackoff(server) {
		t.Error("server still blocked after Clear")
	}
}
