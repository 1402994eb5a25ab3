// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/emberfed/hearth/lib/ref"
)

func TestDestinationAddress(t *testing.T) {
	tests := []struct {
		dest Destination
		want string
	}{
		{Destination{Host: "matrix.example.org", Port: 443}, "matrix.example.org:443"},
		{Destination{Host: "matrix.example.org"}, "matrix.example.org:8448"},
		{Destination{Host: "2001:db8::1", Port: 8448}, "[2001:db8::1]:8448"},
	}
	for _, tt := range tests {
		if got := tt.dest.Address(); got != tt.want {
			t.Errorf("Address(%+v) = %q, want %q", tt.dest, got, tt.want)
		}
	}
}

func TestCacheResolved(t *testing.T) {
	cache := NewCache()
	server := ref.MustParseServerName("example.org")

	if _, _, ok := cache.Resolved(server); ok {
		t.Fatal("empty cache returned a resolution")
	}

	dest := Destination{Host: "matrix.example.org", Port: 443}
	cache.StoreResolved(server, dest, "example.org")

	got, hostHeader, ok := cache.Resolved(server)
	if !ok {
		t.Fatal("stored resolution not found")
	}
	if got != dest || hostHeader != "example.org" {
		t.Errorf("Resolved = %+v, %q", got, hostHeader)
	}

	cache.ForgetResolved(server)
	if _, _, ok := cache.Resolved(server); ok {
		t.Error("resolution still cached after ForgetResolved")
	}
}

func TestDialHookPassthrough(t *testing.T) {
	cache := NewCache()
	var dialed string
	base := func(ctx context.Context, network, address string) (net.Conn, error) {
		dialed = address
		return nil, errors.New("sentinel")
	}
	hook := DialHook(cache, base)

	hook(context.Background(), "tcp", "plain.example.org:8448")
	if dialed != "plain.example.org:8448" {
		t.Errorf("dialed %q, want the original address untouched", dialed)
	}
}

func TestDialHookUsesOverride(t *testing.T) {
	cache := NewCache()
	cache.StoreTLSOverride("pinned.example.org", []netip.Addr{
		netip.MustParseAddr("192.0.2.10"),
		netip.MustParseAddr("192.0.2.11"),
	}, 8449)

	var dialed []string
	base := func(ctx context.Context, network, address string) (net.Conn, error) {
		dialed = append(dialed, address)
		return nil, errors.New("refused")
	}
	hook := DialHook(cache, base)

	_, err := hook(context.Background(), "tcp", "pinned.example.org:8448")
	if err == nil {
		t.Fatal("expected the hook to report failure when every address fails")
	}
	want := []string{"192.0.2.10:8449", "192.0.2.11:8449"}
	if len(dialed) != len(want) {
		t.Fatalf("dialed %v, want %v", dialed, want)
	}
	for i := range want {
		if dialed[i] != want[i] {
			t.Errorf("dial %d = %q, want %q", i, dialed[i], want[i])
		}
	}
}

func TestDialHookOverrideKeepsPortWhenUnset(t *testing.T) {
	cache := NewCache()
	cache.StoreTLSOverride("pinned.example.org", []netip.Addr{
		netip.MustParseAddr("192.0.2.10"),
	}, 0)

	var dialed string
	base := func(ctx context.Context, network, address string) (net.Conn, error) {
		dialed = address
		return nil, nil
	}
	hook := DialHook(cache, base)

	hook(context.Background(), "tcp", "pinned.example.org:8448")
	if dialed != "192.0.2.10:8448" {
		t.Errorf("dialed %q, want the request's own port preserved", dialed)
	}
}

func TestCheckResolvConf(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.conf")
	if err := os.WriteFile(good, []byte("# comment\nsearch example.org\nnameserver 127.0.0.53\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := checkResolvConf(good); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	empty := filepath.Join(dir, "empty.conf")
	if err := os.WriteFile(empty, []byte("search example.org\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := checkResolvConf(empty); !errors.Is(err, ErrConfig) {
		t.Errorf("nameserver-less config: err = %v, want ErrConfig", err)
	}

	if err := checkResolvConf(filepath.Join(dir, "missing.conf")); !errors.Is(err, ErrConfig) {
		t.Errorf("missing config: err = %v, want ErrConfig", err)
	}
}
