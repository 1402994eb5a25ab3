// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package server assembles the homeserver's process-wide state: the
// signing keypair, the federation trust store, throttles and locks,
// long-poll plumbing, and the HTTP clients. One Globals exists per
// process and every subsystem receives it at construction.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/emberfed/hearth/config"
	"github.com/emberfed/hearth/federation/resolve"
	"github.com/emberfed/hearth/federation/throttle"
	"github.com/emberfed/hearth/federation/trust"
	"github.com/emberfed/hearth/kvstore"
	"github.com/emberfed/hearth/lib/clock"
	"github.com/emberfed/hearth/lib/ref"
	"github.com/emberfed/hearth/longpoll"
	"github.com/emberfed/hearth/roomlock"
)

// globalsKeyspace holds process-scoped records: the keypair, the event
// counter, and the schema version.
const globalsKeyspace = "globals"

var (
	counterKey         = []byte("counter")
	databaseVersionKey = []byte("version")
)

// Globals is the composition root. All fields are set once by Load and
// never mutated; the contained registries are internally synchronized.
type Globals struct {
	cfg        *config.Config
	logger     *slog.Logger
	clock      clock.Clock
	serverName ref.ServerName

	globals kvstore.Keyspace
	keypair *trust.Keypair
	trust   *trust.Store

	jwtKeyFunc jwt.Keyfunc

	badEvents     *throttle.Registry[ref.EventID]
	badSignatures *throttle.Registry[throttle.Fingerprint]
	servers       *throttle.Registry[ref.ServerName]
	backoff       throttle.Policy
	permits       *throttle.Permits

	roomLocks *roomlock.Registry
	rotation  *longpoll.Rotation
	watches   *longpoll.WatchSet

	destinations *resolve.Cache
	resolver     *net.Resolver

	defaultClient    *http.Client
	federationClient *http.Client
}

// Load builds the Globals from an opened store and a validated config.
// It fails on a corrupt keypair record (after deleting it, so a
// restart recovers) and on unusable system DNS configuration when
// federation is enabled.
func Load(ctx context.Context, store kvstore.Store, cfg *config.Config, logger *slog.Logger) (*Globals, error) {
	return load(ctx, store, cfg, logger, clock.Real())
}

// load is the clock-injectable implementation backing Load.
func load(ctx context.Context, store kvstore.Store, cfg *config.Config, logger *slog.Logger, clk clock.Clock) (*Globals, error) {
	serverName, err := ref.ParseServerName(cfg.ServerName)
	if err != nil {
		return nil, fmt.Errorf("server: config server name: %w", err)
	}

	globals, err := store.Keyspace(globalsKeyspace)
	if err != nil {
		return nil, fmt.Errorf("server: opening globals keyspace: %w", err)
	}
	signingKeys, err := store.Keyspace("server_signingkeys")
	if err != nil {
		return nil, fmt.Errorf("server: opening signing keys keyspace: %w", err)
	}

	keypair, err := trust.LoadOrCreateKeypair(ctx, globals)
	if err != nil {
		return nil, err
	}
	logger.Info("server identity loaded",
		"server_name", serverName,
		"key_id", keypair.KeyID())

	var resolver *net.Resolver
	if cfg.AllowFederation {
		resolver, err = resolve.SystemResolver()
		if err != nil {
			return nil, err
		}
	}

	g := &Globals{
		cfg:        cfg,
		logger:     logger,
		clock:      clk,
		serverName: serverName,
		globals:    globals,
		keypair:    keypair,
		trust:      trust.NewStore(signingKeys, clk),

		badEvents:     throttle.NewRegistry[ref.EventID](clk),
		badSignatures: throttle.NewRegistry[throttle.Fingerprint](clk),
		servers:       throttle.NewRegistry[ref.ServerName](clk),
		backoff:       throttle.ExponentialPolicy(cfg.Federation.BackoffBase.Std(), cfg.Federation.BackoffMax.Std()),
		permits:       throttle.NewPermits(cfg.Federation.MaxConcurrentRequests),

		roomLocks: roomlock.NewRegistry(),
		rotation:  longpoll.NewRotation(),
		watches:   longpoll.NewWatchSet(),

		destinations: resolve.NewCache(),
		resolver:     resolver,
	}

	if cfg.JWTSecret != "" {
		secret := []byte(cfg.JWTSecret)
		g.jwtKeyFunc = func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("server: unexpected JWT signing method %v", token.Header["alg"])
			}
			return secret, nil
		}
	}

	g.defaultClient = newHTTPClient(cfg, nil)
	g.federationClient = newHTTPClient(cfg, resolve.DialHook(g.destinations, baseDialContext()))

	return g, nil
}

func baseDialContext() resolve.DialContextFunc {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	return dialer.DialContext
}

func newHTTPClient(cfg *config.Config, dial resolve.DialContextFunc) *http.Client {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}
	if dial != nil {
		transport.DialContext = dial
	}
	if proxyURL := cfg.ProxyURL(); proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{
		Transport: transport,
		Timeout:   2 * time.Minute,
	}
}

// ServerName returns this server's authoritative name.
func (g *Globals) ServerName() ref.ServerName { return g.serverName }

// MaxRequestSize returns the largest accepted request body in bytes.
func (g *Globals) MaxRequestSize() uint64 { return g.cfg.MaxRequestSize }

// AllowRegistration reports whether new accounts may register.
func (g *Globals) AllowRegistration() bool { return g.cfg.AllowRegistration }

// AllowEncryption reports whether end-to-end encryption is advertised.
func (g *Globals) AllowEncryption() bool { return g.cfg.AllowEncryption }

// AllowFederation reports whether server-to-server traffic is enabled.
func (g *Globals) AllowFederation() bool { return g.cfg.AllowFederation }

// AllowRoomCreation reports whether local users may create rooms.
func (g *Globals) AllowRoomCreation() bool { return g.cfg.AllowRoomCreation }

// TrustedServers returns the configured notary servers.
func (g *Globals) TrustedServers() []string { return g.cfg.TrustedServers }

// JWTKeyFunc returns the verification key function for JWT login, or
// nil when JWT login is disabled.
func (g *Globals) JWTKeyFunc() jwt.Keyfunc { return g.jwtKeyFunc }

// TurnURIs returns the advertised TURN server URIs.
func (g *Globals) TurnURIs() []string { return g.cfg.TURN.URIs }

// TurnUsername returns the static TURN username.
func (g *Globals) TurnUsername() string { return g.cfg.TURN.Username }

// TurnPassword returns the static TURN password.
func (g *Globals) TurnPassword() string { return g.cfg.TURN.Password }

// TurnSecret returns the shared secret for derived TURN credentials.
func (g *Globals) TurnSecret() string { return g.cfg.TURN.Secret }

// TurnTTL returns the credential lifetime in seconds.
func (g *Globals) TurnTTL() uint64 { return g.cfg.TURN.TTL }

// Keypair returns the server's signing keypair.
func (g *Globals) Keypair() *trust.Keypair { return g.keypair }

// TrustStore returns the remote signing-key trust store.
func (g *Globals) TrustStore() *trust.Store { return g.trust }

// DefaultClient returns the HTTP client for non-federation traffic
// (well-known lookups, identity servers, URL previews).
func (g *Globals) DefaultClient() *http.Client { return g.defaultClient }

// FederationClient returns the HTTP client for server-to-server
// traffic, wired through the destination cache's dial hook.
func (g *Globals) FederationClient() *http.Client { return g.federationClient }

// BadEvents returns the rejected-event throttle registry.
func (g *Globals) BadEvents() *throttle.Registry[ref.EventID] { return g.badEvents }

// BadSignatures returns the failed-signature throttle registry.
func (g *Globals) BadSignatures() *throttle.Registry[throttle.Fingerprint] { return g.badSignatures }

// ServerBackoff reports whether server may be contacted now given its
// recorded failure history and the configured backoff policy.
func (g *Globals) ServerBackoff(server ref.ServerName) bool {
	return g.servers.ShouldRetry(server, g.backoff)
}

// Servers returns the unresponsive-server throttle registry.
func (g *Globals) Servers() *throttle.Registry[ref.ServerName] { return g.servers }

// Permits returns the per-server concurrency gate for outbound
// federation requests.
func (g *Globals) Permits() *throttle.Permits { return g.permits }

// RoomLocks returns the per-room lock registry.
func (g *Globals) RoomLocks() *roomlock.Registry { return g.roomLocks }

// Rotation returns the long-poll cancellation broadcast.
func (g *Globals) Rotation() *longpoll.Rotation { return g.rotation }

// Watches returns the per-device long-poll registry.
func (g *Globals) Watches() *longpoll.WatchSet { return g.watches }

// Destinations returns the federation resolution cache.
func (g *Globals) Destinations() *resolve.Cache { return g.destinations }

// Resolver returns the validated DNS resolver, or nil when federation
// is disabled.
func (g *Globals) Resolver() *net.Resolver { return g.resolver }

// NextCount increments and returns the global event counter. Counts
// are strictly increasing across the process and across restarts.
func (g *Globals) NextCount(ctx context.Context) (uint64, error) {
	count, err := g.globals.Increment(ctx, counterKey)
	if err != nil {
		return 0, fmt.Errorf("server: incrementing global counter: %w", err)
	}
	return count, nil
}

// CurrentCount returns the global event counter without incrementing.
// A counter that was never incremented reads as zero.
func (g *Globals) CurrentCount(ctx context.Context) (uint64, error) {
	raw, found, err := g.globals.Get(ctx, counterKey)
	if err != nil {
		return 0, fmt.Errorf("server: reading global counter: %w", err)
	}
	if !found {
		return 0, nil
	}
	count, err := kvstore.DecodeCounter(raw)
	if err != nil {
		return 0, fmt.Errorf("server: global counter: %w", err)
	}
	return count, nil
}

// DatabaseVersion returns the stored schema version, zero when unset.
func (g *Globals) DatabaseVersion(ctx context.Context) (uint64, error) {
	raw, found, err := g.globals.Get(ctx, databaseVersionKey)
	if err != nil {
		return 0, fmt.Errorf("server: reading database version: %w", err)
	}
	if !found {
		return 0, nil
	}
	version, err := kvstore.DecodeCounter(raw)
	if err != nil {
		return 0, fmt.Errorf("server: database version: %w", err)
	}
	return version, nil
}

// BumpDatabaseVersion records version as the current schema version.
// Migrations call it after each step; versions never go backward.
func (g *Globals) BumpDatabaseVersion(ctx context.Context, version uint64) error {
	current, err := g.DatabaseVersion(ctx)
	if err != nil {
		return err
	}
	if version < current {
		return fmt.Errorf("server: database version %d is behind stored version %d", version, current)
	}
	if err := g.globals.Insert(ctx, databaseVersionKey, kvstore.EncodeCounter(version)); err != nil {
		return fmt.Errorf("server: writing database version: %w", err)
	}
	return nil
}
