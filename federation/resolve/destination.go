// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package resolve caches where federation requests actually go.
// Matrix server names are logical: the well-known and SRV machinery
// can redirect a name to a different host and port, and operators can
// pin specific hostnames to fixed addresses. This package holds both
// tables and the dialer hook that consults them.
package resolve

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"github.com/emberfed/hearth/lib/ref"
)

const defaultFederationPort = 8448

// Destination is a resolved federation target: the concrete host to
// connect to and the port, after delegation has been applied.
type Destination struct {
	// Host is the hostname or IP literal to dial.
	Host string

	// Port is the TCP port. Zero means the default federation port.
	Port uint16
}

// Address returns the host:port string for dialing.
func (d Destination) Address() string {
	port := d.Port
	if port == 0 {
		port = defaultFederationPort
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(int(port)))
}

// IsZero reports whether the destination is unset.
func (d Destination) IsZero() bool { return d.Host == "" }

type resolvedEntry struct {
	dest       Destination
	hostHeader string
}

type tlsOverride struct {
	addrs []netip.Addr
	port  uint16
}

// Cache holds per-process resolution state for the federation client:
// well-known delegation results keyed by server name, and operator TLS
// overrides keyed by hostname. Both tables are written by the request
// path as resolution happens and read on every dial.
//
// Entries live for the process lifetime. Delegation changes on a
// remote server are picked up on restart; this matches the upstream
// expectation that delegation is near-static.
type Cache struct {
	mu        sync.RWMutex
	resolved  map[ref.ServerName]resolvedEntry
	overrides map[string]tlsOverride
}

// NewCache returns an empty resolution cache.
func NewCache() *Cache {
	return &Cache{
		resolved:  make(map[ref.ServerName]resolvedEntry),
		overrides: make(map[string]tlsOverride),
	}
}

// Resolved returns the cached delegation result for server: the
// destination to dial and the Host header to present. The third return
// is false when the server has not been resolved yet.
func (c *Cache) Resolved(server ref.ServerName) (Destination, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.resolved[server]
	return entry.dest, entry.hostHeader, ok
}

// StoreResolved records the delegation result for server, replacing
// any previous entry.
func (c *Cache) StoreResolved(server ref.ServerName, dest Destination, hostHeader string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved[server] = resolvedEntry{dest: dest, hostHeader: hostHeader}
}

// ForgetResolved drops the delegation entry for server, forcing the
// next request to re-resolve. Call after a connection failure that
// suggests stale delegation.
func (c *Cache) ForgetResolved(server ref.ServerName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.resolved, server)
}

// TLSOverride returns the pinned addresses and port for hostname, if
// an operator override exists.
func (c *Cache) TLSOverride(hostname string) ([]netip.Addr, uint16, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	override, ok := c.overrides[hostname]
	return override.addrs, override.port, ok
}

// StoreTLSOverride pins hostname to the given addresses and port. The
// TLS handshake still validates against hostname; only the TCP
// connection target changes.
func (c *Cache) StoreTLSOverride(hostname string, addrs []netip.Addr, port uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[hostname] = tlsOverride{addrs: addrs, port: port}
}

// DialContextFunc matches net.Dialer.DialContext.
type DialContextFunc func(ctx context.Context, network, address string) (net.Conn, error)

// DialHook wraps base so that dials to a hostname with a TLS override
// connect to the pinned addresses instead of resolving the hostname.
// Addresses are tried in order; the last error is returned when all
// fail. Hostnames without an override pass through untouched.
func DialHook(cache *Cache, base DialContextFunc) DialContextFunc {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, portStr, err := net.SplitHostPort(address)
		if err != nil {
			return base(ctx, network, address)
		}
		addrs, overridePort, ok := cache.TLSOverride(host)
		if !ok || len(addrs) == 0 {
			return base(ctx, network, address)
		}

		port := portStr
		if overridePort != 0 {
			port = strconv.Itoa(int(overridePort))
		}
		var lastErr error
		for _, addr := range addrs {
			conn, err := base(ctx, network, net.JoinHostPort(addr.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, fmt.Errorf("resolve: all %d pinned addresses for %s failed: %w", len(addrs), host, lastErr)
	}
}
