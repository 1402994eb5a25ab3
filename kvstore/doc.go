// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package kvstore defines the byte-oriented key-value storage contract
// the coordination core persists through, and its backends.
//
// The core treats storage as a set of named keyspaces, each a reliable
// byte map with four operations: Get, Insert, Remove, and a monotonic
// Increment. No transaction spans multiple keys — every caller-visible
// invariant in the core is maintained by additive, idempotent writes.
//
// Three backends are provided:
//   - Memory: map-backed, for tests.
//   - SQLite: one table per keyspace, WAL mode, durable across restart.
//   - Redis: keyspace as key prefix, for deployments that already run
//     a Redis and want shared counters across replicas.
//
// Counters are stored as 8-byte big-endian unsigned integers. A stored
// counter of any other width decodes as ErrBadValue, which callers
// surface rather than silently defaulting.
package kvstore
