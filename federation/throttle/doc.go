// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package throttle tracks failure state for remote actors so request
// handlers can stop hammering sources that keep failing: events that
// will not validate, signatures that will not verify, servers that
// will not answer.
//
// The registries store only raw state — the instant of the last
// failure and a count. Whether that state means "back off" is decided
// by a caller-supplied policy, so operators can tune backoff curves
// without touching stored state.
//
// A separate per-server permit gate bounds concurrent in-flight
// attempts to one remote server. It is a concurrency cap, not a
// time-based backoff; the two compose.
package throttle
