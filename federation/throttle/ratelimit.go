// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package throttle

import (
	"sync"
	"time"

	"github.com/emberfed/hearth/lib/clock"
)

// FailureState is the raw throttle state for one key.
type FailureState struct {
	// LastFailure is when the most recent failure was recorded.
	LastFailure time.Time

	// Count is the number of failures recorded since the last Clear.
	Count uint32
}

// Policy decides whether a retry is allowed given the current failure
// state and the current time. The registry stores state; the policy
// encodes the backoff curve.
type Policy func(state FailureState, now time.Time) bool

// ExponentialPolicy returns a Policy allowing a retry once
// base << (count-1) has elapsed since the last failure, capped at max.
func ExponentialPolicy(base, max time.Duration) Policy {
	return func(state FailureState, now time.Time) bool {
		wait := base
		for i := uint32(1); i < state.Count; i++ {
			wait *= 2
			if wait >= max {
				wait = max
				break
			}
		}
		return now.Sub(state.LastFailure) >= wait
	}
}

// Registry tracks failure state per key. K is the throttle domain's
// key type: ref.EventID for bad events, Fingerprint for bad
// signatures, ref.ServerName for unresponsive servers.
//
// All methods are safe for concurrent use. Mutations hold a short
// mutex over map manipulation only, never across I/O.
type Registry[K comparable] struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[K]FailureState
}

// NewRegistry returns an empty failure registry.
func NewRegistry[K comparable](clk clock.Clock) *Registry[K] {
	return &Registry[K]{
		clock:   clk,
		entries: make(map[K]FailureState),
	}
}

// RecordFailure inserts or updates the entry for key with (now,
// count+1).
func (r *Registry[K]) RecordFailure(key K) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.entries[key]
	state.LastFailure = now
	state.Count++
	r.entries[key] = state
}

// State returns the raw failure state for key. The second return is
// false when the key has no recorded failures — a normal state, not an
// error.
func (r *Registry[K]) State(key K) (FailureState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.entries[key]
	return state, ok
}

// ShouldRetry reports whether the policy permits another attempt for
// key right now. A key with no recorded failures is always
// retryable.
func (r *Registry[K]) ShouldRetry(key K, policy Policy) bool {
	state, ok := r.State(key)
	if !ok {
		return true
	}
	return policy(state, r.clock.Now())
}

// Clear removes the entry for key. Call after an observed success.
func (r *Registry[K]) Clear(key K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}
