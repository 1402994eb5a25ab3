// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package longpoll

import (
	"sync"

	"github.com/emberfed/hearth/lib/ref"
)

// SyncResult carries the outcome a parked long-poll resolves with. The
// computation producing it lives elsewhere; the watch set only routes
// the channel.
type SyncResult struct {
	// NextBatch is the token the client passes as since on its next
	// request.
	NextBatch string

	// Err is set when the computation failed and the long-poll should
	// surface an error instead of a batch.
	Err error
}

// Watch is one in-flight long-poll for a device.
type Watch struct {
	// Since is the batch token the request arrived with.
	Since string

	// Ready resolves when the sync computation for this watch
	// completes. A superseded watch's channel is never resolved by the
	// registry; its computation decides whether to still send.
	Ready <-chan SyncResult
}

type deviceKey struct {
	user   ref.UserID
	device ref.DeviceID
}

// WatchSet tracks the current long-poll per (user, device). A device
// has at most one: installing a new watch supersedes the previous one,
// matching clients that abandon a long-poll and immediately reissue
// it.
type WatchSet struct {
	mu      sync.Mutex
	watches map[deviceKey]Watch
}

// NewWatchSet returns an empty watch registry.
func NewWatchSet() *WatchSet {
	return &WatchSet{watches: make(map[deviceKey]Watch)}
}

// Replace installs watch as the device's current long-poll, returning
// the superseded watch if one was in flight.
func (s *WatchSet) Replace(user ref.UserID, device ref.DeviceID, watch Watch) (Watch, bool) {
	key := deviceKey{user, device}
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, had := s.watches[key]
	s.watches[key] = watch
	return previous, had
}

// Lookup returns the device's current long-poll, if any.
func (s *WatchSet) Lookup(user ref.UserID, device ref.DeviceID) (Watch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	watch, ok := s.watches[deviceKey{user, device}]
	return watch, ok
}

// Remove drops the device's watch. Call when the long-poll resolves or
// the device logs out. Removing an absent watch is a no-op.
func (s *WatchSet) Remove(user ref.UserID, device ref.DeviceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watches, deviceKey{user, device})
}
