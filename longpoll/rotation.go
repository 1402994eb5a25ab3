// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package longpoll supports suspended /sync requests: a broadcast
// rotation that wakes every parked long-poll at once, and a per-device
// registry of the in-flight watch so a newer request supersedes an
// older one.
package longpoll

import "sync"

// Rotation is a lossy broadcast. Watchers select on the channel Watch
// returns; Fire wakes every watcher that subscribed before the call.
// There is no payload and no memory: a watch taken after a fire is
// unaffected by earlier fires, and firing with zero watchers is a
// no-op.
//
// Used to cancel parked long-polls on shutdown or when server-wide
// state changes invalidate every pending response.
type Rotation struct {
	mu  sync.Mutex
	gen chan struct{}
}

// NewRotation returns a rotation with no pending fires.
func NewRotation() *Rotation {
	return &Rotation{gen: make(chan struct{})}
}

// Watch returns a channel closed by the next Fire. Each call observes
// the current generation; the caller selects on it alongside its own
// timeout and request context.
func (r *Rotation) Watch() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// Fire wakes every current watcher exactly once by closing the
// generation channel and starting a fresh one.
func (r *Rotation) Fire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	close(r.gen)
	r.gen = make(chan struct{})
}
