// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package roomlock hands out per-room mutual-exclusion handles across
// three independent locking domains:
//
//   - insert: short-held, guards room-creation and insert races.
//   - state: held across state-resolution computations for a room.
//   - federation: held for the duration of processing one inbound
//     federation transaction for a room — intentionally the
//     longest-held of the three, often across network I/O (remote key
//     fetches, recursive auth-chain resolution).
//
// The domains are separate: holding one grants nothing about the
// others, and the same room's state and federation work may run
// concurrently unless a higher-level protocol forbids it.
//
// No global lock order is enforced across rooms or domains. Callers
// must not hold two different rooms' locks of the same domain while
// acquiring in the reverse order elsewhere; this is caller discipline,
// not an enforced invariant.
//
// Handles are created lazily on first reference to a room under a
// short-held registry-wide mutex, and live for the process lifetime —
// acceptable because room cardinality is bounded by real rooms, not
// per-request data.
package roomlock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/emberfed/hearth/lib/ref"
)

// Handle is a blocking per-room lock for the insert and state domains.
// These sections are short (map and pointer manipulation, bounded
// computation), so blocking the worker briefly is acceptable.
type Handle struct {
	mu sync.Mutex
}

// Lock acquires the handle, blocking until it is free.
func (h *Handle) Lock() { h.mu.Lock() }

// Unlock releases the handle.
func (h *Handle) Unlock() { h.mu.Unlock() }

// FedHandle is the federation-domain per-room lock. Federation
// transaction processing holds it across I/O, so acquisition suspends
// the goroutine cooperatively instead of blocking an OS thread, and is
// abandonable via context.
type FedHandle struct {
	sem *semaphore.Weighted
}

// Lock acquires the handle, suspending until it is free or ctx is
// done. On success it returns the release function; acquisition has no
// other failure mode — callers needing a bounded wait layer their own
// deadline onto ctx.
func (h *FedHandle) Lock(ctx context.Context) (func(), error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("roomlock: acquiring federation lock: %w", err)
	}
	var once sync.Once
	return func() {
		once.Do(func() { h.sem.Release(1) })
	}, nil
}

// Registry owns the per-room lock maps for all three domains.
type Registry struct {
	mu         sync.Mutex
	insert     map[ref.RoomID]*Handle
	state      map[ref.RoomID]*Handle
	federation map[ref.RoomID]*FedHandle
}

// NewRegistry returns an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{
		insert:     make(map[ref.RoomID]*Handle),
		state:      make(map[ref.RoomID]*Handle),
		federation: make(map[ref.RoomID]*FedHandle),
	}
}

// Insert returns the room's insert-domain handle, creating it on first
// reference. Two concurrent first references observe the same
// underlying lock.
func (r *Registry) Insert(roomID ref.RoomID) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, ok := r.insert[roomID]
	if !ok {
		handle = &Handle{}
		r.insert[roomID] = handle
	}
	return handle
}

// State returns the room's state-resolution-domain handle, creating it
// on first reference.
func (r *Registry) State(roomID ref.RoomID) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, ok := r.state[roomID]
	if !ok {
		handle = &Handle{}
		r.state[roomID] = handle
	}
	return handle
}

// Federation returns the room's federation-domain handle, creating it
// on first reference.
func (r *Registry) Federation(roomID ref.RoomID) *FedHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, ok := r.federation[roomID]
	if !ok {
		handle = &FedHandle{sem: semaphore.NewWeighted(1)}
		r.federation[roomID] = handle
	}
	return handle
}
