// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package throttle

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/emberfed/hearth/lib/ref"
)

// Permits bounds concurrent in-flight attempts per remote server. Each
// server gets its own counting semaphore, created lazily on first
// reference and kept for the process lifetime (server cardinality is
// bounded by real deployments, not per-request data).
type Permits struct {
	perServer int64

	mu         sync.Mutex
	semaphores map[ref.ServerName]*semaphore.Weighted
}

// NewPermits returns a permit gate allowing perServer concurrent
// attempts to each remote server.
func NewPermits(perServer int) *Permits {
	if perServer < 1 {
		perServer = 1
	}
	return &Permits{
		perServer:  int64(perServer),
		semaphores: make(map[ref.ServerName]*semaphore.Weighted),
	}
}

// Acquire blocks cooperatively until a permit for server is available
// or ctx is cancelled. On success it returns a release function the
// caller must invoke when the attempt finishes, typically via defer.
func (p *Permits) Acquire(ctx context.Context, server ref.ServerName) (func(), error) {
	sem := p.semaphoreFor(server)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("throttle: acquiring permit for %s: %w", server, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, nil
}

// TryAcquire is the non-blocking variant: it returns (release, true)
// when a permit is immediately available.
func (p *Permits) TryAcquire(server ref.ServerName) (func(), bool) {
	sem := p.semaphoreFor(server)
	if !sem.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, true
}

// semaphoreFor returns the per-server semaphore, creating it on first
// reference. The registry mutex is held only for the map lookup and
// insert, never while waiting on a permit.
func (p *Permits) semaphoreFor(server ref.ServerName) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()
	sem, ok := p.semaphores[server]
	if !ok {
		sem = semaphore.NewWeighted(p.perServer)
		p.semaphores[server] = sem
	}
	return sem
}
