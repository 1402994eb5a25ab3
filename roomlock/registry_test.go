// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package roomlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/emberfed/hearth/lib/ref"
)

func TestConcurrentFirstLookupSharesHandle(t *testing.T) {
	registry := NewRegistry()
	room := ref.MustParseRoomID("!fresh:example.org")

	const lookups = 16
	handles := make([]*Handle, lookups)
	var wg sync.WaitGroup
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = registry.Insert(room)
		}(i)
	}
	wg.Wait()

	for i := 1; i < lookups; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("lookup %d returned a different handle for the same room", i)
		}
	}
}

func TestDomainsAreIndependent(t *testing.T) {
	registry := NewRegistry()
	room := ref.MustParseRoomID("!busy:example.org")

	insert := registry.Insert(room)
	state := registry.State(room)
	if insert == state {
		t.Fatal("insert and state domains share a handle")
	}

	// Holding the insert lock must not block the state lock.
	insert.Lock()
	defer insert.Unlock()

	acquired := make(chan struct{})
	go func() {
		state.Lock()
		state.Unlock()
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("state lock blocked by held insert lock")
	}
}

func TestHandleMutualExclusion(t *testing.T) {
	registry := NewRegistry()
	room := ref.MustParseRoomID("!counted:example.org")

	var counter int
	const workers = 8
	const iterations = 200
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				handle := registry.State(room)
				handle.Lock()
				counter++
				handle.Unlock()
			}
		}()
	}
	wg.Wait()

	if counter != workers*iterations {
		t.Errorf("counter = %d, want %d", counter, workers*iterations)
	}
}

func TestFederationLockExcludesAndCompletes(t *testing.T) {
	registry := NewRegistry()
	room := ref.MustParseRoomID("!federated:example.org")
	ctx := context.Background()

	var holders int
	var mu sync.Mutex
	const lockers = 10
	var wg sync.WaitGroup
	for i := 0; i < lockers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := registry.Federation(room).Lock(ctx)
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			defer release()

			mu.Lock()
			holders++
			if holders != 1 {
				t.Errorf("%d concurrent holders of one federation lock", holders)
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
		}()
	}
	wg.Wait()
}

func TestFederationLockHonorsContext(t *testing.T) {
	registry := NewRegistry()
	room := ref.MustParseRoomID("!held:example.org")

	release, err := registry.Federation(room).Lock(context.Background())
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := registry.Federation(room).Lock(ctx); err == nil {
		t.Fatal("Lock returned nil error with a cancelled context")
	}

	// Double release must not mint a second permit.
	release()
	release()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	release2, err := registry.Federation(room).Lock(ctx2)
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	release2()
}
