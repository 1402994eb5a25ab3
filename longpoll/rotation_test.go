// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package longpoll

import (
	"sync"
	"testing"
	"time"

	"github.com/emberfed/hearth/lib/ref"
)

func TestFireWakesAllWatchers(t *testing.T) {
	rotation := NewRotation()

	const watchers = 8
	var wg sync.WaitGroup
	for i := 0; i < watchers; i++ {
		watch := rotation.Watch()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-watch
		}()
	}

	rotation.Fire()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not every watcher woke after Fire")
	}
}

func TestFireWithoutWatchersIsSafe(t *testing.T) {
	rotation := NewRotation()
	rotation.Fire()
	rotation.Fire()

	// A watch taken after those fires must still be pending.
	select {
	case <-rotation.Watch():
		t.Fatal("new watch observed an earlier fire")
	default:
	}
}

func TestWatchAfterFireSeesOnlyNextFire(t *testing.T) {
	rotation := NewRotation()
	stale := rotation.Watch()
	rotation.Fire()

	<-stale // the pre-fire watch resolved

	fresh := rotation.Watch()
	select {
	case <-fresh:
		t.Fatal("post-fire watch already resolved")
	default:
	}

	rotation.Fire()
	select {
	case <-fresh:
	case <-time.After(2 * time.Second):
		t.Fatal("watch not resolved by the next fire")
	}
}

func TestWatchSetReplaceAndLookup(t *testing.T) {
	set := NewWatchSet()
	user := ref.MustParseUserID("@alice:example.org")
	device := ref.MustParseDeviceID("PHONE")

	if _, ok := set.Lookup(user, device); ok {
		t.Fatal("lookup on an empty set returned a watch")
	}

	first := Watch{Since: "s100", Ready: make(chan SyncResult)}
	if _, had := set.Replace(user, device, first); had {
		t.Fatal("first Replace reported a superseded watch")
	}

	second := Watch{Since: "s200", Ready: make(chan SyncResult)}
	superseded, had := set.Replace(user, device, second)
	if !had {
		t.Fatal("second Replace did not report the first watch")
	}
	if superseded.Since != "s100" {
		t.Errorf("superseded.Since = %q, want %q", superseded.Since, "s100")
	}

	current, ok := set.Lookup(user, device)
	if !ok || current.Since != "s200" {
		t.Errorf("Lookup = %+v, %v, want the second watch", current, ok)
	}
}

func TestWatchSetDevicesAreIndependent(t *testing.T) {
	set := NewWatchSet()
	user := ref.MustParseUserID("@alice:example.org")
	phone := ref.MustParseDeviceID("PHONE")
	laptop := ref.MustParseDeviceID("LAPTOP")

	set.Replace(user, phone, Watch{Since: "p1"})
	set.Replace(user, laptop, Watch{Since: "l1"})

	set.Remove(user, phone)
	if _, ok := set.Lookup(user, phone); ok {
		t.Error("removed watch still present")
	}
	if watch, ok := set.Lookup(user, laptop); !ok || watch.Since != "l1" {
		t.Error("removing one device's watch disturbed another's")
	}

	// Removing an absent watch is a no-op.
	set.Remove(user, phone)
}
