// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for testability. Production
// code injects Real(); tests inject Fake() with deterministic time
// control.
//
// The rate limiter records failure instants and the long-poll paths
// wait on timeouts; both take a Clock instead of calling the time
// package directly, so tests can drive backoff and timeout behavior
// without real sleeps.
package clock

import "time"

// Clock abstracts the subset of the time package Hearth uses.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. Equivalent to time.After. If d <= 0, the
	// channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the current goroutine for at least duration d.
	// Equivalent to time.Sleep.
	Sleep(d time.Duration)
}
