// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package trust holds the federation trust state: this server's own
// signing keypair and the store of remote servers' verify keys.
//
// The keypair is loaded once at startup and is immutable for the
// process lifetime — a homeserver's identity must never rotate
// silently while serving traffic. A stored keypair that fails to parse
// is deleted and the load fails; the operator restarts to regenerate.
//
// Remote keys are additive-merge only: every fetch extends the known
// key set and nothing is ever removed, because a signature accepted
// once must remain verifiable indefinitely (old events are
// reprocessed). Absence of trust data for a server is a normal state,
// not an error.
package trust
