// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package throttle implements the per-process keep-alive bookkeeping
// that decides whether a content process may be deprioritized or
// reclaimed.
//
// Each process has one [Throttler]. Anything that needs the process to
// stay alive acquires an [Activity] from it, either foreground (do not
// suspend or deprioritize) or background (keep alive, may be
// deprioritized), and releases it when done. The throttler derives the
// process [State] from the set of activities currently held:
//
//   - Foreground while at least one foreground activity is held.
//   - Background while only background activities are held.
//   - Suspendable when nothing is held. Releasing the last activity is
//     the only way a process becomes eligible for reclamation.
//
// Throttler methods are safe for concurrent use. Activities may be
// shared by several owners; each owner releases through the handle it
// holds and Release is idempotent.
package throttle
