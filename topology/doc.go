// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package topology models which content processes host a page.
//
// A [Page] is hosted by one primary [Process] plus zero or more
// [RemotePage] entries, one per additional process that hosts an
// isolated sub-frame of the page. Components that need to follow
// process churn (for example activity registries that keep every
// hosting process alive) implement [PageObserver] and register with
// the page.
//
// Topology is owned by a single orchestration goroutine. None of the
// types here lock: callers must not mutate a page, or register
// observers on it, from more than one goroutine.
package topology
