// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

// Package actor implements the typed, supervised message-passing runtime
// that Atlaswire services are built on.
//
// # Overview
//
// Each actor owns its state and processes one message at a time from a
// bounded mailbox. Messages are typed: an actor's message set is a closed
// interface union, and its handle can only send members of that set.
//
//   - Mailbox: bounded FIFO user lane plus an unbounded system lane for
//     lifecycle signals. Back-pressure is selectable per send: Send blocks
//     for space, TrySend fails fast with ErrMailboxFull.
//   - Handle[M]: cloneable send capability. Handles stay valid across actor
//     restarts; equality is by underlying mailbox cell identity.
//   - System: process-wide registry of named actors. Spawn installs a
//     handle under a unique name, Lookup retrieves it, ProcessRequests
//     blocks until shutdown and then drives the termination cascade.
//   - Scheduler: deadline-ordered timer queue owned by the system,
//     delivering messages to handles at or after a deadline, with O(1)
//     cancellation and coalescing of missed repeating fires.
//   - Action[T]: type-erased callback binding a publisher to heterogeneous
//     subscribers, with per-subscriber error mapping and selectable
//     aggregation policy.
//
// # Ordering guarantees
//
// All user sends from one goroutine to one actor are delivered in issue
// order. No ordering is promised across senders. System signals take
// priority over user messages.
//
// # Lifecycle
//
// An actor moves Initializing -> Running -> Stopping -> Terminated;
// transitions are monotonic. A handler returns a Directive per message:
// Continue, Stop, Fail(err) or Restart. Panics inside handlers are
// captured and handled per the actor's spawn-time panic policy; the
// runtime itself never aborts on a handler panic.
package actor
