// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package actor

import (
	"errors"
	"fmt"
)

var (
	// ErrMailboxFull is returned by TrySend when the bounded user lane is
	// at capacity. Never fatal to the receiver.
	ErrMailboxFull = errors.New("mailbox full")

	// ErrReceiverGone is returned when the target actor has terminated.
	ErrReceiverGone = errors.New("receiver gone")

	// ErrTimeout is returned by SendTimeout when the deadline elapses
	// before mailbox space becomes available.
	ErrTimeout = errors.New("send timeout")

	// ErrNameConflict is returned at spawn time for a duplicate actor name.
	ErrNameConflict = errors.New("name conflict")

	// ErrShuttingDown is returned for spawns attempted after shutdown began.
	ErrShuttingDown = errors.New("actor system shutting down")
)

// ActionError wraps a subscriber-side failure so that publishers can
// aggregate heterogeneous subscriber errors without knowing their types.
type ActionError struct {
	// Subscriber identifies the failing subscriber for logs and metrics.
	Subscriber string
	Err        error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action subscriber %s: %v", e.Subscriber, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// PanicError carries a panic captured inside a message handler. The actor
// transitions to Terminated (or restarts, per policy); the runtime never
// aborts on handler panics.
type PanicError struct {
	Actor string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("actor %s: handler panic: %v", e.Actor, e.Value)
}
