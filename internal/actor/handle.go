// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package actor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ActorState is the lifecycle state of an actor. Transitions are monotonic
// and Terminated is terminal.
type ActorState int32

const (
	StateInitializing ActorState = iota
	StateRunning
	StateStopping
	StateTerminated
)

func (s ActorState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// cell is the stable identity behind a set of handles. A restart swaps the
// mailbox inside the cell, so handles created before the restart keep
// working while in-flight messages on the old mailbox drop.
type cell[M any] struct {
	name  string
	state atomic.Int32

	mu sync.RWMutex
	mb *mailbox[M]
}

func (c *cell[M]) current() *mailbox[M] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mb
}

// swap installs a fresh mailbox and closes the old one.
func (c *cell[M]) swap(capacity int) *mailbox[M] {
	fresh := newMailbox[M](capacity)
	c.mu.Lock()
	old := c.mb
	c.mb = fresh
	c.mu.Unlock()
	old.close()
	return fresh
}

func (c *cell[M]) setState(s ActorState) {
	// Monotonic: never move backwards.
	for {
		cur := c.state.Load()
		if cur >= int32(s) {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (c *cell[M]) getState() ActorState { return ActorState(c.state.Load()) }

func (c *cell[M]) terminal() bool { return c.getState() == StateTerminated }

// Handle is a shareable, cloneable send capability for an actor whose
// message set is M. The zero Handle is invalid; obtain handles from Spawn
// or LookupHandle.
type Handle[M any] struct {
	c *cell[M]
}

// Name returns the actor's process-unique name.
func (h *Handle[M]) Name() string { return h.c.name }

// State reports the actor's current lifecycle state.
func (h *Handle[M]) State() ActorState { return h.c.getState() }

// Equal reports whether two handles address the same actor.
func (h *Handle[M]) Equal(other *Handle[M]) bool {
	return other != nil && h.c == other.c
}

// Send delivers m, blocking while the mailbox is full. It returns
// ErrReceiverGone once the actor has terminated, or ctx.Err() if the
// context is canceled first.
func (h *Handle[M]) Send(ctx context.Context, m M) error {
	for {
		mb := h.c.current()
		err := mb.send(ctx, m)
		if err == ErrReceiverGone && !h.c.terminal() {
			// The mailbox was swapped by a restart; retry on the new one.
			continue
		}
		return err
	}
}

// TrySend delivers m without blocking, returning ErrMailboxFull when the
// bounded lane is at capacity.
func (h *Handle[M]) TrySend(m M) error {
	for {
		mb := h.c.current()
		err := mb.trySend(m)
		if err == ErrReceiverGone && !h.c.terminal() {
			continue
		}
		return err
	}
}

// SendTimeout delivers m, blocking for at most d before returning
// ErrTimeout.
func (h *Handle[M]) SendTimeout(m M, d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		mb := h.c.current()
		err := mb.sendTimeout(m, time.Until(deadline))
		if err == ErrReceiverGone && !h.c.terminal() {
			continue
		}
		return err
	}
}

// Request sends m and waits for a reply delivered through the returned
// channel that the caller embeds in the message. It is a convenience for
// the request/response pattern:
//
//	reply := make(chan Snapshot, 1)
//	if err := actor.Request(ctx, h, GetSnapshot{Reply: reply}, reply); ...
func Request[M any, R any](ctx context.Context, h *Handle[M], m M, reply chan R) (R, error) {
	var zero R
	if err := h.Send(ctx, m); err != nil {
		return zero, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
