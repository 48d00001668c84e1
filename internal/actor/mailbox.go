// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package actor

import (
	"context"
	"sync"
	"time"
)

// sysSignal is an out-of-band lifecycle signal. System signals bypass the
// bounded user lane and never block the sender.
type sysSignal int

const (
	sigTerminate sysSignal = iota + 1
)

// mailbox is the bounded FIFO queue behind one actor incarnation. Exactly
// one goroutine (the actor task) consumes from it. A restart replaces the
// whole mailbox inside the owning cell; handles never hold a mailbox
// directly.
type mailbox[M any] struct {
	user chan M

	// done is closed when this incarnation stops consuming. Senders
	// blocked on a full user lane unblock through it.
	done     chan struct{}
	doneOnce sync.Once

	// system lane: unbounded slice guarded by mu, with a capacity-1
	// notify channel so the consumer can select on it.
	mu        sync.Mutex
	system    []sysSignal
	sysNotify chan struct{}
}

func newMailbox[M any](capacity int) *mailbox[M] {
	return &mailbox[M]{
		user:      make(chan M, capacity),
		done:      make(chan struct{}),
		sysNotify: make(chan struct{}, 1),
	}
}

// close marks the mailbox as no longer consumed. Pending user messages are
// dropped with the channel; further sends fail.
func (mb *mailbox[M]) close() {
	mb.doneOnce.Do(func() { close(mb.done) })
}

func (mb *mailbox[M]) closed() bool {
	select {
	case <-mb.done:
		return true
	default:
		return false
	}
}

// send blocks until space is available, the mailbox closes, or ctx is done.
func (mb *mailbox[M]) send(ctx context.Context, m M) error {
	if mb.closed() {
		return ErrReceiverGone
	}
	select {
	case mb.user <- m:
		return nil
	case <-mb.done:
		return ErrReceiverGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trySend fails fast with ErrMailboxFull instead of blocking.
func (mb *mailbox[M]) trySend(m M) error {
	if mb.closed() {
		return ErrReceiverGone
	}
	select {
	case mb.user <- m:
		return nil
	case <-mb.done:
		return ErrReceiverGone
	default:
		return ErrMailboxFull
	}
}

// sendTimeout blocks for at most d before failing with ErrTimeout.
func (mb *mailbox[M]) sendTimeout(m M, d time.Duration) error {
	if mb.closed() {
		return ErrReceiverGone
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case mb.user <- m:
		return nil
	case <-mb.done:
		return ErrReceiverGone
	case <-t.C:
		return ErrTimeout
	}
}

// sendSystem enqueues a lifecycle signal. Never blocks, never fails while
// the mailbox is open.
func (mb *mailbox[M]) sendSystem(sig sysSignal) {
	if mb.closed() {
		return
	}
	mb.mu.Lock()
	mb.system = append(mb.system, sig)
	mb.mu.Unlock()
	select {
	case mb.sysNotify <- struct{}{}:
	default:
	}
}

// takeSignal pops the oldest pending system signal without blocking.
func (mb *mailbox[M]) takeSignal() (sysSignal, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.system) == 0 {
		return 0, false
	}
	sig := mb.system[0]
	mb.system = mb.system[1:]
	return sig, true
}
