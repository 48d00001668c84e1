// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package actor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/atlaswire/atlaswire/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

func TestMailboxTrySendBound(t *testing.T) {
	mb := newMailbox[int](3)

	for i := 0; i < 3; i++ {
		if err := mb.trySend(i); err != nil {
			t.Fatalf("trySend %d: %v", i, err)
		}
	}
	if err := mb.trySend(3); !errors.Is(err, ErrMailboxFull) {
		t.Errorf("4th trySend = %v, want ErrMailboxFull", err)
	}
}

func TestMailboxSendBlocksUntilSpace(t *testing.T) {
	mb := newMailbox[int](1)
	if err := mb.trySend(0); err != nil {
		t.Fatal(err)
	}

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- mb.send(context.Background(), 1)
	}()

	select {
	case err := <-unblocked:
		t.Fatalf("send returned %v before space was available", err)
	case <-time.After(20 * time.Millisecond):
	}

	<-mb.user // make room
	if err := <-unblocked; err != nil {
		t.Fatalf("send after space: %v", err)
	}
}

func TestMailboxSendTimeout(t *testing.T) {
	mb := newMailbox[int](1)
	if err := mb.trySend(0); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	err := mb.sendTimeout(1, 30*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("sendTimeout = %v, want ErrTimeout", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("sendTimeout returned before the deadline")
	}
}

func TestMailboxSendAfterClose(t *testing.T) {
	mb := newMailbox[int](1)
	mb.close()

	if err := mb.send(context.Background(), 1); !errors.Is(err, ErrReceiverGone) {
		t.Errorf("send = %v, want ErrReceiverGone", err)
	}
	if err := mb.trySend(1); !errors.Is(err, ErrReceiverGone) {
		t.Errorf("trySend = %v, want ErrReceiverGone", err)
	}
}

func TestMailboxCloseUnblocksSender(t *testing.T) {
	mb := newMailbox[int](1)
	if err := mb.trySend(0); err != nil {
		t.Fatal(err)
	}

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- mb.send(context.Background(), 1)
	}()
	time.Sleep(10 * time.Millisecond)
	mb.close()

	select {
	case err := <-unblocked:
		if !errors.Is(err, ErrReceiverGone) {
			t.Errorf("blocked send = %v, want ErrReceiverGone", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked sender not released by close")
	}
}

func TestMailboxSystemLanePriority(t *testing.T) {
	mb := newMailbox[int](4)
	for i := 0; i < 4; i++ {
		if err := mb.trySend(i); err != nil {
			t.Fatal(err)
		}
	}

	// System signals bypass the bound and are observed before user
	// messages by the consumer's priority drain.
	mb.sendSystem(sigTerminate)
	if sig, ok := mb.takeSignal(); !ok || sig != sigTerminate {
		t.Fatalf("takeSignal = (%v, %v), want (sigTerminate, true)", sig, ok)
	}
	if _, ok := mb.takeSignal(); ok {
		t.Error("second takeSignal should report empty lane")
	}
}
