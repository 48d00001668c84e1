// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package actor

import (
	"errors"
	"testing"
)

func TestBindMapsSubscriberError(t *testing.T) {
	cause := errors.New("decoder choked")
	a := Bind("viirs-reader", func(string) error { return cause })

	err := a.Execute("granule-1")
	var aerr *ActionError
	if !errors.As(err, &aerr) {
		t.Fatalf("error = %v, want *ActionError", err)
	}
	if aerr.Subscriber != "viirs-reader" {
		t.Errorf("subscriber = %q", aerr.Subscriber)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not preserved through Unwrap")
	}
}

func TestActionListPolicies(t *testing.T) {
	failing := errors.New("subscriber down")

	build := func(policy Policy, calls *[]int) *ActionList[int] {
		l := NewActionList[int](policy)
		l.Add(ActionFunc[int](func(p int) error {
			*calls = append(*calls, 1)
			return nil
		}))
		l.Add(ActionFunc[int](func(p int) error {
			*calls = append(*calls, 2)
			return &ActionError{Subscriber: "two", Err: failing}
		}))
		l.Add(ActionFunc[int](func(p int) error {
			*calls = append(*calls, 3)
			return &ActionError{Subscriber: "three", Err: failing}
		}))
		return l
	}

	t.Run("collect all returns first error, runs everything", func(t *testing.T) {
		var calls []int
		err := build(CollectAll, &calls).Execute(0)
		if len(calls) != 3 {
			t.Errorf("calls = %v, want all three", calls)
		}
		var aerr *ActionError
		if !errors.As(err, &aerr) || aerr.Subscriber != "two" {
			t.Errorf("err = %v, want first failure (two)", err)
		}
	})

	t.Run("fail fast aborts", func(t *testing.T) {
		var calls []int
		err := build(FailFast, &calls).Execute(0)
		if len(calls) != 2 {
			t.Errorf("calls = %v, want abort after second", calls)
		}
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("ignore swallows", func(t *testing.T) {
		var calls []int
		if err := build(Ignore, &calls).Execute(0); err != nil {
			t.Errorf("err = %v, want nil", err)
		}
		if len(calls) != 3 {
			t.Errorf("calls = %v, want all three", calls)
		}
	})
}

func TestActionExecutionOrder(t *testing.T) {
	var order []string
	l := NewActionList[struct{}](CollectAll)
	for _, name := range []string{"a", "b", "c"} {
		name := name
		l.Add(ActionFunc[struct{}](func(struct{}) error {
			order = append(order, name)
			return nil
		}))
	}
	if err := l.Execute(struct{}{}); err != nil {
		t.Fatal(err)
	}
	if order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("order = %v, want registration order", order)
	}
}

func TestEraseTypeMismatch(t *testing.T) {
	var got int
	dyn := Erase(ActionFunc[int](func(p int) error {
		got = p
		return nil
	}))

	if err := dyn.Execute(42); err != nil {
		t.Fatalf("matching payload: %v", err)
	}
	if got != 42 {
		t.Errorf("payload = %d", got)
	}

	err := dyn.Execute("not an int")
	var aerr *ActionError
	if !errors.As(err, &aerr) {
		t.Fatalf("mismatch error = %v, want *ActionError", err)
	}
}

func TestSendToGoneReceiver(t *testing.T) {
	sys := newTestSystem(t)
	defer drain(t, sys)

	h, err := Spawn(sys, "sink", func() Receiver[int] { return &orderActor{} })
	if err != nil {
		t.Fatal(err)
	}
	stopActor(t, sys, h)

	a := SendTo(h, func(s string) int { return len(s) })
	execErr := a.Execute("payload")
	if !errors.Is(execErr, ErrReceiverGone) {
		t.Errorf("Execute = %v, want ErrReceiverGone", execErr)
	}
	var aerr *ActionError
	if !errors.As(execErr, &aerr) {
		t.Error("delivery failure must surface as *ActionError")
	}
}
