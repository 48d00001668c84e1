// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package actor

import (
	"fmt"

	"github.com/atlaswire/atlaswire/internal/logging"
)

// Action binds a publisher to a subscriber without the publisher knowing
// the subscriber's type or error kind. The publisher calls Execute with
// its own payload type; any subscriber failure comes back as an
// *ActionError.
type Action[T any] interface {
	Execute(payload T) error
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc[T any] func(T) error

func (f ActionFunc[T]) Execute(payload T) error { return f(payload) }

// Bind wraps a subscriber handler so its errors are mapped into the
// publisher's error space as *ActionError carrying the subscriber name.
func Bind[T any](subscriber string, fn func(T) error) Action[T] {
	return ActionFunc[T](func(p T) error {
		if err := fn(p); err != nil {
			return &ActionError{Subscriber: subscriber, Err: err}
		}
		return nil
	})
}

// SendTo returns an action that try-sends the converted payload to a
// handle. Delivery failures (mailbox full, receiver gone) surface as
// *ActionError; the publisher decides whether to unsubscribe.
func SendTo[T any, M any](h *Handle[M], convert func(T) M) Action[T] {
	return ActionFunc[T](func(p T) error {
		if err := h.TrySend(convert(p)); err != nil {
			return &ActionError{Subscriber: h.Name(), Err: err}
		}
		return nil
	})
}

// DynAction is a type-erased action used where the subscriber set is
// determined at runtime, such as the shared store's change fan-out.
type DynAction = Action[any]

// Erase converts a typed action into a DynAction. A payload of the wrong
// dynamic type yields an *ActionError instead of a panic.
func Erase[T any](a Action[T]) DynAction {
	return ActionFunc[any](func(p any) error {
		t, ok := p.(T)
		if !ok {
			return &ActionError{
				Subscriber: "erased",
				Err:        fmt.Errorf("payload type %T not assignable to action type", p),
			}
		}
		return a.Execute(t)
	})
}

// Policy selects how an ActionList aggregates subscriber failures.
type Policy int

const (
	// CollectAll runs every subscriber and returns the first error.
	// Default.
	CollectAll Policy = iota
	// FailFast stops at the first failing subscriber.
	FailFast
	// Ignore runs every subscriber and discards errors (they are still
	// logged).
	Ignore
)

// ActionList composes actions, executing them in registration order.
type ActionList[T any] struct {
	policy  Policy
	actions []Action[T]
}

// NewActionList creates an empty list with the given aggregation policy.
func NewActionList[T any](policy Policy) *ActionList[T] {
	return &ActionList[T]{policy: policy}
}

// Add appends an action. Not safe for concurrent use with Execute; lists
// are owned by a single actor.
func (l *ActionList[T]) Add(a Action[T]) { l.actions = append(l.actions, a) }

// Len returns the number of registered actions.
func (l *ActionList[T]) Len() int { return len(l.actions) }

// Execute runs the registered actions in order and aggregates failures per
// the list's policy.
func (l *ActionList[T]) Execute(payload T) error {
	var first error
	for _, a := range l.actions {
		err := a.Execute(payload)
		if err == nil {
			continue
		}
		switch l.policy {
		case FailFast:
			return err
		case Ignore:
			logging.Debug().Err(err).Msg("action subscriber failed (ignored)")
		default:
			if first == nil {
				first = err
			} else {
				logging.Debug().Err(err).Msg("action subscriber failed (subsequent)")
			}
		}
	}
	return first
}
