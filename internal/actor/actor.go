// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package actor

import (
	"context"
	"runtime/debug"

	"github.com/atlaswire/atlaswire/internal/logging"
	"github.com/atlaswire/atlaswire/internal/metrics"
)

// Receiver handles one message at a time from an actor's mailbox. The
// runtime guarantees Receive is never re-entered concurrently for the same
// actor incarnation.
type Receiver[M any] interface {
	Receive(ctx context.Context, msg M) Directive
}

// Starter is implemented by receivers that need setup before the first
// message. A non-nil error fails the spawn.
type Starter interface {
	OnStart(ctx context.Context) error
}

// Stopper is implemented by receivers that need teardown. OnStop runs
// exactly once per incarnation, on every termination path including
// panics and restarts.
type Stopper interface {
	OnStop()
}

// Directive tells the runtime what to do after a message was handled.
type Directive struct {
	kind directiveKind
	err  error
}

type directiveKind int

const (
	directiveContinue directiveKind = iota
	directiveStop
	directiveFail
	directiveRestart
)

// Continue keeps the actor running.
func Continue() Directive { return Directive{kind: directiveContinue} }

// Stop terminates the actor normally.
func Stop() Directive { return Directive{kind: directiveStop} }

// Fail terminates the actor with an error.
func Fail(err error) Directive { return Directive{kind: directiveFail, err: err} }

// Restart rebuilds the actor state from its spawn factory and re-enters the
// message loop with a fresh mailbox behind the same handle identity.
// In-flight messages on the old mailbox are dropped.
func Restart() Directive { return Directive{kind: directiveRestart} }

// PanicPolicy selects how the runtime reacts to a panic captured inside a
// handler.
type PanicPolicy int

const (
	// OnPanicStop terminates the actor with a PanicError. Default.
	OnPanicStop PanicPolicy = iota
	// OnPanicRestart rebuilds the actor from its factory.
	OnPanicRestart
	// OnPanicEscalate terminates the actor and requests system shutdown.
	OnPanicEscalate
)

// runner drives one actor: its cell, its factory and its loop.
type runner[M any] struct {
	sys     *System
	c       *cell[M]
	factory func() Receiver[M]
	mailbox int
	policy  PanicPolicy
}

// run is the actor task. It owns the receiver state for the lifetime of
// the actor and is the only consumer of the cell's mailboxes.
func (r *runner[M]) run(ctx context.Context) {
	defer r.sys.deregister(r.c.name)
	defer r.c.setState(StateTerminated)
	// Closing the final mailbox flips pending senders to ErrReceiverGone.
	defer func() { r.c.current().close() }()

	for {
		recv := r.factory()
		if err := r.start(ctx, recv); err != nil {
			logging.Error().Err(err).Str("actor", r.c.name).Msg("actor start failed")
			return
		}
		r.c.setState(StateRunning)

		again := r.loop(ctx, recv)
		if !again {
			return
		}

		// Restart: fresh mailbox behind the same cell, fresh state from
		// the factory. Existing handles keep working.
		metrics.ActorRestarts.WithLabelValues(r.c.name).Inc()
		r.c.swap(r.mailbox)
		r.c.state.Store(int32(StateInitializing))
		logging.Info().Str("actor", r.c.name).Msg("actor restarting")
	}
}

func (r *runner[M]) start(ctx context.Context, recv Receiver[M]) error {
	s, ok := recv.(Starter)
	if !ok {
		return nil
	}
	return s.OnStart(ctx)
}

func (r *runner[M]) stop(recv Receiver[M]) {
	if s, ok := recv.(Stopper); ok {
		s.OnStop()
	}
}

// loop processes messages until the actor stops or restarts. Returns true
// when the actor should restart.
func (r *runner[M]) loop(ctx context.Context, recv Receiver[M]) (restart bool) {
	mb := r.c.current()
	defer r.stop(recv)

	for {
		// System signals have priority over user messages.
		if sig, ok := mb.takeSignal(); ok {
			if sig == sigTerminate {
				r.c.setState(StateStopping)
				return false
			}
			continue
		}

		select {
		case <-mb.sysNotify:
			continue
		case <-ctx.Done():
			r.c.setState(StateStopping)
			return false
		case m := <-mb.user:
			d := r.dispatch(ctx, recv, m)
			switch d.kind {
			case directiveContinue:
				continue
			case directiveStop:
				r.c.setState(StateStopping)
				return false
			case directiveFail:
				r.c.setState(StateStopping)
				logging.Error().Err(d.err).Str("actor", r.c.name).Msg("actor terminated with error")
				if _, ok := d.err.(*PanicError); ok && r.policy == OnPanicEscalate {
					r.sys.escalate(d.err)
				}
				return false
			case directiveRestart:
				return true
			}
		}
	}
}

// dispatch invokes the handler with panic capture. A panic becomes a
// directive per the actor's panic policy.
func (r *runner[M]) dispatch(ctx context.Context, recv Receiver[M], m M) (d Directive) {
	defer func() {
		if v := recover(); v != nil {
			metrics.ActorPanics.WithLabelValues(r.c.name).Inc()
			perr := &PanicError{Actor: r.c.name, Value: v, Stack: debug.Stack()}
			logging.Error().
				Str("actor", r.c.name).
				Interface("panic", v).
				Bytes("stack", perr.Stack).
				Msg("handler panic captured")
			if r.policy == OnPanicRestart {
				d = Restart()
			} else {
				d = Fail(perr)
			}
		}
	}()
	return recv.Receive(ctx, m)
}
