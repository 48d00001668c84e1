// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package actor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/atlaswire/atlaswire/internal/logging"
	"github.com/atlaswire/atlaswire/internal/metrics"
)

// Options configures an actor system.
type Options struct {
	// DefaultMailbox is the user-lane capacity applied when a spawn does
	// not set one. Default: 256.
	DefaultMailbox int

	// ShutdownGrace is how long ProcessRequests waits for actors to
	// quiesce after broadcasting terminate. Default: 10s.
	ShutdownGrace time.Duration

	// SchedulerGranularity bounds the ambient scheduler's wake precision.
	// Default: 10ms.
	SchedulerGranularity time.Duration
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.DefaultMailbox <= 0 {
		opts.DefaultMailbox = 256
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 10 * time.Second
	}
	if opts.SchedulerGranularity <= 0 {
		opts.SchedulerGranularity = 10 * time.Millisecond
	}
	return opts
}

// entry is the type-erased registry view of a spawned actor.
type entry struct {
	handle    any // *Handle[M]
	terminate func()
	state     func() ActorState
	done      chan struct{}
}

// System is the process-wide actor registry. It spawns actors, owns the
// ambient scheduler, and drives the shutdown cascade.
type System struct {
	name  string
	opts  Options
	sched *Scheduler

	mu     sync.RWMutex
	actors map[string]*entry

	runCtx    context.Context
	runCancel context.CancelFunc

	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	escalateOnce sync.Once
	escalatedErr error
}

// NewSystem creates a named actor system and starts its ambient scheduler.
func NewSystem(name string, opts Options) *System {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &System{
		name:       name,
		opts:       opts,
		actors:     make(map[string]*entry),
		runCtx:     ctx,
		runCancel:  cancel,
		shutdownCh: make(chan struct{}),
	}
	s.sched = newScheduler(opts.SchedulerGranularity)
	logging.Info().Str("system", name).Msg("actor system created")
	return s
}

// Scheduler returns the system's ambient scheduler. It shares the system's
// lifetime and clock source.
func (s *System) Scheduler() *Scheduler { return s.sched }

// SpawnOption customizes a single spawn.
type SpawnOption func(*spawnConfig)

type spawnConfig struct {
	mailbox int
	policy  PanicPolicy
}

// WithMailbox overrides the default mailbox capacity for this actor.
func WithMailbox(capacity int) SpawnOption {
	return func(c *spawnConfig) { c.mailbox = capacity }
}

// WithPanicPolicy selects the supervision reaction to handler panics.
func WithPanicPolicy(p PanicPolicy) SpawnOption {
	return func(c *spawnConfig) { c.policy = p }
}

// Spawn starts an actor under a process-unique name. The factory builds
// the receiver state; it is re-invoked on restart. A duplicate name yields
// ErrNameConflict.
func Spawn[M any](s *System, name string, factory func() Receiver[M], opts ...SpawnOption) (*Handle[M], error) {
	cfg := spawnConfig{mailbox: s.opts.DefaultMailbox, policy: OnPanicStop}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.mailbox <= 0 {
		cfg.mailbox = s.opts.DefaultMailbox
	}

	c := &cell[M]{name: name}
	c.mb = newMailbox[M](cfg.mailbox)
	h := &Handle[M]{c: c}

	e := &entry{
		handle:    h,
		terminate: func() { c.current().sendSystem(sigTerminate) },
		state:     c.getState,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	select {
	case <-s.shutdownCh:
		s.mu.Unlock()
		return nil, fmt.Errorf("spawn %s: %w", name, ErrShuttingDown)
	default:
	}
	if _, exists := s.actors[name]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("spawn %s: %w", name, ErrNameConflict)
	}
	s.actors[name] = e
	s.mu.Unlock()
	metrics.ActorsLive.Inc()

	r := &runner[M]{sys: s, c: c, factory: factory, mailbox: cfg.mailbox, policy: cfg.policy}
	go func() {
		defer close(e.done)
		r.run(s.runCtx)
	}()

	logging.Debug().Str("actor", name).Int("mailbox", cfg.mailbox).Msg("actor spawned")
	return h, nil
}

// Ref is the untyped registry view of an actor, returned by Lookup.
type Ref interface {
	Name() string
	State() ActorState
}

// Lookup returns the named actor's untyped reference.
func (s *System) Lookup(name string) (Ref, bool) {
	s.mu.RLock()
	e, ok := s.actors[name]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.handle.(Ref), true
}

// LookupHandle returns the named actor's typed handle. The second return
// is false when the actor does not exist or its message set is not M.
func LookupHandle[M any](s *System, name string) (*Handle[M], bool) {
	s.mu.RLock()
	e, ok := s.actors[name]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	h, ok := e.handle.(*Handle[M])
	return h, ok
}

// Count returns the number of registered actors.
func (s *System) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actors)
}

// deregister removes a terminated actor from the registry.
func (s *System) deregister(name string) {
	s.mu.Lock()
	_, ok := s.actors[name]
	delete(s.actors, name)
	s.mu.Unlock()
	if ok {
		metrics.ActorsLive.Dec()
	}
}

// Shutdown requests a graceful stop. Safe to call from any goroutine,
// including actor handlers. It returns immediately; ProcessRequests drives
// the cascade.
func (s *System) Shutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// escalate records a fatal actor error and requests shutdown.
func (s *System) escalate(err error) {
	s.escalateOnce.Do(func() { s.escalatedErr = err })
	logging.Error().Err(err).Str("system", s.name).Msg("actor failure escalated, shutting down")
	s.Shutdown()
}

// ProcessRequests blocks the invoker until shutdown is requested by a
// termination signal, an explicit Shutdown call, or an escalated actor
// failure. It then broadcasts terminate to all actors, waits up to the
// grace period for quiescence, and force-drops remaining mailboxes.
//
// The returned error is the escalated failure, if any.
func (s *System) ProcessRequests(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("termination signal received")
	case <-ctx.Done():
	case <-s.shutdownCh:
	}
	s.Shutdown()

	s.mu.RLock()
	entries := make([]*entry, 0, len(s.actors))
	for _, e := range s.actors {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	logging.Info().Str("system", s.name).Int("actors", len(entries)).Msg("broadcasting terminate")
	for _, e := range entries {
		e.terminate()
	}

	deadline := time.NewTimer(s.opts.ShutdownGrace)
	defer deadline.Stop()
	quiesced := make(chan struct{})
	go func() {
		for _, e := range entries {
			<-e.done
		}
		close(quiesced)
	}()

	select {
	case <-quiesced:
		logging.Info().Str("system", s.name).Msg("all actors terminated")
	case <-deadline.C:
		logging.Warn().Str("system", s.name).Msg("shutdown grace exceeded, force-dropping mailboxes")
		s.runCancel()
	}

	s.runCancel()
	s.sched.stop()
	return s.escalatedErr
}
