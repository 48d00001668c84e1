// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

// Package store provides the shared key/value store actor.
//
// A store holds typed items under hierarchical dotted keys, broadcasts
// every change to subscribed actions, serves atomic read snapshots from
// the actor's single-threaded view, and optionally persists through a
// pluggable backend (versioned snapshot file or badger).
//
// Observers of changes see them in exactly the order the store applied
// them: the fan-out runs inside the store actor, and the store's order is
// the arrival order of its mailbox.
package store

import (
	"context"
	"maps"
	"time"

	"github.com/atlaswire/atlaswire/internal/actor"
	"github.com/atlaswire/atlaswire/internal/logging"
	"github.com/atlaswire/atlaswire/internal/metrics"
)

// SharedItem is one stored entry. Type is a discriminator carried for
// heterogeneous stores; typed stores stamp it from their constructor.
type SharedItem[V any] struct {
	Key       string    `json:"key"`
	Value     V         `json:"value"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Owner     string    `json:"owner,omitempty"`
}

// ChangeKind discriminates store change notifications.
type ChangeKind int

const (
	ChangeSet ChangeKind = iota
	ChangeRemove
)

func (k ChangeKind) String() string {
	if k == ChangeRemove {
		return "remove"
	}
	return "set"
}

// Change describes one applied mutation. Old is nil for inserts, New is
// nil for removals.
type Change[V any] struct {
	Kind ChangeKind
	Key  string
	Old  *SharedItem[V]
	New  *SharedItem[V]
}

// Msg is the closed message set of a store actor.
type Msg[V any] interface{ storeMsg() }

// Set inserts or updates a key.
type Set[V any] struct {
	Key   string
	Value V
	Owner string
}

func (Set[V]) storeMsg() {}

// Remove deletes a key. Removing an absent key is a no-op and produces no
// change notification.
type Remove[V any] struct{ Key string }

func (Remove[V]) storeMsg() {}

// ExecSnapshot runs a read-only function over a copy of the entire map,
// atomic from the actor's perspective.
type ExecSnapshot[V any] struct {
	Fn func(items map[string]SharedItem[V])
}

func (ExecSnapshot[V]) storeMsg() {}

// Subscribe registers an action executed on every subsequent change. The
// action payload is a Change[V].
type Subscribe[V any] struct {
	Action actor.DynAction
}

func (Subscribe[V]) storeMsg() {}

// Actor is the receiver behind a shared store. Exactly one goroutine (the
// actor task) touches items, so no internal locking is needed.
type Actor[V any] struct {
	name    string
	typeTag string
	backend Backend[V]
	items   map[string]SharedItem[V]
	subs    *actor.ActionList[any]
}

// New returns a spawn factory for a store actor. The factory is re-invoked
// on restart, which rehydrates from the backend.
func New[V any](name, typeTag string, backend Backend[V]) func() actor.Receiver[Msg[V]] {
	if backend == nil {
		backend = NullBackend[V]{}
	}
	return func() actor.Receiver[Msg[V]] {
		return &Actor[V]{
			name:    name,
			typeTag: typeTag,
			backend: backend,
			items:   make(map[string]SharedItem[V]),
			subs:    actor.NewActionList[any](actor.CollectAll),
		}
	}
}

// OnStart rehydrates state from the persistence backend. A corrupt or
// missing snapshot yields an empty store and a warning, not a failure.
func (a *Actor[V]) OnStart(context.Context) error {
	items, err := a.backend.Rehydrate()
	if err != nil {
		logging.Warn().Err(err).Str("store", a.name).Msg("store rehydration failed, starting empty")
		items = nil
	}
	if items != nil {
		a.items = items
	}
	metrics.StoreItems.WithLabelValues(a.name).Set(float64(len(a.items)))
	logging.Info().Str("store", a.name).Int("items", len(a.items)).Msg("store ready")
	return nil
}

// OnStop flushes pending persistence work.
func (a *Actor[V]) OnStop() {
	if err := a.backend.Close(); err != nil {
		logging.Error().Err(err).Str("store", a.name).Msg("store backend close failed")
	}
}

func (a *Actor[V]) Receive(_ context.Context, msg Msg[V]) actor.Directive {
	switch m := msg.(type) {
	case Set[V]:
		a.applySet(m)
	case Remove[V]:
		a.applyRemove(m)
	case ExecSnapshot[V]:
		m.Fn(maps.Clone(a.items))
	case Subscribe[V]:
		a.subs.Add(m.Action)
	}
	return actor.Continue()
}

func (a *Actor[V]) applySet(m Set[V]) {
	var old *SharedItem[V]
	if prev, ok := a.items[m.Key]; ok {
		cp := prev
		old = &cp
	}
	item := SharedItem[V]{
		Key:       m.Key,
		Value:     m.Value,
		Type:      a.typeTag,
		Timestamp: time.Now().UTC(),
		Owner:     m.Owner,
	}
	a.items[m.Key] = item
	metrics.StoreItems.WithLabelValues(a.name).Set(float64(len(a.items)))

	ch := Change[V]{Kind: ChangeSet, Key: m.Key, Old: old, New: &item}
	a.backend.Apply(ch)
	a.notify(ch)
}

func (a *Actor[V]) applyRemove(m Remove[V]) {
	prev, ok := a.items[m.Key]
	if !ok {
		return
	}
	delete(a.items, m.Key)
	metrics.StoreItems.WithLabelValues(a.name).Set(float64(len(a.items)))

	ch := Change[V]{Kind: ChangeRemove, Key: m.Key, Old: &prev}
	a.backend.Apply(ch)
	a.notify(ch)
}

func (a *Actor[V]) notify(ch Change[V]) {
	if err := a.subs.Execute(ch); err != nil {
		logging.Debug().Err(err).Str("store", a.name).Str("key", ch.Key).Msg("store change subscriber failed")
	}
}

// Put is a convenience wrapper for sending a Set.
func Put[V any](ctx context.Context, h *actor.Handle[Msg[V]], key string, value V, owner string) error {
	return h.Send(ctx, Set[V]{Key: key, Value: value, Owner: owner})
}

// Delete is a convenience wrapper for sending a Remove.
func Delete[V any](ctx context.Context, h *actor.Handle[Msg[V]], key string) error {
	return h.Send(ctx, Remove[V]{Key: key})
}

// Snapshot returns a copy of the store's current contents, consistent from
// the actor's single-threaded view.
func Snapshot[V any](ctx context.Context, h *actor.Handle[Msg[V]]) (map[string]SharedItem[V], error) {
	reply := make(chan map[string]SharedItem[V], 1)
	msg := ExecSnapshot[V]{Fn: func(items map[string]SharedItem[V]) { reply <- items }}
	return actor.Request(ctx, h, Msg[V](msg), reply)
}
