// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/atlaswire/atlaswire/internal/logging"
	"github.com/atlaswire/atlaswire/internal/metrics"
)

// Backend persists store changes. Apply must not block the store actor;
// implementations coalesce writes internally. Close flushes pending work.
type Backend[V any] interface {
	Rehydrate() (map[string]SharedItem[V], error)
	Apply(ch Change[V])
	Close() error
}

// NullBackend discards everything. Used when persistence is disabled.
type NullBackend[V any] struct{}

func (NullBackend[V]) Rehydrate() (map[string]SharedItem[V], error) { return nil, nil }
func (NullBackend[V]) Apply(Change[V])                              {}
func (NullBackend[V]) Close() error                                 { return nil }

// snapshotVersion is the two-byte format prefix of snapshot files.
const snapshotVersion uint16 = 1

// snapshotFile is the JSON body written after the version prefix.
type snapshotFile[V any] struct {
	WrittenAt time.Time                `json:"written_at"`
	Items     map[string]SharedItem[V] `json:"items"`
}

// SnapshotBackend persists the whole store to a versioned binary snapshot
// file. Writes are debounced: changes within the window coalesce into one
// flush. The file is replaced atomically (write temp + rename).
type SnapshotBackend[V any] struct {
	path     string
	debounce time.Duration

	mu     sync.Mutex
	mirror map[string]SharedItem[V]
	timer  *time.Timer
	dirty  bool
	closed bool
}

// NewSnapshotBackend creates a snapshot backend writing to path.
func NewSnapshotBackend[V any](path string, debounce time.Duration) *SnapshotBackend[V] {
	return &SnapshotBackend[V]{
		path:     path,
		debounce: debounce,
		mirror:   make(map[string]SharedItem[V]),
	}
}

// Rehydrate loads the snapshot file. A missing or corrupt file is not an
// error: the store starts empty and the condition is logged by the caller.
func (b *SnapshotBackend[V]) Rehydrate() (map[string]SharedItem[V], error) {
	raw, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", b.path, err)
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("snapshot %s: truncated header", b.path)
	}
	if v := binary.BigEndian.Uint16(raw[:2]); v != snapshotVersion {
		return nil, fmt.Errorf("snapshot %s: unsupported version %d", b.path, v)
	}

	var body snapshotFile[V]
	if err := json.Unmarshal(raw[2:], &body); err != nil {
		return nil, fmt.Errorf("snapshot %s: corrupt body: %w", b.path, err)
	}

	b.mu.Lock()
	b.mirror = make(map[string]SharedItem[V], len(body.Items))
	for k, v := range body.Items {
		b.mirror[k] = v
	}
	b.mu.Unlock()
	return body.Items, nil
}

// Apply records the change in the backend's mirror and arms the debounce
// timer. The mirror exists so the flush goroutine never reads actor state.
func (b *SnapshotBackend[V]) Apply(ch Change[V]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	switch ch.Kind {
	case ChangeSet:
		b.mirror[ch.Key] = *ch.New
	case ChangeRemove:
		delete(b.mirror, ch.Key)
	}

	if b.dirty {
		return
	}
	b.dirty = true
	if b.debounce <= 0 {
		b.dirty = false
		b.flushLocked()
		return
	}
	b.timer = time.AfterFunc(b.debounce, b.flush)
}

func (b *SnapshotBackend[V]) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirty {
		return
	}
	b.dirty = false
	b.flushLocked()
}

// flushLocked writes the snapshot. Must be called with mu held; the write
// itself is cheap relative to the debounce window.
func (b *SnapshotBackend[V]) flushLocked() {
	body, err := json.Marshal(snapshotFile[V]{WrittenAt: time.Now().UTC(), Items: b.mirror})
	if err != nil {
		logging.Error().Err(err).Str("path", b.path).Msg("snapshot marshal failed")
		return
	}

	buf := make([]byte, 2, 2+len(body))
	binary.BigEndian.PutUint16(buf, snapshotVersion)
	buf = append(buf, body...)

	tmp := b.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(b.path), 0o750); err != nil {
		logging.Error().Err(err).Str("path", b.path).Msg("snapshot dir create failed")
		return
	}
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		logging.Error().Err(err).Str("path", tmp).Msg("snapshot write failed")
		return
	}
	if err := os.Rename(tmp, b.path); err != nil {
		logging.Error().Err(err).Str("path", b.path).Msg("snapshot rename failed")
		return
	}
	metrics.StoreFlushes.WithLabelValues("snapshot").Inc()
}

// Close flushes any pending changes synchronously.
func (b *SnapshotBackend[V]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	if b.dirty {
		b.dirty = false
		b.flushLocked()
	}
	return nil
}
