// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package store

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/atlaswire/atlaswire/internal/logging"
	"github.com/atlaswire/atlaswire/internal/metrics"
)

// BadgerBackend persists each item as one badger record. Unlike the
// snapshot backend it writes through on every change; badger batches and
// syncs internally, so no extra debounce layer is needed.
type BadgerBackend[V any] struct {
	db *badger.DB
}

// NewBadgerBackend opens (or creates) a badger database at dir.
func NewBadgerBackend[V any](dir string) (*BadgerBackend[V], error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store %s: %w", dir, err)
	}
	return &BadgerBackend[V]{db: db}, nil
}

func (b *BadgerBackend[V]) Rehydrate() (map[string]SharedItem[V], error) {
	items := make(map[string]SharedItem[V])
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			entry := it.Item()
			if err := entry.Value(func(val []byte) error {
				var item SharedItem[V]
				if err := json.Unmarshal(val, &item); err != nil {
					return fmt.Errorf("decode %s: %w", entry.Key(), err)
				}
				items[string(entry.Key())] = item
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (b *BadgerBackend[V]) Apply(ch Change[V]) {
	err := b.db.Update(func(txn *badger.Txn) error {
		if ch.Kind == ChangeRemove {
			return txn.Delete([]byte(ch.Key))
		}
		raw, err := json.Marshal(ch.New)
		if err != nil {
			return err
		}
		return txn.Set([]byte(ch.Key), raw)
	})
	if err != nil {
		logging.Error().Err(err).Str("key", ch.Key).Msg("badger apply failed")
		return
	}
	metrics.StoreFlushes.WithLabelValues("badger").Inc()
}

func (b *BadgerBackend[V]) Close() error {
	return b.db.Close()
}
