// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/inkwell/services/pipeline/resilience"
)

// ResponseCache is the badger-backed response cache behind the resilience
// guard's degraded-result path. Entries expire via badger TTL.
//
// Thread Safety: Safe for concurrent use.
type ResponseCache struct {
	db  *DB
	ttl time.Duration
}

var _ resilience.Cache = (*ResponseCache)(nil)

func cacheKey(key string) []byte {
	return []byte(prefixCache + key)
}

// Get returns the cached response for key, if present and unexpired.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	var out []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			// Cache reads are best effort; a broken entry is a miss.
			out = nil
		}
		return nil, false
	}
	return out, true
}

// Set stores a response under key with the cache TTL.
func (c *ResponseCache) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(cacheKey(key), value)
		if c.ttl > 0 {
			entry = entry.WithTTL(c.ttl)
		}
		return txn.SetEntry(entry)
	})
}
