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
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
)

// RunStore persists run records. Keys embed the task id so one prefix scan
// returns all runs for a task.
//
// Thread Safety: Safe for concurrent use.
type RunStore struct {
	db *DB
}

func runKey(taskID, runID string) []byte {
	return []byte(prefixRun + taskID + ":" + runID)
}

// Put writes the full run record. The engine calls this after every append
// so a crash loses at most the in-flight phase entry.
func (s *RunStore) Put(ctx context.Context, rec *datatypes.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", rec.RunID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(rec.TaskID, rec.RunID), raw)
	})
	if err != nil {
		return fmt.Errorf("store run %s: %w", rec.RunID, err)
	}
	return nil
}

// Get loads one run record by task and run id, or ErrNotFound.
func (s *RunStore) Get(ctx context.Context, taskID, runID string) (*datatypes.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec datatypes.RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(taskID, runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return &rec, nil
}

// ListByTask returns all run records for a task, oldest started first.
func (s *RunStore) ListByTask(ctx context.Context, taskID string) ([]*datatypes.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var recs []*datatypes.RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRun + taskID + ":")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec datatypes.RunRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				recs = append(recs, &rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs for task %s: %w", taskID, err)
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].StartedAt.Before(recs[j].StartedAt)
	})
	return recs, nil
}
