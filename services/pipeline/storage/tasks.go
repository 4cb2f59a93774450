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

// TaskStore persists task records keyed by task id.
//
// Thread Safety: Safe for concurrent use.
type TaskStore struct {
	db *DB
}

func taskKey(id string) []byte {
	return []byte(prefixTask + id)
}

// Put writes the full task record.
func (s *TaskStore) Put(ctx context.Context, task *datatypes.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(taskKey(task.ID), raw)
	})
	if err != nil {
		return fmt.Errorf("store task %s: %w", task.ID, err)
	}
	return nil
}

// Get loads one task, or ErrNotFound.
func (s *TaskStore) Get(ctx context.Context, id string) (*datatypes.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var task datatypes.Task
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(taskKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &task)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}
	return &task, nil
}

// List returns all tasks in the given phase; an empty phase matches all.
// Results are ordered oldest-created first so the poll loop processes
// queued tasks in arrival order.
func (s *TaskStore) List(ctx context.Context, phase datatypes.Phase) ([]*datatypes.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tasks []*datatypes.Task
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixTask)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var task datatypes.Task
				if err := json.Unmarshal(val, &task); err != nil {
					return err
				}
				if phase == "" || task.Phase == phase {
					tasks = append(tasks, &task)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// Pending returns tasks awaiting pickup, oldest first.
func (s *TaskStore) Pending(ctx context.Context) ([]*datatypes.Task, error) {
	return s.List(ctx, datatypes.PhaseQueued)
}

// Delete removes a task record. Missing records are not an error.
func (s *TaskStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(taskKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}
