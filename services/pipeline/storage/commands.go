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

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/inkwell/services/pipeline/commands"
)

// CommandStore persists command records keyed by command id. Implements
// commands.Store.
//
// Thread Safety: Safe for concurrent use.
type CommandStore struct {
	db *DB
}

var _ commands.Store = (*CommandStore)(nil)

func commandKey(id string) []byte {
	return []byte(prefixCommand + id)
}

// PutCommand writes the full command record.
func (s *CommandStore) PutCommand(ctx context.Context, cmd *commands.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command %s: %w", cmd.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(commandKey(cmd.ID), raw)
	})
	if err != nil {
		return fmt.Errorf("store command %s: %w", cmd.ID, err)
	}
	return nil
}

// GetCommand loads one command record, or ErrNotFound.
func (s *CommandStore) GetCommand(ctx context.Context, id string) (*commands.Command, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var cmd commands.Command
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(commandKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cmd)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("command %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load command %s: %w", id, err)
	}
	return &cmd, nil
}
