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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/inkwell/services/pipeline/commands"
	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func sampleTask(id string, phase datatypes.Phase) *datatypes.Task {
	now := time.Now().UTC()
	return &datatypes.Task{
		ID:               id,
		Topic:            "Go generics in practice",
		Audience:         "backend engineers",
		Category:         "engineering",
		Quality:          datatypes.QualityBalanced,
		RefinementBudget: datatypes.DefaultRefinementBudget,
		Phase:            phase,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestTaskStore_PutGetRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	task := sampleTask("task-1", datatypes.PhaseQueued)
	task.Feedback = []string{"too short"}
	require.NoError(t, db.Tasks().Put(ctx, task))

	got, err := db.Tasks().Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, task.Topic, got.Topic)
	assert.Equal(t, datatypes.PhaseQueued, got.Phase)
	assert.Equal(t, []string{"too short"}, got.Feedback)
}

func TestTaskStore_GetMissingReturnsNotFound(t *testing.T) {
	db := testDB(t)

	_, err := db.Tasks().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskStore_ListFiltersByPhaseAndOrdersByCreation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	older := sampleTask("task-old", datatypes.PhaseQueued)
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := sampleTask("task-new", datatypes.PhaseQueued)
	done := sampleTask("task-done", datatypes.PhasePublished)

	require.NoError(t, db.Tasks().Put(ctx, newer))
	require.NoError(t, db.Tasks().Put(ctx, older))
	require.NoError(t, db.Tasks().Put(ctx, done))

	pending, err := db.Tasks().Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "task-old", pending[0].ID, "oldest queued task first")
	assert.Equal(t, "task-new", pending[1].ID)

	all, err := db.Tasks().List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestTaskStore_Delete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.Tasks().Put(ctx, sampleTask("task-del", datatypes.PhaseQueued)))
	require.NoError(t, db.Tasks().Delete(ctx, "task-del"))

	_, err := db.Tasks().Get(ctx, "task-del")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing task is not an error.
	assert.NoError(t, db.Tasks().Delete(ctx, "task-del"))
}

func TestRunStore_RoundTripAndListByTask(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	first := &datatypes.RunRecord{
		RunID:     "run-1",
		TaskID:    "task-1",
		StartedAt: time.Now().UTC().Add(-time.Minute),
	}
	first.Append(datatypes.PhaseResearching, datatypes.StepStarted, "")
	first.Append(datatypes.PhaseResearching, datatypes.StepCompleted, "4 findings")

	second := &datatypes.RunRecord{
		RunID:     "run-2",
		TaskID:    "task-1",
		StartedAt: time.Now().UTC(),
	}
	otherTask := &datatypes.RunRecord{
		RunID:     "run-3",
		TaskID:    "task-2",
		StartedAt: time.Now().UTC(),
	}

	require.NoError(t, db.Runs().Put(ctx, first))
	require.NoError(t, db.Runs().Put(ctx, second))
	require.NoError(t, db.Runs().Put(ctx, otherTask))

	got, err := db.Runs().Get(ctx, "task-1", "run-1")
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, 0, got.Entries[0].Seq)
	assert.Equal(t, 1, got.Entries[1].Seq)
	assert.Equal(t, datatypes.StepCompleted, got.Entries[1].Status)

	runs, err := db.Runs().ListByTask(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-1", runs[0].RunID, "oldest run first")
}

func TestCommandStore_RoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	cmd := &commands.Command{
		ID:         "cmd-1",
		Kind:       commands.KindRunNow,
		TaskID:     "task-1",
		Status:     commands.StatusPending,
		MaxRetries: commands.DefaultMaxRetries,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, db.Commands().PutCommand(ctx, cmd))

	got, err := db.Commands().GetCommand(ctx, "cmd-1")
	require.NoError(t, err)
	assert.Equal(t, commands.KindRunNow, got.Kind)
	assert.Equal(t, commands.StatusPending, got.Status)

	_, err = db.Commands().GetCommand(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResponseCache_RoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	cache := db.ResponseCache(time.Hour)

	_, ok := cache.Get(ctx, "research:topic-x")
	assert.False(t, ok, "miss before set")

	require.NoError(t, cache.Set(ctx, "research:topic-x", []byte(`"findings"`)))

	got, ok := cache.Get(ctx, "research:topic-x")
	require.True(t, ok)
	assert.Equal(t, []byte(`"findings"`), got)
}

func TestResponseCache_EntriesExpire(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	cache := db.ResponseCache(100 * time.Millisecond)

	require.NoError(t, cache.Set(ctx, "ephemeral", []byte("x")))
	time.Sleep(250 * time.Millisecond)

	_, ok := cache.Get(ctx, "ephemeral")
	assert.False(t, ok, "entry should expire via badger TTL")
}

func TestOpen_RequiresPathForPersistent(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpen_PersistentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0 // keep the test single-goroutine

	db, err := Open(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.Tasks().Put(ctx, sampleTask("persisted", datatypes.PhaseQueued)))
	require.NoError(t, db.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Tasks().Get(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, "Go generics in practice", got.Topic)
}
