// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store persists command records. Implemented by the badger-backed store.
type Store interface {
	PutCommand(ctx context.Context, cmd *Command) error
	GetCommand(ctx context.Context, id string) (*Command, error)
}

// defaultQueueDepth bounds pending commands awaiting the listener.
const defaultQueueDepth = 64

// Queue accepts externally issued commands and hands them to the engine's
// listener, persisting status transitions along the way.
//
// Thread Safety: Safe for concurrent use. Enqueue may be called from any
// number of HTTP handlers; Next is consumed by the single listener.
type Queue struct {
	store  Store
	ch     chan string
	logger *slog.Logger
}

// NewQueue creates a queue over the given command store.
func NewQueue(store Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:  store,
		ch:     make(chan string, defaultQueueDepth),
		logger: logger.With("component", "command_queue"),
	}
}

// Enqueue creates a pending command and schedules it for dispatch.
//
// Inputs:
//   - ctx: Context for the persistence write.
//   - kind: The requested action.
//   - taskID: Target task for cancel/run-now; empty otherwise.
//
// Outputs:
//   - string: The new command id.
//   - error: Non-nil if the command is invalid, the store write fails, or
//     the queue is full.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, taskID string) (string, error) {
	now := time.Now().UTC()
	cmd := &Command{
		ID:         uuid.NewString(),
		Kind:       kind,
		TaskID:     taskID,
		Status:     StatusPending,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := cmd.Validate(); err != nil {
		return "", err
	}
	if err := q.store.PutCommand(ctx, cmd); err != nil {
		return "", fmt.Errorf("persist command: %w", err)
	}

	select {
	case q.ch <- cmd.ID:
	default:
		// Queue full: mark failed rather than block the ingress handler.
		cmd.Status = StatusFailed
		cmd.LastError = "command queue is full"
		cmd.UpdatedAt = time.Now().UTC()
		if err := q.store.PutCommand(ctx, cmd); err != nil {
			q.logger.Error("failed to record queue-full rejection",
				"command_id", cmd.ID, "error", err)
		}
		return "", fmt.Errorf("command queue is full")
	}

	q.logger.Info("command enqueued",
		"command_id", cmd.ID, "kind", string(kind), "task_id", taskID)
	return cmd.ID, nil
}

// Next blocks until a pending command is available or the context is done.
//
// The returned command has already been moved to processing in the store.
func (q *Queue) Next(ctx context.Context) (*Command, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case id := <-q.ch:
			cmd, err := q.store.GetCommand(ctx, id)
			if err != nil {
				q.logger.Error("failed to load queued command",
					"command_id", id, "error", err)
				continue
			}
			if cmd.Status != StatusPending {
				// Cancelled or already handled; skip.
				continue
			}
			cmd.Status = StatusProcessing
			cmd.UpdatedAt = time.Now().UTC()
			if err := q.store.PutCommand(ctx, cmd); err != nil {
				q.logger.Warn("failed to mark command processing",
					"command_id", id, "error", err)
			}
			return cmd, nil
		}
	}
}

// Complete marks a command completed exactly once.
func (q *Queue) Complete(ctx context.Context, cmd *Command, result string) error {
	cmd.Status = StatusCompleted
	cmd.Result = result
	cmd.UpdatedAt = time.Now().UTC()
	if err := q.store.PutCommand(ctx, cmd); err != nil {
		return fmt.Errorf("persist command completion: %w", err)
	}
	return nil
}

// Fail records a dispatch failure. Retryable failures re-enter pending up
// to MaxRetries; beyond that the command is terminally failed with the last
// error captured.
func (q *Queue) Fail(ctx context.Context, cmd *Command, dispatchErr error, retryable bool) error {
	cmd.LastError = dispatchErr.Error()
	cmd.UpdatedAt = time.Now().UTC()

	if retryable && cmd.RetryCount < cmd.MaxRetries {
		cmd.RetryCount++
		cmd.Status = StatusPending
		if err := q.store.PutCommand(ctx, cmd); err != nil {
			return fmt.Errorf("persist command retry: %w", err)
		}
		select {
		case q.ch <- cmd.ID:
			q.logger.Warn("command dispatch failed, requeued",
				"command_id", cmd.ID, "retry", cmd.RetryCount, "error", dispatchErr)
			return nil
		default:
			// Fall through to terminal failure when the queue is full.
		}
	}

	cmd.Status = StatusFailed
	if err := q.store.PutCommand(ctx, cmd); err != nil {
		return fmt.Errorf("persist command failure: %w", err)
	}
	q.logger.Error("command failed",
		"command_id", cmd.ID, "retries", cmd.RetryCount, "error", dispatchErr)
	return nil
}

// Status returns the persisted state of a command.
func (q *Queue) Status(ctx context.Context, id string) (*Command, error) {
	return q.store.GetCommand(ctx, id)
}

// Depth returns the number of commands awaiting dispatch.
func (q *Queue) Depth() int {
	return len(q.ch)
}
