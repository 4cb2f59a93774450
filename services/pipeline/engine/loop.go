// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/inkwell/services/pipeline/commands"
	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
	"github.com/AleutianAI/inkwell/services/pipeline/resilience"
)

// pollLoop fetches pending tasks on each tick and processes them
// sequentially. Ticks never overlap: if a tick is still running when the
// interval elapses, the elapsed tick is skipped, not queued.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	e.logger.Info("poll loop running")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("poll loop exiting")
			return
		case <-ticker.C:
		}

		if e.paused.Load() {
			continue
		}
		if !e.tickRunning.CompareAndSwap(false, true) {
			e.logger.Info("previous tick still running, skipping")
			continue
		}
		e.runTick(ctx)
		e.tickRunning.Store(false)

		// Drain the tick that may have fired while the last one ran, so a
		// long tick is followed by a full interval, not an immediate rerun.
		select {
		case <-ticker.C:
		default:
		}
	}
}

// runTick processes every pending task, sequentially. One task's failure
// must not block the rest of the tick.
func (e *Engine) runTick(ctx context.Context) {
	pending, err := e.tasks.Pending(ctx)
	if err != nil {
		e.logger.Error("failed to fetch pending tasks", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	e.logger.Info("tick starting", "pending_tasks", len(pending))
	for _, task := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := e.ProcessTask(ctx, task.ID); err != nil {
			// Already recorded on the task and run; just keep the tick going.
			e.logger.Warn("task failed during tick", "task_id", task.ID, "error", err)
		}
	}
}

// listen consumes inbound commands until the context ends.
func (e *Engine) listen(ctx context.Context) {
	e.logger.Info("command listener running")
	for {
		cmd, err := e.queue.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				e.logger.Info("command listener exiting")
				return
			}
			e.logger.Error("failed to fetch next command", "error", err)
			continue
		}
		e.dispatch(ctx, cmd)
	}
}

// dispatch executes one command and records its terminal status. Dispatch
// failures re-enter the queue up to the command's retry budget.
func (e *Engine) dispatch(ctx context.Context, cmd *commands.Command) {
	e.logger.Info("dispatching command",
		"command_id", cmd.ID, "kind", string(cmd.Kind), "task_id", cmd.TaskID)

	var result string
	var err error
	switch cmd.Kind {
	case commands.KindPause:
		e.paused.Store(true)
		result = "poll loop paused"

	case commands.KindResume:
		e.paused.Store(false)
		result = "poll loop resumed"

	case commands.KindCancel:
		result, err = e.cancelTask(ctx, cmd.TaskID)

	case commands.KindRunNow:
		if runErr := e.ProcessTask(ctx, cmd.TaskID); runErr != nil {
			err = runErr
		} else {
			result = "pipeline run completed"
		}

	default:
		err = fmt.Errorf("unknown command kind %q", cmd.Kind)
	}

	if err != nil {
		retryable := resilience.IsRetryable(err)
		if failErr := e.queue.Fail(ctx, cmd, err, retryable); failErr != nil {
			e.logger.Error("failed to record command failure",
				"command_id", cmd.ID, "error", failErr)
		}
		e.countCommand(cmd, err, retryable)
		return
	}

	if completeErr := e.queue.Complete(ctx, cmd, result); completeErr != nil {
		e.logger.Error("failed to record command completion",
			"command_id", cmd.ID, "error", completeErr)
	}
	e.countCommand(cmd, nil, false)
}

// cancelTask retires a non-terminal task without running its pipeline.
func (e *Engine) cancelTask(ctx context.Context, taskID string) (string, error) {
	task, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task.Phase.Terminal() {
		return fmt.Sprintf("task already %s", task.Phase), nil
	}

	task.Phase = datatypes.PhaseFailed
	task.LastError = "cancelled by operator"
	task.UpdatedAt = time.Now().UTC()
	if err := e.tasks.Put(ctx, task); err != nil {
		return "", fmt.Errorf("persist cancellation for task %s: %w", taskID, err)
	}
	return "task cancelled", nil
}

func (e *Engine) countCommand(cmd *commands.Command, err error, retried bool) {
	if e.metrics == nil {
		return
	}
	status := "completed"
	if err != nil {
		status = "failed"
		if retried && cmd.Status == commands.StatusPending {
			status = "retried"
		}
	}
	e.metrics.CommandsTotal.WithLabelValues(string(cmd.Kind), status).Inc()
}
