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
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
)

// ProcessTask runs the full pipeline for one task id.
//
// Single-flight guarantee: at most one pipeline run is in flight per task
// id. A concurrent call for the same id waits for the running execution and
// shares its result instead of starting a second run.
func (e *Engine) ProcessTask(ctx context.Context, taskID string) error {
	_, err, shared := e.flight.Do(taskID, func() (interface{}, error) {
		return nil, e.runPipeline(ctx, taskID)
	})
	if shared {
		e.logger.Info("joined in-flight pipeline run", "task_id", taskID)
	}
	return err
}

// runPipeline drives one task through the state machine.
//
// Shutdown cancellation is observed only between phases: stage calls and
// persistence run on a detached context, so an in-flight call is never
// aborted mid-call and runs to its own completion or the guard's per-attempt
// timeout. A run suspended between phases leaves the task in its current
// phase rather than failing it.
func (e *Engine) runPipeline(ctx context.Context, taskID string) error {
	stageCtx := context.WithoutCancel(ctx)

	task, err := e.tasks.Get(stageCtx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if err := task.Validate(); err != nil {
		return err
	}
	if task.Phase.Terminal() {
		e.logger.Info("task already terminal, skipping", "task_id", taskID, "phase", string(task.Phase))
		return nil
	}

	run := &datatypes.RunRecord{
		RunID:     uuid.NewString(),
		TaskID:    task.ID,
		StartedAt: time.Now().UTC(),
	}
	e.logger.Info("pipeline run starting",
		"task_id", task.ID, "run_id", run.RunID, "topic", task.Topic)

	// Research runs once. Retry lives inside the guard; a post-retry
	// failure here is terminal for the run.
	if err := e.suspend(ctx, task, run); err != nil {
		return err
	}
	e.transition(stageCtx, task, datatypes.PhaseResearching)
	findings, res := timedPhase(e, stageCtx, run, datatypes.PhaseResearching, func(ctx context.Context) (string, error) {
		return e.stages.Research.Research(ctx, task)
	})
	if !res.OK {
		return e.failTask(stageCtx, task, run, res.Err)
	}
	task.Findings = findings

	// Refinement loop: at most RefinementBudget draft/review cycles.
	approved := false
	cycles := 0
	for i := 0; i < task.RefinementBudget; i++ {
		cycles = i + 1
		isRefinement := i > 0

		if err := e.suspend(ctx, task, run); err != nil {
			return err
		}
		e.transition(stageCtx, task, datatypes.PhaseDrafting)
		draft, res := timedPhase(e, stageCtx, run, datatypes.PhaseDrafting, func(ctx context.Context) (*datatypes.Draft, error) {
			return e.stages.Draft.Draft(ctx, task, isRefinement)
		})
		if !res.OK {
			return e.failTask(stageCtx, task, run, res.Err)
		}
		task.Draft = draft

		if err := e.suspend(ctx, task, run); err != nil {
			return err
		}
		e.transition(stageCtx, task, datatypes.PhaseReviewing)
		verdict, res := timedPhase(e, stageCtx, run, datatypes.PhaseReviewing, func(ctx context.Context) (datatypes.Verdict, error) {
			return e.stages.Review.Review(ctx, task)
		})
		if !res.OK {
			return e.failTask(stageCtx, task, run, res.Err)
		}

		if verdict.Approved {
			approved = true
			e.appendRun(stageCtx, run, datatypes.PhaseReviewing, datatypes.StepApproved,
				fmt.Sprintf("approved at revision %d", task.Draft.Revision))
			e.countPhase(datatypes.PhaseReviewing, string(datatypes.StepApproved))
			break
		}

		task.AppendFeedback(verdict.Feedback)
		e.appendRun(stageCtx, run, datatypes.PhaseReviewing, datatypes.StepRejected, verdict.Feedback)
		e.countPhase(datatypes.PhaseReviewing, string(datatypes.StepRejected))
		e.persistTask(stageCtx, task)
	}
	if e.metrics != nil {
		e.metrics.RefinementCycles.Observe(float64(cycles))
	}
	if !approved {
		return e.failTask(stageCtx, task, run,
			fmt.Errorf("refinement budget exhausted after %d draft/review cycles", task.RefinementBudget))
	}

	if err := e.suspend(ctx, task, run); err != nil {
		return err
	}
	e.transition(stageCtx, task, datatypes.PhaseImageSelection)
	image, res2 := timedPhase(e, stageCtx, run, datatypes.PhaseImageSelection, func(ctx context.Context) (*datatypes.ImageAsset, error) {
		return e.stages.Images.SelectImage(ctx, task)
	})
	if !res2.OK {
		return e.failTask(stageCtx, task, run, res2.Err)
	}
	task.Image = image

	if err := e.suspend(ctx, task, run); err != nil {
		return err
	}
	e.transition(stageCtx, task, datatypes.PhasePublishing)
	url, res3 := timedPhase(e, stageCtx, run, datatypes.PhasePublishing, func(ctx context.Context) (string, error) {
		return e.stages.Publish.Publish(ctx, task)
	})
	if !res3.OK {
		return e.failTask(stageCtx, task, run, res3.Err)
	}
	task.PublishedURL = url

	task.Phase = datatypes.PhasePublished
	task.LastError = ""
	task.UpdatedAt = time.Now().UTC()
	e.persistTask(stageCtx, task)
	e.finishRun(stageCtx, run, datatypes.PhasePublished, datatypes.StepCompleted, url)

	if e.metrics != nil {
		e.metrics.TasksTotal.WithLabelValues("published").Inc()
	}
	e.logger.Info("pipeline run published",
		"task_id", task.ID, "run_id", run.RunID, "url", url, "cycles", cycles)
	return nil
}

// timedPhase runs one stage call, appends the started/completed-or-failed
// run entries, and reports duration metrics. It is a package function rather
// than a method because methods cannot take type parameters.
func timedPhase[T any](e *Engine, ctx context.Context, run *datatypes.RunRecord, phase datatypes.Phase, fn func(ctx context.Context) (T, error)) (T, datatypes.PhaseResult) {
	e.appendRun(ctx, run, phase, datatypes.StepStarted, "")

	start := time.Now()
	value, err := fn(ctx)
	elapsed := time.Since(start)

	if e.metrics != nil {
		e.metrics.PhaseDurationSeconds.WithLabelValues(string(phase)).Observe(elapsed.Seconds())
	}

	if err != nil {
		e.appendRun(ctx, run, phase, datatypes.StepFailed, err.Error())
		e.countPhase(phase, string(datatypes.StepFailed))
		return value, datatypes.PhaseResult{OK: false, Err: err, Elapsed: elapsed, Summary: err.Error()}
	}

	e.appendRun(ctx, run, phase, datatypes.StepCompleted, "")
	e.countPhase(phase, string(datatypes.StepCompleted))
	return value, datatypes.PhaseResult{OK: true, Elapsed: elapsed}
}

// transition moves the task to a new phase and persists it, best effort.
func (e *Engine) transition(ctx context.Context, task *datatypes.Task, phase datatypes.Phase) {
	task.Phase = phase
	task.UpdatedAt = time.Now().UTC()
	e.persistTask(ctx, task)
}

// suspend observes the shutdown signal between phases. A suspended run keeps
// the task in its current phase; only the returned error reports the stop.
func (e *Engine) suspend(ctx context.Context, task *datatypes.Task, run *datatypes.RunRecord) error {
	if ctx.Err() == nil {
		return nil
	}
	e.logger.Info("pipeline run suspended by shutdown",
		"task_id", task.ID, "run_id", run.RunID, "phase", string(task.Phase))
	return fmt.Errorf("run suspended at %s: %w", task.Phase, ctx.Err())
}

// failTask records a terminal failure. The returned error carries the reason
// for run-now callers; the poll loop logs it and moves on.
func (e *Engine) failTask(ctx context.Context, task *datatypes.Task, run *datatypes.RunRecord, cause error) error {
	task.Phase = datatypes.PhaseFailed
	task.LastError = cause.Error()
	task.UpdatedAt = time.Now().UTC()
	e.persistTask(ctx, task)
	e.finishRun(ctx, run, datatypes.PhaseFailed, datatypes.StepFailed, cause.Error())

	if e.metrics != nil {
		e.metrics.TasksTotal.WithLabelValues("failed").Inc()
	}
	e.logger.Warn("pipeline run failed",
		"task_id", task.ID, "run_id", run.RunID, "reason", cause.Error())
	return cause
}

// persistTask writes the task, best effort. A write failure must never mask
// or override the pipeline outcome, so it is logged and swallowed.
func (e *Engine) persistTask(ctx context.Context, task *datatypes.Task) {
	if err := e.tasks.Put(ctx, task); err != nil {
		e.logger.Error("failed to persist task status",
			"task_id", task.ID, "phase", string(task.Phase), "error", err)
	}
}

// appendRun appends one entry and persists the record, best effort.
func (e *Engine) appendRun(ctx context.Context, run *datatypes.RunRecord, phase datatypes.Phase, status datatypes.StepStatus, summary string) {
	run.Append(phase, status, summary)
	if err := e.runs.Put(ctx, run); err != nil {
		e.logger.Error("failed to persist run record",
			"run_id", run.RunID, "error", err)
	}
}

// finishRun stamps completion and appends the terminal entry.
func (e *Engine) finishRun(ctx context.Context, run *datatypes.RunRecord, phase datatypes.Phase, status datatypes.StepStatus, summary string) {
	now := time.Now().UTC()
	run.CompletedAt = &now
	e.appendRun(ctx, run, phase, status, summary)
}

func (e *Engine) countPhase(phase datatypes.Phase, status string) {
	if e.metrics != nil {
		e.metrics.PhasesTotal.WithLabelValues(string(phase), status).Inc()
	}
}
