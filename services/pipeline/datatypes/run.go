// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// StepStatus is the outcome of one pipeline step within a run.
type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepCompleted StepStatus = "completed"
	StepRejected  StepStatus = "rejected"
	StepApproved  StepStatus = "approved"
	StepFailed    StepStatus = "failed"
)

// RunEntry is one append-only line in a run record.
//
// Entries are ordered by Seq (call sequence), not wall clock, so the order
// stays meaningful even when retries skew timestamps.
type RunEntry struct {
	Seq       int        `json:"seq"`
	Phase     Phase      `json:"phase"`
	Status    StepStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`

	// Summary is a short human-readable payload summary: an error string,
	// a model selection, a reviewer verdict. Never used for control flow.
	Summary string `json:"summary,omitempty"`
}

// RunRecord is the append-only audit log of one pipeline execution.
//
// A record is created when the engine picks up a task, appended to by each
// phase, and never mutated retroactively.
type RunRecord struct {
	RunID       string     `json:"run_id"`
	TaskID      string     `json:"task_id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Entries     []RunEntry `json:"entries"`
}

// Append adds one entry with the next sequence number.
func (r *RunRecord) Append(phase Phase, status StepStatus, summary string) {
	r.Entries = append(r.Entries, RunEntry{
		Seq:       len(r.Entries),
		Phase:     phase,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Summary:   summary,
	})
}

// CountPhase returns how many entries exist for the given phase and status.
func (r *RunRecord) CountPhase(phase Phase, status StepStatus) int {
	n := 0
	for _, e := range r.Entries {
		if e.Phase == phase && e.Status == status {
			n++
		}
	}
	return n
}

// PhaseResult is the transient outcome of a single stage call. The engine
// folds it into the task and run record, then discards it.
type PhaseResult struct {
	OK      bool
	Err     error
	Elapsed time.Duration

	// Summary mirrors RunEntry.Summary for the entry this result produces.
	Summary string
}
