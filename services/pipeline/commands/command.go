// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package commands defines the external command ingress for the pipeline
// engine: pause, resume, cancel, and run-now, with a persistent status
// lifecycle and bounded dispatch retry.
package commands

import (
	"fmt"
	"time"
)

// Kind is the action a command requests from the engine.
type Kind string

const (
	// KindPause suspends the poll loop; in-flight work completes.
	KindPause Kind = "pause"

	// KindResume lifts a pause.
	KindResume Kind = "resume"

	// KindCancel marks a queued task failed before it is picked up.
	KindCancel Kind = "cancel"

	// KindRunNow processes one task immediately, bypassing the poll tick.
	KindRunNow Kind = "run-now"
)

// Valid reports whether the kind is one of the known commands.
func (k Kind) Valid() bool {
	switch k {
	case KindPause, KindResume, KindCancel, KindRunNow:
		return true
	}
	return false
}

// Status is the lifecycle state of a command.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// DefaultMaxRetries bounds dispatch retries for one command.
const DefaultMaxRetries = 3

// Command is one externally issued engine instruction.
//
// Created pending by the queue, consumed by the listener, and completed or
// failed exactly once; a retryable dispatch failure re-enters pending up to
// MaxRetries times.
type Command struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	// TaskID targets cancel and run-now at one task. Empty for pause/resume.
	TaskID string `json:"task_id,omitempty"`

	Status     Status `json:"status"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`

	// Result is a short outcome description for completed commands.
	Result string `json:"result,omitempty"`

	// LastError captures the most recent dispatch failure.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the command is well-formed for its kind.
func (c *Command) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("unknown command kind %q", c.Kind)
	}
	switch c.Kind {
	case KindCancel, KindRunNow:
		if c.TaskID == "" {
			return fmt.Errorf("%s command requires a task id", c.Kind)
		}
	}
	return nil
}
