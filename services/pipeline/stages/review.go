// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
)

const (
	defaultReviewTimeout = 2 * time.Minute

	// defaultMinWords rejects obviously truncated drafts before spending a
	// model call on them.
	defaultMinWords = 300
)

// verdictPayload is the JSON shape the review prompt asks the model for.
type verdictPayload struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
}

// LLMReviewer judges drafts against the task's findings and audience.
//
// A rejection is data, not an error: the verdict carries the editor
// feedback the next refinement cycle must address.
type LLMReviewer struct {
	caller   Caller
	timeout  time.Duration
	minWords int
	logger   *slog.Logger
}

// NewLLMReviewer creates the review stage. minWords <= 0 selects the default
// truncation gate.
func NewLLMReviewer(caller Caller, timeout time.Duration, minWords int, logger *slog.Logger) (*LLMReviewer, error) {
	if caller == nil {
		return nil, fmt.Errorf("reviewer: caller is required")
	}
	if timeout <= 0 {
		timeout = defaultReviewTimeout
	}
	if minWords <= 0 {
		minWords = defaultMinWords
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMReviewer{
		caller:   caller,
		timeout:  timeout,
		minWords: minWords,
		logger:   logger.With("component", "stage_review"),
	}, nil
}

// Review implements the Reviewer contract.
func (r *LLMReviewer) Review(ctx context.Context, task *datatypes.Task) (datatypes.Verdict, error) {
	if task.Draft == nil {
		return datatypes.Verdict{}, fmt.Errorf("review stage has no draft for task %s", task.ID)
	}

	// Length gate: a truncated draft never survives editorial review, so
	// skip the model call and reject it directly.
	if words := task.Draft.WordCount(); words < r.minWords {
		r.logger.Info("draft rejected by length gate",
			"task_id", task.ID, "words", words, "min_words", r.minWords)
		return datatypes.Verdict{
			Approved: false,
			Feedback: fmt.Sprintf("draft is too short (%d words, need at least %d); expand coverage of the findings", words, r.minWords),
		}, nil
	}

	result, err := r.caller.Generate(ctx, CallRequest{
		TaskID:         task.ID,
		Phase:          datatypes.PhaseReviewing,
		Quality:        task.Quality,
		System:         reviewSystemPrompt,
		Prompt:         buildReviewPrompt(task),
		AttemptTimeout: r.timeout,
	})
	if err != nil {
		return datatypes.Verdict{}, fmt.Errorf("review failed for task %s: %w", task.ID, err)
	}

	var payload verdictPayload
	if err := parseModelJSON(result.Text, &payload); err != nil {
		return datatypes.Verdict{}, fmt.Errorf("review output for task %s is malformed: %w", task.ID, err)
	}

	if !payload.Approved && strings.TrimSpace(payload.Feedback) == "" {
		// A rejection without notes gives the drafter nothing to act on.
		payload.Feedback = "rejected without specific feedback; improve structure, accuracy, and completeness"
	}

	r.logger.Info("review verdict",
		"task_id", task.ID,
		"revision", task.Draft.Revision,
		"approved", payload.Approved,
		"model", result.Selection.Model)
	return datatypes.Verdict{Approved: payload.Approved, Feedback: strings.TrimSpace(payload.Feedback)}, nil
}
