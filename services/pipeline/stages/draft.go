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

const defaultDraftTimeout = 5 * time.Minute

// draftPayload is the JSON shape the draft prompt asks the model for.
type draftPayload struct {
	Title      string   `json:"title"`
	Deck       string   `json:"deck"`
	Body       string   `json:"body"`
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
}

// LLMDrafter writes article drafts from the task's findings and accumulated
// reviewer feedback.
type LLMDrafter struct {
	caller  Caller
	timeout time.Duration
	logger  *slog.Logger
}

// NewLLMDrafter creates the drafting stage.
func NewLLMDrafter(caller Caller, timeout time.Duration, logger *slog.Logger) (*LLMDrafter, error) {
	if caller == nil {
		return nil, fmt.Errorf("drafter: caller is required")
	}
	if timeout <= 0 {
		timeout = defaultDraftTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMDrafter{
		caller:  caller,
		timeout: timeout,
		logger:  logger.With("component", "stage_draft"),
	}, nil
}

// Draft implements the Drafter contract.
func (d *LLMDrafter) Draft(ctx context.Context, task *datatypes.Task, isRefinement bool) (*datatypes.Draft, error) {
	if task.Findings == "" {
		return nil, fmt.Errorf("draft stage needs findings for task %s", task.ID)
	}

	result, err := d.caller.Generate(ctx, CallRequest{
		TaskID:         task.ID,
		Phase:          datatypes.PhaseDrafting,
		Quality:        task.Quality,
		System:         draftSystemPrompt,
		Prompt:         buildDraftPrompt(task, isRefinement),
		AttemptTimeout: d.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("draft failed for task %s: %w", task.ID, err)
	}

	var payload draftPayload
	if err := parseModelJSON(result.Text, &payload); err != nil {
		return nil, fmt.Errorf("draft output for task %s is malformed: %w", task.ID, err)
	}
	if strings.TrimSpace(payload.Title) == "" || strings.TrimSpace(payload.Body) == "" {
		return nil, fmt.Errorf("draft for task %s is missing a title or body", task.ID)
	}

	revision := 0
	if task.Draft != nil {
		revision = task.Draft.Revision + 1
	}

	draft := &datatypes.Draft{
		Title:      strings.TrimSpace(payload.Title),
		Deck:       strings.TrimSpace(payload.Deck),
		Body:       payload.Body,
		Categories: payload.Categories,
		Tags:       payload.Tags,
		Revision:   revision,
	}
	if len(draft.Categories) == 0 && task.Category != "" {
		draft.Categories = []string{task.Category}
	}

	d.logger.Info("draft produced",
		"task_id", task.ID,
		"revision", revision,
		"words", draft.WordCount(),
		"model", result.Selection.Model)
	return draft, nil
}
