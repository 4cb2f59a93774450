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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
)

const (
	// condenseThresholdChars is the findings size beyond which the research
	// output is chunked and condensed before drafting sees it. Oversized
	// findings blow the draft prompt budget on smaller models.
	condenseThresholdChars = 12000

	condenseChunkSize    = 4000
	condenseChunkOverlap = 200

	defaultResearchTimeout = 3 * time.Minute
)

var markdownSeparators = []string{"\n## ", "\n### ", "\n\n", "\n", " ", ""}

// LLMResearcher produces findings for a topic via a routed LLM call.
//
// Successful research responses are cached keyed on the topic inputs, so a
// later pipeline failure and re-run of the same topic can be served from
// cache when the research provider is down.
type LLMResearcher struct {
	caller  Caller
	timeout time.Duration
	logger  *slog.Logger
}

// NewLLMResearcher creates the research stage. A non-positive timeout
// selects the default per-attempt timeout.
func NewLLMResearcher(caller Caller, timeout time.Duration, logger *slog.Logger) (*LLMResearcher, error) {
	if caller == nil {
		return nil, fmt.Errorf("researcher: caller is required")
	}
	if timeout <= 0 {
		timeout = defaultResearchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMResearcher{
		caller:  caller,
		timeout: timeout,
		logger:  logger.With("component", "stage_research"),
	}, nil
}

// researchCacheKey derives a stable cache key from the topic inputs.
func researchCacheKey(task *datatypes.Task) string {
	h := sha256.New()
	h.Write([]byte(task.Topic))
	h.Write([]byte(task.Audience))
	h.Write([]byte(strings.Join(task.Keywords, ",")))
	return "research:" + hex.EncodeToString(h.Sum(nil))[:32]
}

// Research implements the Researcher contract.
func (r *LLMResearcher) Research(ctx context.Context, task *datatypes.Task) (string, error) {
	result, err := r.caller.Generate(ctx, CallRequest{
		TaskID:         task.ID,
		Phase:          datatypes.PhaseResearching,
		Quality:        task.Quality,
		System:         researchSystemPrompt,
		Prompt:         buildResearchPrompt(task),
		AttemptTimeout: r.timeout,
		CacheKey:       researchCacheKey(task),
	})
	if err != nil {
		return "", fmt.Errorf("research failed for task %s: %w", task.ID, err)
	}

	findings := strings.TrimSpace(result.Text)
	if findings == "" {
		return "", fmt.Errorf("research returned empty findings for task %s", task.ID)
	}

	if len(findings) > condenseThresholdChars {
		condensed, err := r.condense(ctx, task, findings)
		if err != nil {
			// Oversized findings are usable, just expensive downstream.
			r.logger.Warn("failed to condense findings, using full output",
				"task_id", task.ID, "chars", len(findings), "error", err)
		} else {
			r.logger.Info("condensed oversized findings",
				"task_id", task.ID, "before_chars", len(findings), "after_chars", len(condensed))
			findings = condensed
		}
	}

	return findings, nil
}

// condense splits oversized findings on markdown structure and summarizes
// each chunk with a cheap model pass, preserving concrete facts.
func (r *LLMResearcher) condense(ctx context.Context, task *datatypes.Task, findings string) (string, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(condenseChunkSize),
		textsplitter.WithChunkOverlap(condenseChunkOverlap),
		textsplitter.WithSeparators(markdownSeparators),
	)
	chunks, err := splitter.SplitText(findings)
	if err != nil {
		return "", fmt.Errorf("failed to split findings: %w", err)
	}

	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		result, err := r.caller.Generate(ctx, CallRequest{
			TaskID:         task.ID,
			Phase:          datatypes.PhaseResearching,
			Quality:        datatypes.QualityFast,
			System:         condenseSystemPrompt,
			Prompt:         chunk,
			AttemptTimeout: r.timeout,
		})
		if err != nil {
			return "", fmt.Errorf("condense pass failed on chunk %d/%d: %w", i+1, len(chunks), err)
		}
		parts = append(parts, strings.TrimSpace(result.Text))
	}
	return strings.Join(parts, "\n\n"), nil
}
