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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
)

const researchSystemPrompt = `You are a research assistant for an editorial team.
Produce factual, well-organized findings in markdown: key facts, context,
recent developments, and notable perspectives. Cite concrete figures where
you can. Do not write the article itself.`

const condenseSystemPrompt = `You condense research notes. Keep every concrete
fact, figure, and named source; drop repetition and filler. Output markdown.`

const draftSystemPrompt = `You are a staff writer. Write complete, publishable
articles in markdown for the given audience. Respond with a single JSON object:
{"title": "...", "deck": "one-sentence standfirst", "body": "markdown article",
"categories": ["..."], "tags": ["..."]}
No text outside the JSON object.`

const reviewSystemPrompt = `You are a demanding section editor. Judge whether
the draft is publishable for its audience: accuracy against the findings,
structure, clarity, and completeness. Respond with a single JSON object:
{"approved": true|false, "feedback": "specific, actionable notes when rejecting"}
No text outside the JSON object.`

func buildResearchPrompt(task *datatypes.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research the topic: %s\n", task.Topic)
	if task.Audience != "" {
		fmt.Fprintf(&b, "Target audience: %s\n", task.Audience)
	}
	if task.Category != "" {
		fmt.Fprintf(&b, "Editorial category: %s\n", task.Category)
	}
	if len(task.Keywords) > 0 {
		fmt.Fprintf(&b, "Angles to cover: %s\n", strings.Join(task.Keywords, ", "))
	}
	return b.String()
}

func buildDraftPrompt(task *datatypes.Task, isRefinement bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write an article on: %s\n", task.Topic)
	if task.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", task.Audience)
	}
	if task.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", task.Category)
	}
	if task.Findings != "" {
		fmt.Fprintf(&b, "\n## Research findings\n%s\n", task.Findings)
	}

	if isRefinement {
		b.WriteString("\nThis is a revision. The previous draft was rejected.\n")
		if task.Draft != nil {
			fmt.Fprintf(&b, "\n## Previous draft (revision %d)\nTitle: %s\n\n%s\n",
				task.Draft.Revision, task.Draft.Title, task.Draft.Body)
		}
		if len(task.Feedback) > 0 {
			b.WriteString("\n## Editor feedback to address, oldest first\n")
			for i, fb := range task.Feedback {
				fmt.Fprintf(&b, "%d. %s\n", i+1, fb)
			}
		}
		b.WriteString("\nAddress every feedback point in the revision.\n")
	}
	return b.String()
}

func buildReviewPrompt(task *datatypes.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", task.Topic)
	if task.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", task.Audience)
	}
	if task.Findings != "" {
		fmt.Fprintf(&b, "\n## Research findings the draft must be faithful to\n%s\n", task.Findings)
	}
	if task.Draft != nil {
		fmt.Fprintf(&b, "\n## Draft under review (revision %d)\nTitle: %s\nDeck: %s\n\n%s\n",
			task.Draft.Revision, task.Draft.Title, task.Draft.Deck, task.Draft.Body)
	}
	return b.String()
}

// parseModelJSON decodes a JSON object from model output, tolerating fenced
// code blocks and prose around the object.
func parseModelJSON(text string, v any) error {
	trimmed := strings.TrimSpace(text)

	// Strip a ```json ... ``` fence if present.
	if strings.HasPrefix(trimmed, "```") {
		if idx := strings.Index(trimmed, "\n"); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	// Fall back to the outermost braces when the model added prose.
	if !strings.HasPrefix(trimmed, "{") {
		start := strings.Index(trimmed, "{")
		end := strings.LastIndex(trimmed, "}")
		if start < 0 || end <= start {
			return fmt.Errorf("no JSON object found in model output")
		}
		trimmed = trimmed[start : end+1]
	}

	if err := json.Unmarshal([]byte(trimmed), v); err != nil {
		return fmt.Errorf("failed to decode model JSON: %w", err)
	}
	return nil
}
