// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stages implements the five pipeline stages: research, draft,
// review, image selection, and publish. Each stage is a single-method
// contract so the engine is written against an abstraction and tests can
// substitute fakes.
package stages

import (
	"context"

	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
)

// Service names used for circuit breaker lookup on non-LLM calls. LLM calls
// use the provider name ("openai", "anthropic", "ollama") so each provider
// gets its own breaker.
const (
	ServiceCMS    = "cms"
	ServiceImages = "images"
)

// Researcher gathers findings for a topic.
type Researcher interface {
	Research(ctx context.Context, task *datatypes.Task) (string, error)
}

// Drafter produces an article draft from the task's findings and feedback.
// isRefinement is true on every cycle after the first.
type Drafter interface {
	Draft(ctx context.Context, task *datatypes.Task, isRefinement bool) (*datatypes.Draft, error)
}

// Reviewer judges the current draft. Rejection travels in the verdict, not
// as an error; an error means the review itself could not run.
type Reviewer interface {
	Review(ctx context.Context, task *datatypes.Task) (datatypes.Verdict, error)
}

// ImageSelector picks a hero image for the approved draft.
type ImageSelector interface {
	SelectImage(ctx context.Context, task *datatypes.Task) (*datatypes.ImageAsset, error)
}

// Publisher pushes the finished article out and returns its public URL.
type Publisher interface {
	Publish(ctx context.Context, task *datatypes.Task) (string, error)
}

// Set bundles one implementation of every stage for engine construction.
type Set struct {
	Research Researcher
	Draft    Drafter
	Review   Reviewer
	Images   ImageSelector
	Publish  Publisher
}
