// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared domain types for the content pipeline:
// tasks, drafts, run records, and the enumerations that drive the pipeline
// state machine.
package datatypes

import (
	"fmt"
	"time"
)

// Phase identifies where a task sits in the pipeline state machine.
//
// The legal transitions are:
//
//	queued → researching → drafting → reviewing → {drafting | image_selection}
//	       → publishing → {published | failed}
//
// failed is reachable from any non-terminal phase.
type Phase string

const (
	PhaseQueued         Phase = "queued"
	PhaseResearching    Phase = "researching"
	PhaseDrafting       Phase = "drafting"
	PhaseReviewing      Phase = "reviewing"
	PhaseImageSelection Phase = "image_selection"
	PhasePublishing     Phase = "publishing"
	PhasePublished      Phase = "published"
	PhaseFailed         Phase = "failed"
)

// Terminal reports whether the phase is an end state.
func (p Phase) Terminal() bool {
	return p == PhasePublished || p == PhaseFailed
}

// Valid reports whether the phase is one of the known pipeline phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseQueued, PhaseResearching, PhaseDrafting, PhaseReviewing,
		PhaseImageSelection, PhasePublishing, PhasePublished, PhaseFailed:
		return true
	}
	return false
}

// QualityPreference is the coarse cost/quality dial for model selection.
type QualityPreference string

const (
	QualityFast     QualityPreference = "fast"
	QualityBalanced QualityPreference = "balanced"
	QualityBest     QualityPreference = "quality"
)

// Valid reports whether the preference is one of the known values.
func (q QualityPreference) Valid() bool {
	switch q {
	case QualityFast, QualityBalanced, QualityBest:
		return true
	}
	return false
}

// DefaultRefinementBudget is the number of draft/review cycles a task gets
// before the pipeline gives up on it.
const DefaultRefinementBudget = 3

// Task is the unit of work moving through the pipeline.
//
// A task is created externally (HTTP ingress or CLI), exclusively owned by
// one pipeline run at a time, and retired once it reaches a terminal phase.
//
// Thread Safety: Not safe for concurrent mutation. The engine's single-flight
// guard ensures only one pipeline run touches a task at a time.
type Task struct {
	ID       string `json:"id"`
	Topic    string `json:"topic"`
	Audience string `json:"audience,omitempty"`
	Category string `json:"category,omitempty"`

	// Keywords seed the research stage. Optional.
	Keywords []string `json:"keywords,omitempty"`

	// Quality selects the model tier for LLM-backed stages.
	Quality QualityPreference `json:"quality"`

	// RefinementBudget is the maximum number of draft/review cycles.
	// Must be positive; defaults to DefaultRefinementBudget on ingress.
	RefinementBudget int `json:"refinement_budget"`

	Phase Phase `json:"phase"`

	// Feedback accumulates reviewer rejections across refinement cycles.
	Feedback []string `json:"feedback,omitempty"`

	// Findings holds the research stage output consumed by drafting.
	Findings string `json:"findings,omitempty"`

	// Draft is the current article draft, replaced on each refinement cycle.
	Draft *Draft `json:"draft,omitempty"`

	// Image is the hero image chosen by the image selection stage.
	Image *ImageAsset `json:"image,omitempty"`

	// PublishedURL is set once the CMS accepts the article.
	PublishedURL string `json:"published_url,omitempty"`

	// LastError is the reason string for the most recent failure.
	// Every terminal failed phase carries a non-empty reason.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the task is well-formed enough to enter the pipeline.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is empty")
	}
	if t.Topic == "" {
		return fmt.Errorf("task %s has no topic", t.ID)
	}
	if t.RefinementBudget < 1 {
		return fmt.Errorf("task %s has non-positive refinement budget %d", t.ID, t.RefinementBudget)
	}
	if !t.Phase.Valid() {
		return fmt.Errorf("task %s has unknown phase %q", t.ID, t.Phase)
	}
	return nil
}

// AppendFeedback records one reviewer rejection.
func (t *Task) AppendFeedback(feedback string) {
	if feedback == "" {
		return
	}
	t.Feedback = append(t.Feedback, feedback)
}

// Draft is one article draft produced by the drafting stage.
type Draft struct {
	Title      string   `json:"title"`
	Deck       string   `json:"deck,omitempty"`
	Body       string   `json:"body"`
	Categories []string `json:"categories,omitempty"`
	Tags       []string `json:"tags,omitempty"`

	// Revision is 0 for the first draft and increments per refinement cycle.
	Revision int `json:"revision"`
}

// WordCount returns a rough whitespace-delimited word count of the body.
func (d *Draft) WordCount() int {
	count := 0
	inWord := false
	for _, r := range d.Body {
		switch r {
		case ' ', '\t', '\n', '\r':
			inWord = false
		default:
			if !inWord {
				count++
			}
			inWord = true
		}
	}
	return count
}

// ImageAsset is a hero image candidate sourced from an image provider.
type ImageAsset struct {
	URL         string `json:"url"`
	Credit      string `json:"credit,omitempty"`
	AltText     string `json:"alt_text,omitempty"`
	Provider    string `json:"provider,omitempty"`
	WidthPixels int    `json:"width_pixels,omitempty"`
}

// Verdict is the reviewer's decision on a draft. Rejection is an expected
// outcome, not an error, so it travels as data rather than as an error value.
type Verdict struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}
