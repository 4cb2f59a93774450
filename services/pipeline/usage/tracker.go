// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package usage records per-operation token, cost, and duration ledger
// entries for the pipeline's LLM calls and exposes filterable summaries.
package usage

import (
	"sync"
	"time"

	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
)

// maxLedgerEntries bounds the in-memory ledger. Old entries are dropped
// oldest-first once the bound is reached; summaries are observability,
// not accounting.
const maxLedgerEntries = 10000

// Record is one ledger entry for a completed LLM operation.
type Record struct {
	Timestamp        time.Time       `json:"timestamp"`
	TaskID           string          `json:"task_id,omitempty"`
	Phase            datatypes.Phase `json:"phase"`
	Model            string          `json:"model"`
	Provider         string          `json:"provider"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	CostUSD          float64         `json:"cost_usd"`
	Duration         time.Duration   `json:"duration"`
	Success          bool            `json:"success"`
}

// TotalTokens returns prompt + completion tokens.
func (r Record) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Filter narrows a summary to one phase and/or model. Zero values match all.
type Filter struct {
	Phase datatypes.Phase
	Model string
}

func (f Filter) matches(r Record) bool {
	if f.Phase != "" && r.Phase != f.Phase {
		return false
	}
	if f.Model != "" && r.Model != f.Model {
		return false
	}
	return true
}

// Summary aggregates ledger entries matching a filter.
type Summary struct {
	Operations    int     `json:"operations"`
	Tokens        int     `json:"tokens"`
	CostUSD       float64 `json:"cost_usd"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Tracker is the in-memory usage ledger.
//
// Thread Safety: Safe for concurrent use. The lock covers only ledger
// mutation, never an external call.
type Tracker struct {
	mu      sync.Mutex
	entries []Record
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Record appends one ledger entry, stamping the time if unset.
func (t *Tracker) Record(r Record) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, r)
	if len(t.entries) > maxLedgerEntries {
		// Drop the oldest tenth in one copy instead of shifting per append.
		drop := maxLedgerEntries / 10
		t.entries = append(t.entries[:0], t.entries[drop:]...)
	}
}

// Summarize aggregates all entries matching the filter.
func (t *Tracker) Summarize(f Filter) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Summary
	successes := 0
	var totalDuration time.Duration

	for _, r := range t.entries {
		if !f.matches(r) {
			continue
		}
		s.Operations++
		s.Tokens += r.TotalTokens()
		s.CostUSD += r.CostUSD
		totalDuration += r.Duration
		if r.Success {
			successes++
		}
	}

	if s.Operations > 0 {
		s.SuccessRate = float64(successes) / float64(s.Operations)
		s.AvgDurationMs = float64(totalDuration.Milliseconds()) / float64(s.Operations)
	}
	return s
}

// Recent returns up to n most recent entries, newest last.
func (t *Tracker) Recent(n int) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 || n > len(t.entries) {
		n = len(t.entries)
	}
	out := make([]Record, n)
	copy(out, t.entries[len(t.entries)-n:])
	return out
}

// Len returns the current ledger size.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
