// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package usage

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
)

func TestTracker_SummarizeAll(t *testing.T) {
	tr := NewTracker()
	tr.Record(Record{
		Phase: datatypes.PhaseDrafting, Model: "gpt-4o",
		PromptTokens: 1000, CompletionTokens: 500,
		CostUSD: 0.0075, Duration: 2 * time.Second, Success: true,
	})
	tr.Record(Record{
		Phase: datatypes.PhaseReviewing, Model: "gpt-4o-mini",
		PromptTokens: 400, CompletionTokens: 100,
		CostUSD: 0.0002, Duration: 1 * time.Second, Success: false,
	})

	s := tr.Summarize(Filter{})
	if s.Operations != 2 {
		t.Fatalf("expected 2 operations, got %d", s.Operations)
	}
	if s.Tokens != 2000 {
		t.Errorf("expected 2000 tokens, got %d", s.Tokens)
	}
	if math.Abs(s.CostUSD-0.0077) > 1e-9 {
		t.Errorf("expected cost 0.0077, got %f", s.CostUSD)
	}
	if math.Abs(s.SuccessRate-0.5) > 1e-9 {
		t.Errorf("expected success rate 0.5, got %f", s.SuccessRate)
	}
	if math.Abs(s.AvgDurationMs-1500) > 1e-9 {
		t.Errorf("expected avg duration 1500ms, got %f", s.AvgDurationMs)
	}
}

func TestTracker_FilterByPhaseAndModel(t *testing.T) {
	tr := NewTracker()
	tr.Record(Record{Phase: datatypes.PhaseDrafting, Model: "gpt-4o", PromptTokens: 100, Success: true})
	tr.Record(Record{Phase: datatypes.PhaseDrafting, Model: "claude-3-5-sonnet-20240620", PromptTokens: 200, Success: true})
	tr.Record(Record{Phase: datatypes.PhaseResearching, Model: "gpt-4o", PromptTokens: 300, Success: true})

	byPhase := tr.Summarize(Filter{Phase: datatypes.PhaseDrafting})
	if byPhase.Operations != 2 || byPhase.Tokens != 300 {
		t.Errorf("phase filter: expected 2 ops / 300 tokens, got %d / %d", byPhase.Operations, byPhase.Tokens)
	}

	byModel := tr.Summarize(Filter{Model: "gpt-4o"})
	if byModel.Operations != 2 || byModel.Tokens != 400 {
		t.Errorf("model filter: expected 2 ops / 400 tokens, got %d / %d", byModel.Operations, byModel.Tokens)
	}

	both := tr.Summarize(Filter{Phase: datatypes.PhaseDrafting, Model: "gpt-4o"})
	if both.Operations != 1 || both.Tokens != 100 {
		t.Errorf("combined filter: expected 1 op / 100 tokens, got %d / %d", both.Operations, both.Tokens)
	}
}

func TestTracker_EmptySummaryIsZero(t *testing.T) {
	tr := NewTracker()
	s := tr.Summarize(Filter{})
	if s.Operations != 0 || s.SuccessRate != 0 || s.AvgDurationMs != 0 {
		t.Errorf("expected zero summary, got %+v", s)
	}
}

func TestTracker_StampsTimestamp(t *testing.T) {
	tr := NewTracker()
	tr.Record(Record{Phase: datatypes.PhaseDrafting, Model: "gpt-4o"})

	recent := tr.Recent(1)
	if len(recent) != 1 || recent[0].Timestamp.IsZero() {
		t.Error("expected timestamp stamped on record")
	}
}

func TestTracker_LedgerBound(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < maxLedgerEntries+500; i++ {
		tr.Record(Record{Phase: datatypes.PhaseDrafting, Model: "gpt-4o-mini", PromptTokens: 1})
	}
	if tr.Len() > maxLedgerEntries {
		t.Errorf("expected ledger bounded at %d, got %d", maxLedgerEntries, tr.Len())
	}
}

func TestTracker_ConcurrentRecording(t *testing.T) {
	tr := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Record(Record{Phase: datatypes.PhaseReviewing, Model: "gpt-4o-mini", PromptTokens: 1, Success: true})
				tr.Summarize(Filter{})
			}
		}()
	}
	wg.Wait()

	if got := tr.Summarize(Filter{}).Operations; got != 800 {
		t.Errorf("expected 800 operations, got %d", got)
	}
}
