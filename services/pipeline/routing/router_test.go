// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
)

// stubAvailability marks listed providers unavailable.
type stubAvailability struct {
	down map[string]bool
}

func (s *stubAvailability) Available(service string) bool {
	return !s.down[service]
}

func testRouter(t *testing.T, avail AvailabilityChecker) *Router {
	t.Helper()
	r, err := NewRouter(DefaultRoutes(), NewPriceTable(DefaultPrices()), avail, nil)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	return r
}

func TestRouter_SelectsPreferredCandidate(t *testing.T) {
	r := testRouter(t, nil)

	sel, err := r.SelectModel(datatypes.PhaseDrafting, datatypes.QualityBest, 2000)
	if err != nil {
		t.Fatalf("SelectModel failed: %v", err)
	}
	if sel.Model != "claude-3-5-sonnet-20240620" || sel.ChainIndex != 0 {
		t.Errorf("expected preferred quality candidate, got %s at chain_pos %d", sel.Model, sel.ChainIndex)
	}
	if sel.EstimatedCostUSD <= 0 {
		t.Errorf("expected positive cost estimate, got %f", sel.EstimatedCostUSD)
	}
}

func TestRouter_FallsBackWhenProviderDown(t *testing.T) {
	r := testRouter(t, &stubAvailability{down: map[string]bool{"anthropic": true}})

	sel, err := r.SelectModel(datatypes.PhaseDrafting, datatypes.QualityBest, 1000)
	if err != nil {
		t.Fatalf("SelectModel failed: %v", err)
	}
	if sel.Provider == "anthropic" {
		t.Errorf("expected fallback past the unavailable provider, got %s", sel.Provider)
	}
	if sel.ChainIndex != 1 {
		t.Errorf("expected second chain position, got %d", sel.ChainIndex)
	}
}

func TestRouter_AllProvidersDownReturnsPreferred(t *testing.T) {
	r := testRouter(t, &stubAvailability{down: map[string]bool{
		"anthropic": true, "openai": true, "ollama": true,
	}})

	sel, err := r.SelectModel(datatypes.PhaseReviewing, datatypes.QualityFast, 500)
	if err != nil {
		t.Fatalf("SelectModel failed: %v", err)
	}
	// Selection still succeeds; the guard handles the open circuits.
	if sel.ChainIndex != 0 {
		t.Errorf("expected preferred candidate when everything is down, got chain_pos %d", sel.ChainIndex)
	}
}

func TestRouter_UnknownPhaseErrors(t *testing.T) {
	r := testRouter(t, nil)

	if _, err := r.SelectModel(datatypes.PhasePublished, datatypes.QualityFast, 100); err == nil {
		t.Error("expected error for phase without routes")
	}
}

func TestRouter_PhasesAreIndependent(t *testing.T) {
	routes := DefaultRoutes()
	// Break drafting's fast chain only.
	routes[datatypes.PhaseDrafting][datatypes.QualityFast] = nil

	r, err := NewRouter(routes, NewPriceTable(DefaultPrices()), nil, nil)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}

	if _, err := r.SelectModel(datatypes.PhaseDrafting, datatypes.QualityFast, 100); err == nil {
		t.Error("expected error for the broken chain")
	}
	if _, err := r.SelectModel(datatypes.PhaseResearching, datatypes.QualityFast, 100); err != nil {
		t.Errorf("expected other phases unaffected, got %v", err)
	}
}

func TestPriceTable_EstimateCost(t *testing.T) {
	table := NewPriceTable(map[string]ModelPrice{
		"gpt-4o": {InputPer1K: 0.0025, OutputPer1K: 0.01},
	})

	// 2000 tokens at the averaged rate (0.0025+0.01)/2 = 0.00625/1K.
	got := table.EstimateCost("gpt-4o", 2000)
	if math.Abs(got-0.0125) > 1e-9 {
		t.Errorf("expected 0.0125, got %f", got)
	}

	// Unknown models use the small non-zero default, never an error.
	got = table.EstimateCost("mystery-model", 1000)
	if math.Abs(got-DefaultCostPer1K) > 1e-9 {
		t.Errorf("expected default estimate %f, got %f", DefaultCostPer1K, got)
	}

	if table.EstimateCost("gpt-4o", 0) != 0 {
		t.Error("expected zero cost for zero tokens")
	}
}

func TestPriceTable_CostSplitsInputOutput(t *testing.T) {
	table := NewPriceTable(map[string]ModelPrice{
		"gpt-4o": {InputPer1K: 0.0025, OutputPer1K: 0.01},
	})

	got := table.Cost("gpt-4o", 1000, 500)
	want := 0.0025 + 0.005
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %f, got %f", want, got)
	}
}

func TestLoadPrices(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")

	content := []byte(`models:
  gpt-4o:
    input_per_1k: 0.0025
    output_per_1k: 0.01
  llama3.1:8b:
    input_per_1k: 0.0
    output_per_1k: 0.0
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write pricing file: %v", err)
	}

	prices, err := LoadPrices(path)
	if err != nil {
		t.Fatalf("LoadPrices failed: %v", err)
	}
	if len(prices) != 2 {
		t.Errorf("expected 2 models, got %d", len(prices))
	}
	if prices["gpt-4o"].OutputPer1K != 0.01 {
		t.Errorf("unexpected output price: %f", prices["gpt-4o"].OutputPer1K)
	}
}

func TestLoadPrices_RejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	if err := os.WriteFile(path, []byte("models: {}\n"), 0o644); err != nil {
		t.Fatalf("write pricing file: %v", err)
	}

	if _, err := LoadPrices(path); err == nil {
		t.Error("expected error for empty pricing file")
	}
}

func TestPriceTable_Replace(t *testing.T) {
	table := NewPriceTable(DefaultPrices())
	before := table.Len()

	table.Replace(map[string]ModelPrice{"only-one": {InputPer1K: 1, OutputPer1K: 1}})
	if table.Len() != 1 {
		t.Errorf("expected table replaced (was %d), got %d entries", before, table.Len())
	}

	// Nil replacement is ignored.
	table.Replace(nil)
	if table.Len() != 1 {
		t.Error("expected nil replacement to be a no-op")
	}
}
