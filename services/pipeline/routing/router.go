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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
)

// Candidate is one model option in a phase's fallback chain.
type Candidate struct {
	Model    string `json:"model" yaml:"model"`
	Provider string `json:"provider" yaml:"provider"`
}

// Selection is the outcome of routing one call. Computed fresh per call and
// never persisted beyond the run record's payload summary.
type Selection struct {
	Phase            datatypes.Phase `json:"phase"`
	Model            string          `json:"model"`
	Provider         string          `json:"provider"`
	EstimatedCostUSD float64         `json:"estimated_cost_usd"`

	// ChainIndex is the candidate's position in the fallback chain
	// (0 = preferred).
	ChainIndex int `json:"chain_index"`
}

// Summary renders a short form for run record entries.
func (s Selection) Summary() string {
	return fmt.Sprintf("model=%s provider=%s est_cost=$%.4f chain_pos=%d",
		s.Model, s.Provider, s.EstimatedCostUSD, s.ChainIndex)
}

// AvailabilityChecker reports whether a provider is currently accepting
// calls. The engine wires this to the circuit breaker registry.
type AvailabilityChecker interface {
	Available(service string) bool
}

// RouteTable maps (phase, quality preference) to an ordered candidate chain.
// Chains are cheapest-first for fast, mid-tier for balanced, and best-first
// for quality. Phase assignments are independent: misconfiguring one phase
// cannot corrupt routing for another.
type RouteTable map[datatypes.Phase]map[datatypes.QualityPreference][]Candidate

// DefaultRoutes returns the built-in routing for the bundled providers.
//
// Research and review lean on cheaper models at fast/balanced tiers since
// their output is intermediate; drafting gets the strongest chain because
// draft quality dominates refinement loop convergence.
func DefaultRoutes() RouteTable {
	fastChain := []Candidate{
		{Model: "llama3.1:8b", Provider: "ollama"},
		{Model: "gpt-4o-mini", Provider: "openai"},
		{Model: "claude-3-5-haiku-20241022", Provider: "anthropic"},
	}
	balancedChain := []Candidate{
		{Model: "gpt-4o-mini", Provider: "openai"},
		{Model: "claude-3-5-haiku-20241022", Provider: "anthropic"},
		{Model: "llama3.1:70b", Provider: "ollama"},
	}
	qualityChain := []Candidate{
		{Model: "claude-3-5-sonnet-20240620", Provider: "anthropic"},
		{Model: "gpt-4o", Provider: "openai"},
		{Model: "llama3.1:70b", Provider: "ollama"},
	}

	tiers := func() map[datatypes.QualityPreference][]Candidate {
		return map[datatypes.QualityPreference][]Candidate{
			datatypes.QualityFast:     fastChain,
			datatypes.QualityBalanced: balancedChain,
			datatypes.QualityBest:     qualityChain,
		}
	}

	return RouteTable{
		datatypes.PhaseResearching:    tiers(),
		datatypes.PhaseDrafting:       tiers(),
		datatypes.PhaseReviewing:      tiers(),
		datatypes.PhaseImageSelection: tiers(),
	}
}

// Router selects models per phase with availability-aware fallback.
//
// Thread Safety: Safe for concurrent use; the route table is immutable
// after construction and the price table locks internally.
type Router struct {
	routes       RouteTable
	prices       *PriceTable
	availability AvailabilityChecker
	logger       *slog.Logger
}

// NewRouter creates a router over the given routes and pricing.
//
// Inputs:
//   - routes: Phase/preference → candidate chains. Must not be empty.
//   - prices: Pricing table for cost estimation. Must not be nil.
//   - availability: Provider availability source. May be nil, in which
//     case every provider is considered available.
//   - logger: Optional logger.
func NewRouter(routes RouteTable, prices *PriceTable, availability AvailabilityChecker, logger *slog.Logger) (*Router, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("router: route table is empty")
	}
	if prices == nil {
		return nil, fmt.Errorf("router: price table is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		routes:       routes,
		prices:       prices,
		availability: availability,
		logger:       logger.With("component", "model_router"),
	}, nil
}

// Prices exposes the price table for usage accounting.
func (r *Router) Prices() *PriceTable {
	return r.prices
}

// SelectModel returns the first candidate in the (phase, preference) chain
// whose provider is currently available.
//
// If every provider in the chain is unavailable, the preferred candidate is
// returned anyway with a warning: the guarded call will then fail fast on
// the open circuit and degrade through cache/fallback rather than stalling
// routing.
func (r *Router) SelectModel(phase datatypes.Phase, pref datatypes.QualityPreference, estimatedTokens int) (Selection, error) {
	byPref, ok := r.routes[phase]
	if !ok {
		return Selection{}, fmt.Errorf("router: no routes for phase %q", phase)
	}

	chain, ok := byPref[pref]
	if !ok || len(chain) == 0 {
		return Selection{}, fmt.Errorf("router: no %q chain for phase %q", pref, phase)
	}

	chosen := chain[0]
	chosenIdx := 0
	found := false
	for i, cand := range chain {
		if r.available(cand.Provider) {
			chosen = cand
			chosenIdx = i
			found = true
			break
		}
	}
	if !found {
		r.logger.Warn("no provider in chain available, using preferred candidate",
			"phase", string(phase), "preference", string(pref), "model", chosen.Model)
	} else if chosenIdx > 0 {
		r.logger.Info("preferred provider unavailable, fell back",
			"phase", string(phase), "model", chosen.Model,
			"provider", chosen.Provider, "chain_pos", chosenIdx)
	}

	return Selection{
		Phase:            phase,
		Model:            chosen.Model,
		Provider:         chosen.Provider,
		EstimatedCostUSD: r.prices.EstimateCost(chosen.Model, estimatedTokens),
		ChainIndex:       chosenIdx,
	}, nil
}

// Chain returns a copy of the candidate chain for (phase, preference), in
// fallback order. Used by the LLM caller to walk alternatives itself.
func (r *Router) Chain(phase datatypes.Phase, pref datatypes.QualityPreference) ([]Candidate, error) {
	byPref, ok := r.routes[phase]
	if !ok {
		return nil, fmt.Errorf("router: no routes for phase %q", phase)
	}
	chain, ok := byPref[pref]
	if !ok || len(chain) == 0 {
		return nil, fmt.Errorf("router: no %q chain for phase %q", pref, phase)
	}
	out := make([]Candidate, len(chain))
	copy(out, chain)
	return out, nil
}

func (r *Router) available(provider string) bool {
	if r.availability == nil {
		return true
	}
	return r.availability.Available(provider)
}
