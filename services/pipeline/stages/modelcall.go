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
	"time"

	"github.com/AleutianAI/inkwell/services/llm"
	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
	"github.com/AleutianAI/inkwell/services/pipeline/observability"
	"github.com/AleutianAI/inkwell/services/pipeline/resilience"
	"github.com/AleutianAI/inkwell/services/pipeline/routing"
	"github.com/AleutianAI/inkwell/services/pipeline/usage"
)

// CallRequest describes one LLM invocation on behalf of a stage.
type CallRequest struct {
	TaskID  string
	Phase   datatypes.Phase
	Quality datatypes.QualityPreference
	System  string
	Prompt  string
	Params  llm.Params

	// AttemptTimeout bounds each attempt inside the guard. Required.
	AttemptTimeout time.Duration

	// CacheKey enables the guard's response cache for this call. Optional.
	CacheKey string
}

// CallResult is the completion plus the routing decision that produced it.
type CallResult struct {
	Text             string
	Selection        routing.Selection
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

// Caller is what the LLM-backed stages depend on. ModelCaller is the real
// implementation; tests substitute fakes.
type Caller interface {
	Generate(ctx context.Context, req CallRequest) (CallResult, error)
}

// ModelCaller routes, guards, and meters every LLM call the stages make.
//
// # Description
//
// For each request it walks the (phase, quality) fallback chain from the
// model router: the chosen candidate runs under the resilience guard with
// the provider's own circuit breaker, and on failure the next candidate in
// the chain is tried. Every attempt — success or failure — lands in the
// usage ledger with its token counts and actual cost.
//
// Thread Safety: Safe for concurrent use.
type ModelCaller struct {
	router  *routing.Router
	guard   *resilience.Guard
	clients llm.Registry
	tracker *usage.Tracker
	metrics *observability.PipelineMetrics
	logger  *slog.Logger
}

// NewModelCaller wires the router, guard, provider clients, and usage ledger.
// Metrics may be nil, which disables the token and spend counters.
func NewModelCaller(router *routing.Router, guard *resilience.Guard, clients llm.Registry, tracker *usage.Tracker, metrics *observability.PipelineMetrics, logger *slog.Logger) (*ModelCaller, error) {
	if router == nil || guard == nil || tracker == nil {
		return nil, fmt.Errorf("model caller: router, guard, and tracker are required")
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("model caller: no LLM clients configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelCaller{
		router:  router,
		guard:   guard,
		clients: clients,
		tracker: tracker,
		metrics: metrics,
		logger:  logger.With("component", "model_caller"),
	}, nil
}

// estimateTokens is the rough chars/4 heuristic used only for pre-call cost
// estimation; the ledger records the provider's actual counts.
func estimateTokens(system, prompt string) int {
	return (len(system) + len(prompt)) / 4
}

// Generate runs the request against the first candidate that succeeds.
func (m *ModelCaller) Generate(ctx context.Context, req CallRequest) (CallResult, error) {
	if req.Prompt == "" {
		return CallResult{}, fmt.Errorf("model caller: prompt is empty")
	}
	if !req.Quality.Valid() {
		req.Quality = datatypes.QualityBalanced
	}

	chain, err := m.router.Chain(req.Phase, req.Quality)
	if err != nil {
		return CallResult{}, err
	}
	estTokens := estimateTokens(req.System, req.Prompt)

	var lastErr error
	for i, cand := range chain {
		client, err := m.clients.Get(cand.Provider)
		if err != nil {
			// Provider not configured in this deployment; skip silently.
			continue
		}

		selection := routing.Selection{
			Phase:            req.Phase,
			Model:            cand.Model,
			Provider:         cand.Provider,
			EstimatedCostUSD: m.router.Prices().EstimateCost(cand.Model, estTokens),
			ChainIndex:       i,
		}

		start := time.Now()
		completion, err := resilience.Execute(ctx, m.guard, resilience.CallSpec{
			Service:        cand.Provider,
			CacheKey:       req.CacheKey,
			AttemptTimeout: req.AttemptTimeout,
		}, func(ctx context.Context) (llm.Completion, error) {
			return client.Complete(ctx, cand.Model, req.System, req.Prompt, req.Params)
		})
		elapsed := time.Since(start)

		cost := m.router.Prices().Cost(cand.Model, completion.PromptTokens, completion.CompletionTokens)
		m.tracker.Record(usage.Record{
			TaskID:           req.TaskID,
			Phase:            req.Phase,
			Model:            cand.Model,
			Provider:         cand.Provider,
			PromptTokens:     completion.PromptTokens,
			CompletionTokens: completion.CompletionTokens,
			CostUSD:          cost,
			Duration:         elapsed,
			Success:          err == nil,
		})
		if m.metrics != nil {
			m.metrics.TokensTotal.WithLabelValues("input", cand.Model).Add(float64(completion.PromptTokens))
			m.metrics.TokensTotal.WithLabelValues("output", cand.Model).Add(float64(completion.CompletionTokens))
			m.metrics.SpendUSD.WithLabelValues(cand.Model).Add(cost)
		}

		if err != nil {
			lastErr = err
			m.logger.Warn("model call failed, trying next candidate",
				"phase", string(req.Phase),
				"model", cand.Model,
				"provider", cand.Provider,
				"chain_pos", i,
				"error", err)
			continue
		}

		if i > 0 {
			m.logger.Info("model call succeeded on fallback candidate",
				"phase", string(req.Phase), "model", cand.Model, "chain_pos", i)
		}
		return CallResult{
			Text:             completion.Text,
			Selection:        selection,
			PromptTokens:     completion.PromptTokens,
			CompletionTokens: completion.CompletionTokens,
			Duration:         elapsed,
		}, nil
	}

	if lastErr == nil {
		return CallResult{}, fmt.Errorf("model caller: no configured provider in the %s/%s chain", req.Phase, req.Quality)
	}
	return CallResult{}, &resilience.StageError{Service: "llm", Err: lastErr}
}
