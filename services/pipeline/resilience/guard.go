// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/inkwell/services/pipeline/observability"
)

// Source identifies where a guarded call's result came from.
type Source int

const (
	// SourceFresh means the operation itself produced the result.
	SourceFresh Source = iota

	// SourceCached means a previously cached response was served.
	SourceCached

	// SourceFallback means the caller-supplied fallback value was served.
	SourceFallback
)

// String returns the human-readable name for the result source.
func (s Source) String() string {
	switch s {
	case SourceFresh:
		return "fresh"
	case SourceCached:
		return "cached"
	case SourceFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Cache is the optional response cache consulted when a fresh result cannot
// be obtained. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte) error
}

// CallSpec names the target service and bounds one guarded call.
type CallSpec struct {
	// Service selects the circuit breaker. Required.
	Service string

	// CacheKey enables the cached-response fallback path. Optional.
	CacheKey string

	// AttemptTimeout bounds each individual attempt. Required: a stage
	// call without a timeout is degenerate and is rejected up front.
	AttemptTimeout time.Duration
}

func (s CallSpec) validate() error {
	if s.Service == "" {
		return fmt.Errorf("guard: call spec has no service name")
	}
	if s.AttemptTimeout <= 0 {
		return fmt.Errorf("guard: call to %s has no attempt timeout", s.Service)
	}
	return nil
}

// Guard composes the retry policy, the circuit breaker registry, and an
// optional response cache around any external call.
//
// Thread Safety: Safe for concurrent use.
type Guard struct {
	registry *Registry
	retry    RetryPolicy
	cache    Cache
	metrics  *observability.PipelineMetrics
	logger   *slog.Logger
}

// NewGuard creates a guard over the given breaker registry and retry policy.
// The cache may be nil, which disables the cached-response path; metrics may
// be nil, which disables retry and degraded-result counters.
func NewGuard(registry *Registry, retry RetryPolicy, cache Cache, metrics *observability.PipelineMetrics, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		registry: registry,
		retry:    retry,
		cache:    cache,
		metrics:  metrics,
		logger:   logger.With("component", "resilience_guard"),
	}
}

// Registry exposes the breaker registry for introspection endpoints.
func (g *Guard) Registry() *Registry {
	return g.registry
}

// Execute runs op under the breaker and retry policy and propagates failure.
//
// This is the hard-fail entry point used by pipeline stages whose errors
// must surface: the circuit is consulted first (ErrCircuitOpen on refusal),
// the operation runs under the retry policy with a bounded per-attempt
// timeout, and the breaker is updated with the eventual outcome. A fresh
// success is cached when the spec carries a cache key.
func Execute[T any](ctx context.Context, g *Guard, spec CallSpec, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := spec.validate(); err != nil {
		return zero, err
	}

	cb := g.registry.Get(spec.Service)
	if !cb.IsAvailable() {
		g.logger.Warn("circuit open, refusing call",
			"service", spec.Service)
		return zero, fmt.Errorf("%s: %w", spec.Service, ErrCircuitOpen)
	}

	var value T
	result, err := g.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, spec.AttemptTimeout)
		defer cancel()

		v, opErr := op(attemptCtx)
		if opErr != nil {
			return opErr
		}
		value = v
		return nil
	})
	g.countRetries(spec.Service, result.Attempts)
	if err != nil {
		cb.RecordFailure()
		g.logger.Warn("guarded call failed",
			"service", spec.Service,
			"attempts", result.Attempts,
			"fault", Classify(err).String(),
			"error", err)
		return zero, err
	}

	cb.RecordSuccess()
	g.storeCached(ctx, spec, value)
	return value, nil
}

// Call runs op under the full resilience composition with a fallback value.
//
// Exactly one of {fresh result, cached result, fallback value} is returned:
//
//  1. If the service's circuit refuses the call, the cached response (when
//     a cache key was supplied) or the fallback is served immediately — a
//     fast-fail path, not a retry.
//  2. Otherwise op runs under the retry policy. Eventual success records
//     breaker success and populates the cache; eventual failure records
//     breaker failure, then serves the cached response or the fallback.
//
// The returned error is non-nil only for malformed call arguments; operation
// failures are absorbed into the cached/fallback result and logged.
func Call[T any](ctx context.Context, g *Guard, spec CallSpec, op func(ctx context.Context) (T, error), fallback T) (T, Source, error) {
	var zero T

	if err := spec.validate(); err != nil {
		return zero, SourceFallback, err
	}

	cb := g.registry.Get(spec.Service)
	if !cb.IsAvailable() {
		g.logger.Warn("circuit open, serving degraded result",
			"service", spec.Service)
		if cached, ok := loadCached[T](ctx, g, spec); ok {
			g.countDegraded(spec.Service, SourceCached)
			return cached, SourceCached, nil
		}
		g.countDegraded(spec.Service, SourceFallback)
		return fallback, SourceFallback, nil
	}

	var value T
	result, err := g.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, spec.AttemptTimeout)
		defer cancel()

		v, opErr := op(attemptCtx)
		if opErr != nil {
			return opErr
		}
		value = v
		return nil
	})
	g.countRetries(spec.Service, result.Attempts)
	if err != nil {
		cb.RecordFailure()
		g.logger.Warn("guarded call exhausted retries, serving degraded result",
			"service", spec.Service,
			"attempts", result.Attempts,
			"fault", Classify(err).String(),
			"error", err)
		if cached, ok := loadCached[T](ctx, g, spec); ok {
			g.countDegraded(spec.Service, SourceCached)
			return cached, SourceCached, nil
		}
		g.countDegraded(spec.Service, SourceFallback)
		return fallback, SourceFallback, nil
	}

	cb.RecordSuccess()
	g.storeCached(ctx, spec, value)
	return value, SourceFresh, nil
}

// countRetries records attempts beyond the first try for one guarded call.
func (g *Guard) countRetries(service string, attempts int) {
	if g.metrics != nil && attempts > 1 {
		g.metrics.RetriesTotal.WithLabelValues(service).Add(float64(attempts - 1))
	}
}

// countDegraded records a non-fresh result being served.
func (g *Guard) countDegraded(service string, src Source) {
	if g.metrics != nil {
		g.metrics.DegradedResultsTotal.WithLabelValues(service, src.String()).Inc()
	}
}

// storeCached writes a fresh result to the cache, best effort.
func (g *Guard) storeCached(ctx context.Context, spec CallSpec, value any) {
	if g.cache == nil || spec.CacheKey == "" {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		g.logger.Warn("failed to encode response for cache",
			"service", spec.Service, "error", err)
		return
	}
	if err := g.cache.Set(ctx, spec.CacheKey, raw); err != nil {
		g.logger.Warn("failed to store cached response",
			"service", spec.Service, "error", err)
	}
}

// loadCached reads and decodes a cached response for the spec's cache key.
func loadCached[T any](ctx context.Context, g *Guard, spec CallSpec) (T, bool) {
	var zero T
	if g.cache == nil || spec.CacheKey == "" {
		return zero, false
	}
	raw, ok := g.cache.Get(ctx, spec.CacheKey)
	if !ok {
		return zero, false
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		g.logger.Warn("failed to decode cached response",
			"service", spec.Service, "error", err)
		return zero, false
	}
	return value, true
}
