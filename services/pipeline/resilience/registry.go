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

import "sync"

// Registry holds one circuit breaker per named external service, created
// lazily on first use.
//
// The registry is an explicit object owned by the engine's construction
// scope, not a package-level singleton, so test instances stay isolated.
//
// Thread Safety: Safe for concurrent use. Different services' breakers are
// independent; the registry lock covers only map access.
type Registry struct {
	config   BreakerConfig
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a registry whose breakers share the given config.
func NewRegistry(config BreakerConfig) *Registry {
	return &Registry{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for the named service, creating it if needed.
func (r *Registry) Get(service string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[service]
	if !ok {
		cb = NewCircuitBreaker(r.config)
		r.breakers[service] = cb
	}
	return cb
}

// Available reports whether the named service's circuit admits calls.
// A service with no breaker yet is considered available.
func (r *Registry) Available(service string) bool {
	r.mu.Lock()
	cb, ok := r.breakers[service]
	r.mu.Unlock()

	if !ok {
		return true
	}
	return cb.IsAvailable()
}

// Snapshot returns per-service breaker statistics for introspection.
func (r *Registry) Snapshot() map[string]BreakerStats {
	r.mu.Lock()
	names := make([]string, 0, len(r.breakers))
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for name, cb := range r.breakers {
		names = append(names, name)
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	// Collect stats outside the registry lock; each breaker locks itself.
	out := make(map[string]BreakerStats, len(names))
	for i, name := range names {
		out[name] = breakers[i].Stats()
	}
	return out
}
