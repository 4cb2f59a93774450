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
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows calls through normally.
	CircuitClosed CircuitState = iota

	// CircuitOpen refuses all calls until the recovery timeout elapses.
	CircuitOpen

	// CircuitHalfOpen allows trial calls to probe recovery.
	CircuitHalfOpen
)

// String returns the human-readable name for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures circuit breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long an open circuit refuses calls before
	// allowing a half-open probe. Default: 30s
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit. Default: 2
	SuccessThreshold int
}

// DefaultBreakerConfig returns sensible defaults for external services.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreaker is a per-service fault isolator.
//
// State machine:
//   - Closed: calls pass; consecutive failures open the circuit.
//   - Open: calls are refused; after RecoveryTimeout the next availability
//     check moves to HalfOpen. This read-triggered transition is the only
//     one not driven by a success/failure event.
//   - HalfOpen: calls pass; SuccessThreshold consecutive successes close
//     the circuit, a single failure reopens it.
//
// Thread Safety: Safe for concurrent use. The lock is held only across
// counter updates, never across a call.
type CircuitBreaker struct {
	config BreakerConfig

	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	lastStateChange      time.Time

	// now is replaceable for tests.
	now func() time.Time

	mu sync.Mutex
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
	}
	cb.lastStateChange = cb.now()
	return cb
}

// IsAvailable reports whether a call may proceed.
//
// Returns true in Closed and HalfOpen. In Open, if the recovery timeout has
// elapsed since the circuit opened, transitions to HalfOpen and returns true.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) IsAvailable() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		now := cb.now()
		if now.Sub(cb.openedAt) >= cb.config.RecoveryTimeout {
			cb.transitionTo(CircuitHalfOpen, now)
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful call.
//
// In Closed, resets the failure count. In HalfOpen, counts toward closing.
// In Open, has no effect.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.consecutiveFailures = 0
	case CircuitHalfOpen:
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed, cb.now())
		}
	}
}

// RecordFailure records a failed call.
//
// In Closed, counts toward the failure threshold. In HalfOpen, a single
// failure reopens the circuit immediately.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	switch cb.state {
	case CircuitClosed:
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen, now)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen, now)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerStats{
		State:                cb.state,
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		OpenedAt:             cb.openedAt,
		LastStateChange:      cb.lastStateChange,
	}
}

// Reset returns the breaker to the closed state with cleared counters.
// Intended for tests and manual intervention.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.lastStateChange = cb.now()
}

// transitionTo changes state. Must be called with the lock held.
func (cb *CircuitBreaker) transitionTo(newState CircuitState, now time.Time) {
	cb.state = newState
	cb.lastStateChange = now
	cb.consecutiveSuccesses = 0

	switch newState {
	case CircuitOpen:
		cb.openedAt = now
	case CircuitClosed:
		cb.consecutiveFailures = 0
	}
}

// BreakerStats is a point-in-time snapshot of one circuit breaker.
type BreakerStats struct {
	State                CircuitState `json:"state"`
	ConsecutiveFailures  int          `json:"consecutive_failures"`
	ConsecutiveSuccesses int          `json:"consecutive_successes"`
	OpenedAt             time.Time    `json:"opened_at,omitempty"`
	LastStateChange      time.Time    `json:"last_state_change"`
}

// MarshalJSON renders the state as its name so API payloads stay readable.
func (s CircuitState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}
