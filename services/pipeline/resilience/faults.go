// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience wraps external calls in a shared fault-tolerance layer:
// exponential-backoff retry, per-service circuit breaking, and a cached
// fallback path, composed by Guard.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// FaultKind classifies an error for retry eligibility.
//
// Only timeout, connection-reset, rate-limit, and explicitly marked transient
// faults are retryable. Everything else propagates immediately without
// consuming a retry budget. Classification is structural (errors.Is/As and
// net.Error), never substring matching on error messages.
type FaultKind int

const (
	// FaultPermanent is the default for unclassified errors: no retry.
	FaultPermanent FaultKind = iota

	// FaultTimeout covers deadline exceedance on any layer.
	FaultTimeout

	// FaultConnReset covers connection resets and refused/broken transport.
	FaultConnReset

	// FaultRateLimited covers provider throttling responses.
	FaultRateLimited

	// FaultTransient covers errors explicitly marked retryable by the caller.
	FaultTransient
)

// String returns the human-readable name for the fault kind.
func (k FaultKind) String() string {
	switch k {
	case FaultPermanent:
		return "permanent"
	case FaultTimeout:
		return "timeout"
	case FaultConnReset:
		return "conn-reset"
	case FaultRateLimited:
		return "rate-limited"
	case FaultTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Retryable reports whether the fault kind should trigger a retry.
func (k FaultKind) Retryable() bool {
	return k != FaultPermanent
}

// ErrCircuitOpen is returned when a circuit breaker refuses a call.
// Circuit-open refusals are resolved via cache or fallback, never retried.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrRateLimited marks provider throttling. Clients wrap 429-class responses
// with this sentinel so classification stays structural.
var ErrRateLimited = errors.New("rate limited by provider")

// transientError marks an error as retryable without changing its message.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err so Classify reports FaultTransient.
//
// Use this at call sites that know an error is worth retrying even though
// its type carries no signal (e.g. a provider's 5xx with an opaque body).
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Classify maps an error to its FaultKind.
//
// Inputs:
//   - err: The error to classify. Nil returns FaultPermanent.
//
// Outputs:
//   - FaultKind: The classification driving retry eligibility.
func Classify(err error) FaultKind {
	if err == nil {
		return FaultPermanent
	}

	var marked *transientError
	if errors.As(err, &marked) {
		return FaultTransient
	}

	if errors.Is(err, ErrRateLimited) {
		return FaultRateLimited
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return FaultTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FaultTimeout
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return FaultConnReset
	}

	return FaultPermanent
}

// IsRetryable reports whether the error should trigger a retry.
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

// StageError wraps an error raised by a pipeline stage with the service that
// produced it, for run record capture.
type StageError struct {
	Service string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
