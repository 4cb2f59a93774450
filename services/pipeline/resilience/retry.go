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
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy computes backoff delays and drives the retry loop.
//
// The delay law: attempt 0 gets no pre-attempt delay. Attempt n ≥ 1 waits
// min(MaxDelay, InitialDelay × Factor^(n−1)), plus up to JitterFraction of
// that value as uniform random jitter.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// InitialDelay is the backoff before the first retry. Default: 500ms
	InitialDelay time.Duration

	// MaxDelay caps the exponential term. Default: 30s
	MaxDelay time.Duration

	// Factor is the exponential base. Default: 2.0
	Factor float64

	// JitterFraction is the maximum added jitter as a fraction of the
	// computed delay (0 disables jitter). Default: 0.25
	JitterFraction float64
}

// DefaultRetryPolicy returns sensible defaults for external-API calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Factor:         2.0,
		JitterFraction: 0.25,
	}
}

// Validate checks that the policy is internally consistent.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay <= 0 {
		return fmt.Errorf("retry policy: initial delay must be positive, got %v", p.InitialDelay)
	}
	if p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("retry policy: max delay %v is below initial delay %v", p.MaxDelay, p.InitialDelay)
	}
	if p.Factor < 1.0 {
		return fmt.Errorf("retry policy: factor must be at least 1.0, got %g", p.Factor)
	}
	if p.JitterFraction < 0 || p.JitterFraction > 1 {
		return fmt.Errorf("retry policy: jitter fraction must be in [0,1], got %g", p.JitterFraction)
	}
	return nil
}

// Delay returns the pre-attempt wait for the given attempt number.
//
// Attempt 0 is the initial call and always returns 0. For attempt ≥ 1 the
// exponential term is capped at MaxDelay before jitter is added, so the
// no-jitter delay sequence is monotonically non-decreasing and saturates
// at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	base := float64(p.InitialDelay) * math.Pow(p.Factor, float64(attempt-1))
	if base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}

	if p.JitterFraction > 0 {
		base += rand.Float64() * p.JitterFraction * base
	}

	return time.Duration(base)
}

// RetryResult carries statistics about one retry loop execution.
type RetryResult struct {
	// Attempts is how many attempts were made (at least 1).
	Attempts int

	// TotalDuration is wall time spent including backoff waits.
	TotalDuration time.Duration

	// LastError is the error from the final attempt, nil on success.
	LastError error
}

// RetryableFunc is one attempt of the guarded operation. The attempt number
// is zero-based.
type RetryableFunc func(ctx context.Context, attempt int) error

// Do runs fn under the retry policy.
//
// Inputs:
//   - ctx: Context for cancellation. Backoff waits abort when it is done.
//   - fn: The operation. Retried only on retryable faults (see Classify).
//
// Outputs:
//   - RetryResult: Attempt count and timing.
//   - error: Nil on success; otherwise the final attempt's error, unchanged.
//
// Non-retryable errors return immediately without consuming further budget.
func (p RetryPolicy) Do(ctx context.Context, fn RetryableFunc) (RetryResult, error) {
	start := time.Now()
	result := RetryResult{}

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		result.Attempts = attempt + 1

		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			result.TotalDuration = time.Since(start)
			return result, nil
		}
		result.LastError = err

		if !IsRetryable(err) {
			result.TotalDuration = time.Since(start)
			return result, err
		}

		// No wait after the final attempt.
		if attempt == p.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result, ctx.Err()
		case <-time.After(p.Delay(attempt + 1)):
		}
	}

	result.TotalDuration = time.Since(start)
	return result, result.LastError
}
