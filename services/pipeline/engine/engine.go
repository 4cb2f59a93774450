// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine is the pipeline orchestrator: it owns the task state
// machine, the timer-driven poll loop, and the command listener, and drives
// every stage call through the resilience guard.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/inkwell/services/pipeline/commands"
	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
	"github.com/AleutianAI/inkwell/services/pipeline/observability"
	"github.com/AleutianAI/inkwell/services/pipeline/resilience"
	"github.com/AleutianAI/inkwell/services/pipeline/stages"
	"github.com/AleutianAI/inkwell/services/pipeline/usage"
)

// TaskStore is the slice of the storage layer the engine needs.
type TaskStore interface {
	Put(ctx context.Context, task *datatypes.Task) error
	Get(ctx context.Context, id string) (*datatypes.Task, error)
	Pending(ctx context.Context) ([]*datatypes.Task, error)
}

// RunStore persists run records, best effort.
type RunStore interface {
	Put(ctx context.Context, run *datatypes.RunRecord) error
}

// Options collects the engine's collaborators. Stages, Tasks, Runs, Queue,
// Registry, and Tracker are required.
type Options struct {
	Stages   stages.Set
	Tasks    TaskStore
	Runs     RunStore
	Queue    *commands.Queue
	Registry *resilience.Registry
	Tracker  *usage.Tracker

	// Metrics may be nil, which disables metric emission (tests).
	Metrics *observability.PipelineMetrics

	// PollInterval for the task poll loop. Zero selects 30s.
	PollInterval time.Duration

	Logger *slog.Logger
}

// Engine coordinates the pipeline.
//
// # Description
//
// Two execution contexts run inside one engine: the timer-driven poll loop
// (fetch pending tasks, process each sequentially within the tick) and the
// event-driven command listener (pause/resume/cancel/run-now). They share
// only the cancellation signal, the paused flag, and the single-flight
// group; all cross-context work travels through the command queue.
//
// Thread Safety: Safe for concurrent use. Per-task mutation is serialized
// by the single-flight group keyed on task id.
type Engine struct {
	stages   stages.Set
	tasks    TaskStore
	runs     RunStore
	queue    *commands.Queue
	registry *resilience.Registry
	tracker  *usage.Tracker
	metrics  *observability.PipelineMetrics
	logger   *slog.Logger

	pollInterval time.Duration

	flight      singleflight.Group
	paused      atomic.Bool
	tickRunning atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates an engine from its collaborators.
func New(opts Options) (*Engine, error) {
	if opts.Stages.Research == nil || opts.Stages.Draft == nil || opts.Stages.Review == nil ||
		opts.Stages.Images == nil || opts.Stages.Publish == nil {
		return nil, fmt.Errorf("engine: all five stages are required")
	}
	if opts.Tasks == nil || opts.Runs == nil {
		return nil, fmt.Errorf("engine: task and run stores are required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("engine: command queue is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("engine: breaker registry is required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("engine: usage tracker is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Engine{
		stages:       opts.Stages,
		tasks:        opts.Tasks,
		runs:         opts.Runs,
		queue:        opts.Queue,
		registry:     opts.Registry,
		tracker:      opts.Tracker,
		metrics:      opts.Metrics,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger.With("component", "engine"),
	}, nil
}

// Start launches the poll loop and the command listener. It returns
// immediately; the loops run until Stop or the parent context ends.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine: already started")
	}
	e.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.pollLoop(loopCtx)
	}()
	go func() {
		defer wg.Done()
		e.listen(loopCtx)
	}()
	go func() {
		wg.Wait()
		close(e.done)
	}()

	e.logger.Info("engine started", "poll_interval", e.pollInterval.String())
	return nil
}

// Stop signals both loops and waits up to timeout for them to exit.
//
// Stop is idempotent: every call signals cancellation (a no-op after the
// first) and waits on the same done channel. In-flight stage calls are not
// aborted; they run to their own completion or per-attempt timeout.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		e.logger.Info("engine stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("engine: loops did not exit within %s", timeout)
	}
}

// Paused reports whether the poll loop is currently paused.
func (e *Engine) Paused() bool {
	return e.paused.Load()
}

// CircuitStatus returns a snapshot of every service's breaker and refreshes
// the breaker state gauge.
func (e *Engine) CircuitStatus() map[string]resilience.BreakerStats {
	snapshot := e.registry.Snapshot()
	if e.metrics != nil {
		states := make(map[string]float64, len(snapshot))
		for service, stats := range snapshot {
			states[service] = float64(stats.State)
		}
		e.metrics.ObserveBreakers(states)
	}
	return snapshot
}

// UsageSummary aggregates the usage ledger under the given filter.
func (e *Engine) UsageSummary(f usage.Filter) usage.Summary {
	return e.tracker.Summarize(f)
}

// Queue exposes the command queue for the HTTP ingress.
func (e *Engine) Queue() *commands.Queue {
	return e.queue
}
