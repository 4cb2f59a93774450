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
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
	"github.com/AleutianAI/inkwell/services/pipeline/resilience"
)

const (
	defaultImageTimeout    = 15 * time.Second
	imageCandidatesPerPage = 5
	maxImageQueries        = 3
)

// ImageSearcher is the provider contract the image stage depends on.
// webclient.ImageClient is the real implementation.
type ImageSearcher interface {
	Search(ctx context.Context, query string, perPage int) ([]datatypes.ImageAsset, error)
}

// GuardedImageSelector sources hero image candidates from a stock provider.
//
// # Description
//
// It derives up to three search queries from the approved draft (title,
// topic, first tag), runs them concurrently, and picks the widest landscape
// candidate. Individual query failures degrade to the other queries'
// results via the resilience guard; only a total miss is an error.
type GuardedImageSelector struct {
	searcher ImageSearcher
	guard    *resilience.Guard
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGuardedImageSelector creates the image selection stage.
func NewGuardedImageSelector(searcher ImageSearcher, guard *resilience.Guard, timeout time.Duration, logger *slog.Logger) (*GuardedImageSelector, error) {
	if searcher == nil {
		return nil, fmt.Errorf("image selector: searcher is required")
	}
	if guard == nil {
		return nil, fmt.Errorf("image selector: guard is required")
	}
	if timeout <= 0 {
		timeout = defaultImageTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardedImageSelector{
		searcher: searcher,
		guard:    guard,
		timeout:  timeout,
		logger:   logger.With("component", "stage_images"),
	}, nil
}

// queriesFor derives the provider search queries from the task.
func queriesFor(task *datatypes.Task) []string {
	seen := map[string]bool{}
	var queries []string
	add := func(q string) {
		if q == "" || seen[q] || len(queries) >= maxImageQueries {
			return
		}
		seen[q] = true
		queries = append(queries, q)
	}

	if task.Draft != nil {
		add(task.Draft.Title)
		if len(task.Draft.Tags) > 0 {
			add(task.Draft.Tags[0])
		}
	}
	add(task.Topic)
	return queries
}

// SelectImage implements the ImageSelector contract.
func (s *GuardedImageSelector) SelectImage(ctx context.Context, task *datatypes.Task) (*datatypes.ImageAsset, error) {
	queries := queriesFor(task)
	if len(queries) == 0 {
		return nil, fmt.Errorf("image selection has no queries for task %s", task.ID)
	}

	var mu sync.Mutex
	var candidates []datatypes.ImageAsset

	g, gctx := errgroup.WithContext(ctx)
	for _, query := range queries {
		query := query
		g.Go(func() error {
			assets, source, err := resilience.Call(gctx, s.guard, resilience.CallSpec{
				Service:        ServiceImages,
				AttemptTimeout: s.timeout,
			}, func(ctx context.Context) ([]datatypes.ImageAsset, error) {
				return s.searcher.Search(ctx, query, imageCandidatesPerPage)
			}, nil)
			if err != nil {
				return err
			}
			if source != resilience.SourceFresh {
				s.logger.Warn("image search degraded",
					"task_id", task.ID, "query", query, "source", source.String())
			}
			mu.Lock()
			candidates = append(candidates, assets...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("image selection failed for task %s: %w", task.ID, err)
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("no image candidates found for task %s", task.ID)
	}

	best := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.WidthPixels > best.WidthPixels {
			best = cand
		}
	}
	if best.AltText == "" && task.Draft != nil {
		best.AltText = task.Draft.Title
	}

	s.logger.Info("hero image selected",
		"task_id", task.ID,
		"provider", best.Provider,
		"width", best.WidthPixels,
		"candidates", len(candidates))
	return &best, nil
}
