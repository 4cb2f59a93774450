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

	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
	"github.com/AleutianAI/inkwell/services/pipeline/resilience"
	"github.com/AleutianAI/inkwell/services/pipeline/stages/webclient"
)

const defaultPublishTimeout = 30 * time.Second

// ArticlePublisher is the CMS contract the publish stage depends on.
// webclient.CMSClient is the real implementation.
type ArticlePublisher interface {
	PublishArticle(ctx context.Context, article webclient.Article) (webclient.PublishResult, error)
}

// GuardedPublisher pushes the finished article to the CMS under the guard.
//
// Publishing hard-fails: there is no sensible cached or fallback "published
// URL", so errors propagate and the task transitions to failed.
type GuardedPublisher struct {
	cms     ArticlePublisher
	guard   *resilience.Guard
	timeout time.Duration
	logger  *slog.Logger
}

// NewGuardedPublisher creates the publish stage.
func NewGuardedPublisher(cms ArticlePublisher, guard *resilience.Guard, timeout time.Duration, logger *slog.Logger) (*GuardedPublisher, error) {
	if cms == nil {
		return nil, fmt.Errorf("publisher: cms client is required")
	}
	if guard == nil {
		return nil, fmt.Errorf("publisher: guard is required")
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardedPublisher{
		cms:     cms,
		guard:   guard,
		timeout: timeout,
		logger:  logger.With("component", "stage_publish"),
	}, nil
}

// Publish implements the Publisher contract and returns the public URL.
func (p *GuardedPublisher) Publish(ctx context.Context, task *datatypes.Task) (string, error) {
	if task.Draft == nil {
		return "", fmt.Errorf("publish stage has no draft for task %s", task.ID)
	}

	article := webclient.Article{
		Title:      task.Draft.Title,
		Deck:       task.Draft.Deck,
		Body:       task.Draft.Body,
		Categories: task.Draft.Categories,
		Tags:       task.Draft.Tags,
	}
	if task.Image != nil {
		article.HeroImageURL = task.Image.URL
		article.HeroImageCredit = task.Image.Credit
	}

	result, err := resilience.Execute(ctx, p.guard, resilience.CallSpec{
		Service:        ServiceCMS,
		AttemptTimeout: p.timeout,
	}, func(ctx context.Context) (webclient.PublishResult, error) {
		return p.cms.PublishArticle(ctx, article)
	})
	if err != nil {
		return "", fmt.Errorf("publish failed for task %s: %w", task.ID, err)
	}

	p.logger.Info("article published",
		"task_id", task.ID, "url", result.URL, "cms_id", result.ID)
	return result.URL, nil
}
