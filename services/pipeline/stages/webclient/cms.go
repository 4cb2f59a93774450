// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package webclient holds the thin HTTP clients the pipeline stages call:
// the CMS publisher and the image provider. They are plain request/response
// wrappers; retries and circuit breaking live in the resilience guard that
// wraps every call to them.
package webclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/inkwell/services/pipeline/resilience"
)

// Article is the publish payload the CMS accepts.
type Article struct {
	Title           string   `json:"title"`
	Deck            string   `json:"deck,omitempty"`
	Body            string   `json:"body"`
	Categories      []string `json:"categories,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	HeroImageURL    string   `json:"hero_image_url,omitempty"`
	HeroImageCredit string   `json:"hero_image_credit,omitempty"`
}

// PublishResult is the CMS response for an accepted article.
type PublishResult struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CMSClient publishes finished articles to the configured CMS.
type CMSClient struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
}

// NewCMSClient creates a publisher client.
//
// Inputs:
//   - baseURL: CMS API root, e.g. "https://cms.internal". Required.
//   - authToken: Bearer token. May be empty for unauthenticated test servers.
//   - timeout: Whole-request timeout. Zero selects a 30s default.
func NewCMSClient(baseURL, authToken string, timeout time.Duration) (*CMSClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("cms client: base URL is empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CMSClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		authToken:  authToken,
	}, nil
}

// PublishArticle POSTs the article and returns the CMS-assigned URL.
func (c *CMSClient) PublishArticle(ctx context.Context, article Article) (PublishResult, error) {
	if article.Title == "" || article.Body == "" {
		return PublishResult{}, fmt.Errorf("cms client: article needs a title and a body")
	}

	payload, err := json.Marshal(article)
	if err != nil {
		return PublishResult{}, fmt.Errorf("cms client: failed to marshal article: %w", err)
	}

	url := c.baseURL + "/api/v1/articles"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(payload))
	if err != nil {
		return PublishResult{}, fmt.Errorf("cms client: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	slog.Debug("Publishing article to CMS", "title", article.Title)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PublishResult{}, fmt.Errorf("cms client: request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return PublishResult{}, fmt.Errorf("cms: %w", resilience.ErrRateLimited)
	case resp.StatusCode >= 500:
		return PublishResult{}, resilience.MarkTransient(
			fmt.Errorf("cms returned status %d: %s", resp.StatusCode, string(bodyBytes)))
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return PublishResult{}, fmt.Errorf("cms returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result PublishResult
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return PublishResult{}, fmt.Errorf("cms client: failed to parse response: %w", err)
	}
	if result.URL == "" {
		return PublishResult{}, fmt.Errorf("cms accepted the article but returned no URL")
	}
	return result, nil
}
