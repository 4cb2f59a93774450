// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package webclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
	"github.com/AleutianAI/inkwell/services/pipeline/resilience"
)

// imageSearchResponse is the provider's search result envelope.
type imageSearchResponse struct {
	Photos []struct {
		URL          string `json:"url"`
		Photographer string `json:"photographer"`
		Alt          string `json:"alt"`
		Width        int    `json:"width"`
		Src          struct {
			Large string `json:"large"`
		} `json:"src"`
	} `json:"photos"`
}

// ImageClient searches a stock image provider for hero image candidates.
type ImageClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	provider   string
}

// NewImageClient creates a search client.
//
// Inputs:
//   - baseURL: Provider API root. Required.
//   - apiKey: Provider API key, sent as the Authorization header. Required.
//   - provider: Provider name recorded on returned assets, e.g. "pexels".
//   - timeout: Whole-request timeout. Zero selects a 15s default.
func NewImageClient(baseURL, apiKey, provider string, timeout time.Duration) (*ImageClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("image client: base URL is empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("image client: API key is empty")
	}
	if provider == "" {
		provider = "pexels"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ImageClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		provider:   provider,
	}, nil
}

// Search returns up to perPage image candidates for the query.
func (c *ImageClient) Search(ctx context.Context, query string, perPage int) ([]datatypes.ImageAsset, error) {
	if query == "" {
		return nil, fmt.Errorf("image client: query is empty")
	}
	if perPage <= 0 {
		perPage = 5
	}

	searchURL := c.baseURL + "/v1/search?query=" + url.QueryEscape(query) +
		"&per_page=" + strconv.Itoa(perPage) + "&orientation=landscape"
	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("image client: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image client: request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("image provider: %w", resilience.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, resilience.MarkTransient(
			fmt.Errorf("image provider returned status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("image provider returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var searchResp imageSearchResponse
	if err := json.Unmarshal(bodyBytes, &searchResp); err != nil {
		return nil, fmt.Errorf("image client: failed to parse response: %w", err)
	}

	assets := make([]datatypes.ImageAsset, 0, len(searchResp.Photos))
	for _, photo := range searchResp.Photos {
		src := photo.Src.Large
		if src == "" {
			src = photo.URL
		}
		if src == "" {
			continue
		}
		assets = append(assets, datatypes.ImageAsset{
			URL:         src,
			Credit:      photo.Photographer,
			AltText:     photo.Alt,
			Provider:    c.provider,
			WidthPixels: photo.Width,
		})
	}
	return assets, nil
}
