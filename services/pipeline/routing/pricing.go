// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routing selects LLM models per pipeline phase and quality
// preference, estimates call cost from a pricing table, and orders fallback
// chains by provider availability.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultCostPer1K is the per-1K-token price assumed for models missing
// from the pricing table. Estimation must never block execution, so unknown
// models get a small non-zero estimate rather than an error.
const DefaultCostPer1K = 0.002

// ModelPrice holds per-1K-token pricing for one model.
type ModelPrice struct {
	InputPer1K  float64 `json:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" yaml:"output_per_1k"`
}

// PriceTable maps model name to pricing. Reloadable at runtime.
//
// Thread Safety: Safe for concurrent use.
type PriceTable struct {
	mu     sync.RWMutex
	prices map[string]ModelPrice
}

// NewPriceTable creates a table seeded with the given prices. A nil map
// yields an empty table that estimates everything at DefaultCostPer1K.
func NewPriceTable(prices map[string]ModelPrice) *PriceTable {
	if prices == nil {
		prices = make(map[string]ModelPrice)
	}
	return &PriceTable{prices: prices}
}

// DefaultPrices returns the built-in pricing for the bundled model set.
// Values are USD per 1K tokens.
func DefaultPrices() map[string]ModelPrice {
	return map[string]ModelPrice{
		"gpt-4o":                     {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"gpt-4o-mini":                {InputPer1K: 0.00015, OutputPer1K: 0.0006},
		"claude-3-5-sonnet-20240620": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-3-5-haiku-20241022":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
		"llama3.1:8b":                {InputPer1K: 0.0, OutputPer1K: 0.0},
		"llama3.1:70b":               {InputPer1K: 0.0, OutputPer1K: 0.0},
	}
}

// Lookup returns the price entry for a model and whether it was found.
func (t *PriceTable) Lookup(model string) (ModelPrice, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.prices[model]
	return p, ok
}

// EstimateCost estimates the USD cost for a call with the given token count.
//
// The token count is the combined prompt+completion estimate; the input and
// output rates are averaged since the split is unknown before the call.
// Unknown models fall back to DefaultCostPer1K so estimation never errors.
func (t *PriceTable) EstimateCost(model string, tokenCount int) float64 {
	if tokenCount <= 0 {
		return 0
	}

	per1K := DefaultCostPer1K
	if p, ok := t.Lookup(model); ok {
		per1K = (p.InputPer1K + p.OutputPer1K) / 2
	}
	return float64(tokenCount) / 1000 * per1K
}

// Cost computes the exact USD cost for a completed call with known prompt
// and completion token counts.
func (t *PriceTable) Cost(model string, promptTokens, completionTokens int) float64 {
	p, ok := t.Lookup(model)
	if !ok {
		return t.EstimateCost(model, promptTokens+completionTokens)
	}
	return float64(promptTokens)/1000*p.InputPer1K +
		float64(completionTokens)/1000*p.OutputPer1K
}

// Replace swaps the entire table contents. Used by the hot-reload watcher.
func (t *PriceTable) Replace(prices map[string]ModelPrice) {
	if prices == nil {
		return
	}
	t.mu.Lock()
	t.prices = prices
	t.mu.Unlock()
}

// Len returns the number of priced models.
func (t *PriceTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.prices)
}

// pricingFile is the on-disk schema for a pricing table.
type pricingFile struct {
	Models map[string]ModelPrice `yaml:"models"`
}

// LoadPrices reads a YAML pricing file.
//
// Inputs:
//   - path: Path to the pricing YAML. Must exist.
//
// Outputs:
//   - map[string]ModelPrice: Parsed prices.
//   - error: Non-nil on read or parse failure.
func LoadPrices(path string) (map[string]ModelPrice, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file %s: %w", path, err)
	}

	var file pricingFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse pricing file %s: %w", path, err)
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("pricing file %s contains no models", path)
	}
	return file.Models, nil
}

// PriceWatcher hot-reloads a pricing file into a PriceTable on change.
//
// Thread Safety: Safe for concurrent use. Start should only be called once.
type PriceWatcher struct {
	path    string
	table   *PriceTable
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewPriceWatcher creates a watcher for the given pricing file.
func NewPriceWatcher(path string, table *PriceTable, logger *slog.Logger) (*PriceWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create pricing watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceWatcher{
		path:    path,
		table:   table,
		watcher: watcher,
		logger:  logger.With("component", "price_watcher"),
	}, nil
}

// Start watches the pricing file until the context is cancelled.
// Blocks; run in a goroutine. A bad reload keeps the previous table.
func (w *PriceWatcher) Start(ctx context.Context) {
	if err := w.watcher.Add(w.path); err != nil {
		w.logger.Warn("failed to watch pricing file",
			"path", w.path, "error", err)
		return
	}
	defer w.watcher.Close()

	w.logger.Debug("watching pricing file", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			prices, err := LoadPrices(w.path)
			if err != nil {
				w.logger.Warn("pricing reload failed, keeping previous table",
					"path", w.path, "error", err)
				continue
			}
			w.table.Replace(prices)
			w.logger.Info("pricing table reloaded",
				"path", w.path, "models", len(prices))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("pricing watcher error", "error", err)
		}
	}
}
