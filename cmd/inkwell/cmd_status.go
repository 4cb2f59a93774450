// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/inkwell/services/pipeline/resilience"
	"github.com/AleutianAI/inkwell/services/pipeline/usage"
)

// runCircuits prints the per-service breaker snapshot.
func runCircuits(cmd *cobra.Command, args []string) {
	client := newAPIClient(serverURL)

	var resp struct {
		Circuits map[string]resilience.BreakerStats `json:"circuits"`
	}
	if err := client.get("/v1/resilience/circuits", nil, &resp); err != nil {
		fatal("failed to fetch circuit status", err)
	}

	if jsonMode() {
		outputJSON(resp)
		return
	}

	if len(resp.Circuits) == 0 {
		fmt.Println("No circuits registered yet.")
		return
	}

	services := make([]string, 0, len(resp.Circuits))
	for name := range resp.Circuits {
		services = append(services, name)
	}
	sort.Strings(services)

	fmt.Printf("%-20s %-10s %-10s\n", "SERVICE", "STATE", "FAILURES")
	for _, name := range services {
		stats := resp.Circuits[name]
		fmt.Printf("%-20s %-10s %-10d\n", name, stats.State, stats.ConsecutiveFailures)
	}
}

// runUsage prints the aggregated usage summary.
func runUsage(cmd *cobra.Command, args []string) {
	client := newAPIClient(serverURL)

	query := url.Values{}
	if usagePhase != "" {
		query.Set("phase", usagePhase)
	}
	if usageModel != "" {
		query.Set("model", usageModel)
	}

	var summary usage.Summary
	if err := client.get("/v1/usage/summary", query, &summary); err != nil {
		fatal("failed to fetch usage summary", err)
	}

	if jsonMode() {
		outputJSON(summary)
		return
	}

	fmt.Println("Model usage summary")
	if usagePhase != "" {
		fmt.Printf("  Phase filter: %s\n", usagePhase)
	}
	if usageModel != "" {
		fmt.Printf("  Model filter: %s\n", usageModel)
	}
	fmt.Printf("  Operations:   %d\n", summary.Operations)
	fmt.Printf("  Tokens:       %d\n", summary.Tokens)
	fmt.Printf("  Cost:         $%.4f\n", summary.CostUSD)
	fmt.Printf("  Success rate: %.1f%%\n", summary.SuccessRate*100)
	fmt.Printf("  Avg duration: %.0f ms\n", summary.AvgDurationMs)
}
