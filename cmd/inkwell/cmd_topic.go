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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
)

// runTopicSubmit posts a new topic and prints the created task.
func runTopicSubmit(cmd *cobra.Command, args []string) {
	client := newAPIClient(serverURL)

	payload := map[string]any{
		"topic":    args[0],
		"audience": topicAudience,
		"category": topicCategory,
		"keywords": topicKeywords,
		"quality":  topicQuality,
	}
	if topicBudget > 0 {
		payload["refinement_budget"] = topicBudget
	}

	var task datatypes.Task
	if err := client.post("/v1/topics", payload, &task); err != nil {
		fatal("failed to submit topic", err)
	}

	if jsonMode() {
		outputJSON(task)
		return
	}
	fmt.Printf("Task %s accepted.\n", task.ID)
	fmt.Printf("  Topic:   %s\n", task.Topic)
	fmt.Printf("  Quality: %s\n", task.Quality)
	fmt.Printf("  Budget:  %d draft/review cycles\n", task.RefinementBudget)
	fmt.Printf("\nTrack it with: inkwell task status %s\n", task.ID)
}
