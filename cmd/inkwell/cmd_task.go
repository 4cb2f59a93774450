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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
)

// runTaskStatus fetches and prints one task.
func runTaskStatus(cmd *cobra.Command, args []string) {
	client := newAPIClient(serverURL)

	var task datatypes.Task
	if err := client.get("/v1/tasks/"+args[0], nil, &task); err != nil {
		fatal("failed to fetch task", err)
	}

	if jsonMode() {
		outputJSON(task)
		return
	}

	fmt.Printf("Task %s\n", task.ID)
	fmt.Printf("  Topic:  %s\n", task.Topic)
	fmt.Printf("  Phase:  %s\n", task.Phase)
	if task.Draft != nil {
		fmt.Printf("  Draft:  %q (revision %d, %d words)\n",
			task.Draft.Title, task.Draft.Revision, task.Draft.WordCount())
	}
	if len(task.Feedback) > 0 {
		fmt.Printf("  Reviewer feedback (%d rounds):\n", len(task.Feedback))
		for i, fb := range task.Feedback {
			fmt.Printf("    %d. %s\n", i+1, fb)
		}
	}
	if task.PublishedURL != "" {
		fmt.Printf("  Published: %s\n", task.PublishedURL)
	}
	if task.LastError != "" {
		fmt.Printf("  Last error: %s\n", task.LastError)
	}
}

// runTaskList lists tasks, optionally filtered by phase.
func runTaskList(cmd *cobra.Command, args []string) {
	client := newAPIClient(serverURL)

	query := url.Values{}
	if listPhase != "" {
		query.Set("phase", listPhase)
	}

	var resp struct {
		Tasks []datatypes.Task `json:"tasks"`
		Count int              `json:"count"`
	}
	if err := client.get("/v1/tasks", query, &resp); err != nil {
		fatal("failed to list tasks", err)
	}

	if jsonMode() {
		outputJSON(resp)
		return
	}

	if resp.Count == 0 {
		fmt.Println("No tasks found.")
		return
	}
	fmt.Printf("%-38s %-16s %s\n", "ID", "PHASE", "TOPIC")
	for _, t := range resp.Tasks {
		topic := t.Topic
		if len(topic) > 60 {
			topic = topic[:57] + "..."
		}
		fmt.Printf("%-38s %-16s %s\n", t.ID, t.Phase, topic)
	}
}

// runTaskRuns prints the audit log of a task's pipeline runs.
func runTaskRuns(cmd *cobra.Command, args []string) {
	client := newAPIClient(serverURL)

	var resp struct {
		Runs  []datatypes.RunRecord `json:"runs"`
		Count int                   `json:"count"`
	}
	if err := client.get("/v1/runs/"+args[0], nil, &resp); err != nil {
		fatal("failed to fetch runs", err)
	}

	if jsonMode() {
		outputJSON(resp)
		return
	}

	if resp.Count == 0 {
		fmt.Println("No runs recorded for this task.")
		return
	}
	for _, run := range resp.Runs {
		fmt.Printf("Run %s (started %s)\n", run.RunID,
			run.StartedAt.Format("2006-01-02 15:04:05"))
		for _, e := range run.Entries {
			line := fmt.Sprintf("  %3d  %-16s %-10s", e.Seq, e.Phase, e.Status)
			if e.Summary != "" {
				line += "  " + e.Summary
			}
			fmt.Println(line)
		}
	}
}
