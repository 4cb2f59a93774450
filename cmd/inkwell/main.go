// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command inkwell is the CLI for the Inkwell content pipeline.
//
// It talks to the pipeline daemon's HTTP API:
//
//	inkwell topic submit "Database sharding strategies" --keywords "consistent hashing"
//	inkwell task status <task-id>
//	inkwell task list --phase queued
//	inkwell task runs <task-id>
//	inkwell command pause
//	inkwell command run-now <task-id>
//	inkwell circuits
//	inkwell usage --phase drafting
//
// The daemon address comes from --server or INKWELL_SERVER (default
// http://localhost:12310).
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL  string
	jsonOutput bool

	// topic submit flags
	topicAudience string
	topicCategory string
	topicKeywords []string
	topicQuality  string
	topicBudget   int

	// task list flags
	listPhase string

	// usage flags
	usagePhase string
	usageModel string

	rootCmd = &cobra.Command{
		Use:   "inkwell",
		Short: "A cli to manage the Inkwell content pipeline",
		Long: `Inkwell turns topics into published articles through a
				research, draft, review, and publish pipeline.`,
	}

	// --- Topics ---
	topicCmd = &cobra.Command{
		Use:   "topic",
		Short: "Submit and inspect content topics",
	}
	topicSubmitCmd = &cobra.Command{
		Use:   "submit [topic]",
		Short: "Submit a topic for article production",
		Args:  cobra.ExactArgs(1),
		Run:   runTopicSubmit, // Defined in cmd_topic.go
	}

	// --- Tasks ---
	taskCmd = &cobra.Command{
		Use:   "task",
		Short: "Inspect pipeline tasks",
	}
	taskStatusCmd = &cobra.Command{
		Use:   "status [task-id]",
		Short: "Show one task's phase and outputs",
		Args:  cobra.ExactArgs(1),
		Run:   runTaskStatus, // Defined in cmd_task.go
	}
	taskListCmd = &cobra.Command{
		Use:   "list",
		Short: "List tasks, optionally filtered by phase",
		Run:   runTaskList, // Defined in cmd_task.go
	}
	taskRunsCmd = &cobra.Command{
		Use:   "runs [task-id]",
		Short: "Show the audit log of a task's pipeline runs",
		Args:  cobra.ExactArgs(1),
		Run:   runTaskRuns, // Defined in cmd_task.go
	}

	// --- Engine Commands ---
	commandCmd = &cobra.Command{
		Use:   "command",
		Short: "Send control commands to the pipeline engine",
	}
	pauseCmd = &cobra.Command{
		Use:   "pause",
		Short: "Pause the poll loop; in-flight work completes",
		Run:   runEngineCommand("pause"), // Defined in cmd_command.go
	}
	resumeCmd = &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused poll loop",
		Run:   runEngineCommand("resume"),
	}
	cancelCmd = &cobra.Command{
		Use:   "cancel [task-id]",
		Short: "Cancel a queued task before it is picked up",
		Args:  cobra.ExactArgs(1),
		Run:   runEngineCommand("cancel"),
	}
	runNowCmd = &cobra.Command{
		Use:   "run-now [task-id]",
		Short: "Process one task immediately, bypassing the poll tick",
		Args:  cobra.ExactArgs(1),
		Run:   runEngineCommand("run-now"),
	}
	commandStatusCmd = &cobra.Command{
		Use:   "status [command-id]",
		Short: "Show the lifecycle status of a submitted command",
		Args:  cobra.ExactArgs(1),
		Run:   runCommandStatus, // Defined in cmd_command.go
	}

	// --- Observability ---
	circuitsCmd = &cobra.Command{
		Use:   "circuits",
		Short: "Show per-service circuit breaker states",
		Run:   runCircuits, // Defined in cmd_status.go
	}
	usageCmd = &cobra.Command{
		Use:   "usage",
		Short: "Summarize model usage and spend",
		Run:   runUsage, // Defined in cmd_status.go
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		defaultServer(), "pipeline daemon base URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"emit raw JSON instead of human-readable output")

	topicSubmitCmd.Flags().StringVar(&topicAudience, "audience", "", "target audience")
	topicSubmitCmd.Flags().StringVar(&topicCategory, "category", "", "article category")
	topicSubmitCmd.Flags().StringSliceVar(&topicKeywords, "keywords", nil, "research keywords")
	topicSubmitCmd.Flags().StringVar(&topicQuality, "quality", "", "model tier: fast, balanced, quality")
	topicSubmitCmd.Flags().IntVar(&topicBudget, "budget", 0, "refinement budget (draft/review cycles)")

	taskListCmd.Flags().StringVar(&listPhase, "phase", "", "filter by phase")

	usageCmd.Flags().StringVar(&usagePhase, "phase", "", "filter by phase")
	usageCmd.Flags().StringVar(&usageModel, "model", "", "filter by model")

	topicCmd.AddCommand(topicSubmitCmd)
	taskCmd.AddCommand(taskStatusCmd, taskListCmd, taskRunsCmd)
	commandCmd.AddCommand(pauseCmd, resumeCmd, cancelCmd, runNowCmd, commandStatusCmd)
	rootCmd.AddCommand(topicCmd, taskCmd, commandCmd, circuitsCmd, usageCmd)
}

func defaultServer() string {
	if v := os.Getenv("INKWELL_SERVER"); v != "" {
		return v
	}
	return "http://localhost:12310"
}
