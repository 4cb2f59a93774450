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

	"github.com/AleutianAI/inkwell/services/pipeline/commands"
)

// runEngineCommand returns a cobra run function that enqueues one engine
// command of the given kind. Task-targeted kinds take the id as args[0].
func runEngineCommand(kind string) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		client := newAPIClient(serverURL)

		payload := map[string]string{"kind": kind}
		if len(args) > 0 {
			payload["task_id"] = args[0]
		}

		var resp struct {
			CommandID string `json:"command_id"`
			Status    string `json:"status"`
		}
		if err := client.post("/v1/commands", payload, &resp); err != nil {
			fatal("failed to submit command", err)
		}

		if jsonMode() {
			outputJSON(resp)
			return
		}
		fmt.Printf("Command %s accepted (%s).\n", resp.CommandID, kind)
		fmt.Printf("Check it with: inkwell command status %s\n", resp.CommandID)
	}
}

// runCommandStatus fetches one command's lifecycle state.
func runCommandStatus(cmd *cobra.Command, args []string) {
	client := newAPIClient(serverURL)

	var c commands.Command
	if err := client.get("/v1/commands/"+args[0], nil, &c); err != nil {
		fatal("failed to fetch command", err)
	}

	if jsonMode() {
		outputJSON(c)
		return
	}
	fmt.Printf("Command %s\n", c.ID)
	fmt.Printf("  Kind:   %s\n", c.Kind)
	if c.TaskID != "" {
		fmt.Printf("  Task:   %s\n", c.TaskID)
	}
	fmt.Printf("  Status: %s\n", c.Status)
	if c.Result != "" {
		fmt.Printf("  Result: %s\n", c.Result)
	}
	if c.LastError != "" {
		fmt.Printf("  Last error: %s (retries: %d)\n", c.LastError, c.RetryCount)
	}
}
