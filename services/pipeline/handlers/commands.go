// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/inkwell/services/pipeline/commands"
	"github.com/AleutianAI/inkwell/services/pipeline/storage"
)

// EnqueueCommandRequest is the POST /v1/commands payload.
type EnqueueCommandRequest struct {
	// Kind is pause, resume, cancel, or run-now.
	Kind string `json:"kind"`

	// TaskID targets cancel and run-now. Ignored for pause/resume.
	TaskID string `json:"task_id"`
}

// EnqueueCommand accepts an engine command and returns its id for polling.
func EnqueueCommand(queue *commands.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EnqueueCommandRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		id, err := queue.Enqueue(c.Request.Context(), commands.Kind(req.Kind), req.TaskID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		slog.Info("command accepted", "command_id", id, "kind", req.Kind, "task_id", req.TaskID)
		c.JSON(http.StatusAccepted, gin.H{"command_id": id, "status": commands.StatusPending})
	}
}

// GetCommand returns the lifecycle status of one command.
func GetCommand(queue *commands.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		cmd, err := queue.Status(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "command not found"})
				return
			}
			slog.Error("failed to load command", "command_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load command"})
			return
		}
		c.JSON(http.StatusOK, cmd)
	}
}
