// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handler factories for the pipeline API.
//
// Handlers are thin: validate input, call into storage or the engine, map
// errors to status codes. No pipeline logic lives here.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/inkwell/pkg/validation"
	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
	"github.com/AleutianAI/inkwell/services/pipeline/storage"
)

// SubmitTopicRequest is the POST /v1/topics payload.
type SubmitTopicRequest struct {
	Topic    string   `json:"topic"`
	Audience string   `json:"audience"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`

	// Quality is fast, balanced, or quality. Defaults to balanced.
	Quality string `json:"quality"`

	// RefinementBudget caps draft/review cycles. Defaults to 3.
	RefinementBudget int `json:"refinement_budget"`
}

// SubmitTopic creates a queued task from a topic submission.
func SubmitTopic(tasks *storage.TaskStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitTopicRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		topic, err := validation.SanitizeTopic(req.Topic)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := validation.ValidateKeywords(req.Keywords); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		quality := datatypes.QualityPreference(req.Quality)
		if req.Quality == "" {
			quality = datatypes.QualityBalanced
		}
		if !quality.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "quality must be fast, balanced, or quality"})
			return
		}

		budget := req.RefinementBudget
		if budget == 0 {
			budget = datatypes.DefaultRefinementBudget
		}
		if budget < 1 || budget > 10 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "refinement_budget must be between 1 and 10"})
			return
		}

		now := time.Now().UTC()
		task := &datatypes.Task{
			ID:               uuid.New().String(),
			Topic:            topic,
			Audience:         req.Audience,
			Category:         req.Category,
			Keywords:         req.Keywords,
			Quality:          quality,
			RefinementBudget: budget,
			Phase:            datatypes.PhaseQueued,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		if err := tasks.Put(c.Request.Context(), task); err != nil {
			slog.Error("failed to persist new task", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist task"})
			return
		}

		slog.Info("topic accepted", "task_id", task.ID, "topic", topic)
		c.JSON(http.StatusCreated, task)
	}
}

// GetTask returns one task by id.
func GetTask(tasks *storage.TaskStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		task, err := tasks.Get(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
				return
			}
			slog.Error("failed to load task", "task_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// ListTasks returns tasks, optionally filtered by ?phase=.
func ListTasks(tasks *storage.TaskStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		phase := datatypes.Phase(c.Query("phase"))
		if phase != "" && !phase.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown phase"})
			return
		}

		list, err := tasks.List(c.Request.Context(), phase)
		if err != nil {
			slog.Error("failed to list tasks", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tasks"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": list, "count": len(list)})
	}
}

// ListRuns returns the run records for one task.
func ListRuns(runs *storage.RunStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("taskId")
		list, err := runs.ListByTask(c.Request.Context(), taskID)
		if err != nil {
			slog.Error("failed to list runs", "task_id", taskID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": list, "count": len(list)})
	}
}
