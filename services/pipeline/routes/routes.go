// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/inkwell/services/pipeline/commands"
	"github.com/AleutianAI/inkwell/services/pipeline/handlers"
	"github.com/AleutianAI/inkwell/services/pipeline/storage"
)

// SetupRoutes registers the pipeline API on the gin engine.
func SetupRoutes(router *gin.Engine, db *storage.DB, queue *commands.Queue,
	eng handlers.EngineInspector) {

	router.GET("/health", handlers.HealthCheck(eng))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/topics", handlers.SubmitTopic(db.Tasks()))
		v1.GET("/tasks", handlers.ListTasks(db.Tasks()))
		v1.GET("/tasks/:id", handlers.GetTask(db.Tasks()))
		v1.GET("/runs/:taskId", handlers.ListRuns(db.Runs()))

		v1.POST("/commands", handlers.EnqueueCommand(queue))
		v1.GET("/commands/:id", handlers.GetCommand(queue))

		resilienceGroup := v1.Group("/resilience")
		{
			resilienceGroup.GET("/circuits", handlers.CircuitStatus(eng))
		}
		usageGroup := v1.Group("/usage")
		{
			usageGroup.GET("/summary", handlers.UsageSummary(eng))
		}
	}
}
