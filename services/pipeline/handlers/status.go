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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/inkwell/services/pipeline/datatypes"
	"github.com/AleutianAI/inkwell/services/pipeline/resilience"
	"github.com/AleutianAI/inkwell/services/pipeline/usage"
)

// EngineInspector is the slice of the engine the status endpoints need.
type EngineInspector interface {
	Paused() bool
	CircuitStatus() map[string]resilience.BreakerStats
	UsageSummary(f usage.Filter) usage.Summary
}

// HealthCheck reports process liveness and whether the engine is paused.
func HealthCheck(eng EngineInspector) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"paused": eng.Paused(),
		})
	}
}

// CircuitStatus returns the per-service breaker snapshot.
func CircuitStatus(eng EngineInspector) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"circuits": eng.CircuitStatus()})
	}
}

// UsageSummary aggregates the usage ledger, optionally filtered by
// ?phase= and ?model=.
func UsageSummary(eng EngineInspector) gin.HandlerFunc {
	return func(c *gin.Context) {
		phase := datatypes.Phase(c.Query("phase"))
		if phase != "" && !phase.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown phase"})
			return
		}

		summary := eng.UsageSummary(usage.Filter{
			Phase: phase,
			Model: c.Query("model"),
		})
		c.JSON(http.StatusOK, summary)
	}
}
