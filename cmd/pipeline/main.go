// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command pipeline starts the Inkwell content pipeline daemon.
//
// The daemon polls for queued tasks, runs them through the research →
// draft → review → image selection → publish pipeline, and serves the
// HTTP control API.
//
// # Configuration
//
// An optional YAML file is given with -config; INKWELL_* environment
// variables override file values. Secrets come only from the environment:
//
//   - OPENAI_API_KEY, ANTHROPIC_API_KEY, OLLAMA_BASE_URL: LLM providers
//   - INKWELL_CMS_TOKEN: CMS bearer token
//   - INKWELL_IMAGES_API_KEY: image provider key
//
// # Usage
//
//	# Build
//	go build -o pipeline ./cmd/pipeline
//
//	# Run
//	./pipeline -config config.yaml
package main

import (
	"flag"
	"log"

	"github.com/AleutianAI/inkwell/services/pipeline"
	"github.com/AleutianAI/inkwell/services/pipeline/config"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	svc, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create pipeline service: %v", err)
	}

	// Run blocks until SIGINT/SIGTERM and performs ordered shutdown.
	if err := svc.Run(); err != nil {
		log.Fatalf("Pipeline service error: %v", err)
	}
}
