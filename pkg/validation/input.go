// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// storage keys, log lines, or outbound prompts. Using these validators keeps
// key-space pollution and prompt-injection surface down at the ingress.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxTopicLength bounds topic text accepted at the ingress. Long topics are
// almost always pasted article bodies, not topics.
const maxTopicLength = 300

// serviceNamePattern matches valid service names for breaker lookup.
// Allows: lowercase letters, digits, hyphens, underscores.
// Max length: 40 characters.
var serviceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{0,39}$`)

// ValidateTopic validates a content topic submitted through the API or CLI.
//
// Valid topics:
//   - 1-300 characters after trimming
//   - valid UTF-8
//   - no control characters (newlines included; a topic is one line)
//
// Returns an error describing the first violation found.
//
// Example:
//
//	if err := validation.ValidateTopic(req.Topic); err != nil {
//	    return fmt.Errorf("invalid topic: %w", err)
//	}
func ValidateTopic(topic string) error {
	trimmed := strings.TrimSpace(topic)
	if trimmed == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if len(trimmed) > maxTopicLength {
		return fmt.Errorf("topic exceeds %d characters", maxTopicLength)
	}
	if !utf8.ValidString(trimmed) {
		return fmt.Errorf("topic is not valid UTF-8")
	}
	for _, r := range trimmed {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("topic contains control characters")
		}
	}
	return nil
}

// SanitizeTopic normalizes and validates a topic.
// Returns the trimmed topic if valid, or an error if invalid.
func SanitizeTopic(topic string) (string, error) {
	trimmed := strings.TrimSpace(topic)
	if err := ValidateTopic(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// ValidateServiceName validates an external-service name used for circuit
// breaker lookup and metric labels.
//
// Valid names:
//   - 1-40 characters
//   - lowercase letters, digits, hyphens, underscores
//   - must start with a letter or digit
func ValidateServiceName(name string) error {
	if name == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if !serviceNamePattern.MatchString(name) {
		return fmt.Errorf("invalid service name: %q (must be 1-40 lowercase alphanumeric chars, hyphens, or underscores)", name)
	}
	return nil
}

// ValidateKeywords validates research keywords.
// Returns an error listing all invalid keywords if any fail validation.
func ValidateKeywords(keywords []string) error {
	var invalid []string
	for _, k := range keywords {
		if strings.TrimSpace(k) == "" || len(k) > 80 || !utf8.ValidString(k) {
			invalid = append(invalid, k)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid keywords: %v", invalid)
	}
	return nil
}
