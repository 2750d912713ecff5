// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package catalog implements the Log Reconciler and the durable catalog
// store: it derives session metadata from an agent CLI's append-only
// JSONL session log and reconciles it against persisted catalog rows.
package catalog

import (
	"encoding/json"
	"strings"
	"time"
)

// ContentBlock is one block of a message's content in the agent CLI wire
// contract: text | thinking | tool_use | tool_result.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// SessionMessage is the canonical, replay-ready form of one record from a
// session log file.
type SessionMessage struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

// DerivedMetadata is computed by the Log Reconciler from a session's
// JSONL file.
type DerivedMetadata struct {
	MessageCount        int       `json:"message_count"`
	TotalTokens          int       `json:"total_tokens"`
	FirstMessagePreview string    `json:"first_message_preview"`
	LastMessageAt        time.Time `json:"last_message_at"`
}

// Project is a catalog row representing an imported project.
type Project struct {
	ID   string
	Name string
	Path string
}

// Session is a catalog row, reconciled from a session log file.
type Session struct {
	ID        string
	ProjectID string
	UserID    string
	Metadata  DerivedMetadata
}

// EncodeProjectPath implements the bit-exact filesystem naming scheme:
// every "/" in an absolute path becomes "-" (a leading slash becomes a
// leading dash).
func EncodeProjectPath(path string) string {
	return strings.ReplaceAll(path, "/", "-")
}

// DecodeProjectPath reverses EncodeProjectPath for paths that contained no
// literal dashes before encoding.
func DecodeProjectPath(encoded string) string {
	return strings.ReplaceAll(encoded, "-", "/")
}
