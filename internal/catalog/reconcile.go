// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// rawRecord is one line of an agent CLI session log file.
type rawRecord struct {
	Type      string          `json:"type"`
	Role      string          `json:"role,omitempty"`
	ID        string          `json:"id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Usage     *usage          `json:"usage,omitempty"`
	CWD       string          `json:"cwd,omitempty"`
}

type usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type messageEnvelope struct {
	Content json.RawMessage `json:"content,omitempty"`
	Usage   *usage          `json:"usage,omitempty"`
}

func (u usage) total() int {
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// discriminator returns the record's type, falling back to its role field
// when type is absent.
func (r rawRecord) discriminator() string {
	if r.Type != "" {
		return r.Type
	}
	return r.Role
}

// parseTimestamp accepts either an RFC3339 string or an epoch-millisecond
// number, since both shapes appear in agent CLI logs observed in practice.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, true
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
		return time.Time{}, false
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}

// parseContentField normalizes a record's content, which may be a bare
// string or a list of typed blocks.
func parseContentField(raw json.RawMessage) []ContentBlock {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []ContentBlock{{Type: "text", Text: s}}
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return blocks
	}
	return nil
}

// previewText concatenates text-block text with single-space joins to
// build the first-message preview. String content arrives as a single
// synthetic text block, so the same code path handles both shapes.
func previewText(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, " ")
}

// truncateRunes keeps the first n code points of s.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	var lines [][]byte
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// Reconcile reads the session log at path and derives its metadata plus a
// canonical replay-ready message list.
//
// A missing file is not an error: it yields zero-valued metadata with
// FirstMessagePreview "(No messages)" and an empty message list. Other I/O
// errors propagate. Individual malformed lines are silently skipped and
// never cause Reconcile to fail.
func Reconcile(path string) (DerivedMetadata, []SessionMessage, error) {
	lines, err := readLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DerivedMetadata{FirstMessagePreview: "(No messages)"}, nil, nil
		}
		return DerivedMetadata{}, nil, fmt.Errorf("catalog: read session log %s: %w", path, err)
	}

	var meta DerivedMetadata
	var messages []SessionMessage
	var firstPreviewSet bool

	for _, line := range lines {
		var rec rawRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}

		if ts, ok := parseTimestamp(rec.Timestamp); ok {
			if ts.After(meta.LastMessageAt) {
				meta.LastMessageAt = ts
			}
		}

		disc := rec.discriminator()
		if disc != "user" && disc != "assistant" {
			continue
		}

		var content []ContentBlock
		var recUsage *usage
		if len(rec.Message) > 0 {
			var env messageEnvelope
			if json.Unmarshal(rec.Message, &env) == nil {
				content = parseContentField(env.Content)
				recUsage = env.Usage
			}
		}
		if len(content) == 0 {
			content = parseContentField(rec.Content)
		}
		if recUsage == nil {
			recUsage = rec.Usage
		}

		meta.MessageCount++
		if disc == "assistant" && recUsage != nil {
			meta.TotalTokens += recUsage.total()
		}

		if disc == "user" && !firstPreviewSet {
			preview := previewText(content)
			if preview != "" {
				meta.FirstMessagePreview = truncateRunes(preview, 100)
				firstPreviewSet = true
			}
		}

		id := rec.ID
		ts, ok := parseTimestamp(rec.Timestamp)
		if !ok {
			ts = time.Now()
		}
		if id == "" {
			id = strconv.FormatInt(ts.UnixMilli(), 10) + "-" + disc
		}

		role := disc
		if rec.Role != "" {
			role = rec.Role
		}

		messages = append(messages, SessionMessage{
			ID:        id,
			Role:      role,
			Content:   content,
			Timestamp: ts,
		})
	}

	if !firstPreviewSet {
		meta.FirstMessagePreview = "(No messages)"
	}
	if meta.LastMessageAt.IsZero() {
		meta.LastMessageAt = time.Now()
	}

	return meta, messages, nil
}
