// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSONL(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// Scenario 1: empty history fetch.
func TestReconcile_MissingFileYieldsEmptyHistory(t *testing.T) {
	meta, msgs, err := Reconcile(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, "(No messages)", meta.FirstMessagePreview)
	assert.Equal(t, 0, meta.MessageCount)
}

// Scenario 2: single-turn reconciliation.
func TestReconcile_SingleTurn(t *testing.T) {
	path := writeJSONL(t,
		`{"type":"user","message":{"content":"Hello Claude"},"timestamp":"2025-01-01T10:00:00Z"}`,
		`{"type":"assistant","message":{"content":"Hi!"},"timestamp":"2025-01-01T10:00:05Z","usage":{"input_tokens":10,"output_tokens":15,"cache_creation_input_tokens":5,"cache_read_input_tokens":3}}`,
	)

	meta, msgs, err := Reconcile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.MessageCount)
	assert.Equal(t, 33, meta.TotalTokens)
	assert.Equal(t, "Hello Claude", meta.FirstMessagePreview)
	assert.Equal(t, "2025-01-01T10:00:05Z", meta.LastMessageAt.UTC().Format("2006-01-02T15:04:05Z"))
	require.Len(t, msgs, 2)
}

// Scenario 3: block-content preview.
func TestReconcile_BlockContentPreview(t *testing.T) {
	path := writeJSONL(t,
		`{"type":"user","message":{"content":[{"type":"text","text":"First part"},{"type":"text","text":"Second part"}]},"timestamp":"2025-01-01T10:00:00Z"}`,
	)

	meta, _, err := Reconcile(path)
	require.NoError(t, err)
	assert.Equal(t, "First part Second part", meta.FirstMessagePreview)
}

// Scenario 4: malformed-line resilience.
func TestReconcile_MalformedLineResilience(t *testing.T) {
	path := writeJSONL(t,
		`{"type":"user","message":{"content":"hi"},"timestamp":"2025-01-01T10:00:00Z"}`,
		"this is not valid json",
		`{"type":"assistant","message":{"content":"hello"},"timestamp":"2025-01-01T10:00:01Z"}`,
	)

	meta, _, err := Reconcile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.MessageCount)
}

func TestReconcile_Idempotent(t *testing.T) {
	path := writeJSONL(t,
		`{"type":"user","message":{"content":"Hello"},"timestamp":"2025-01-01T10:00:00Z"}`,
		`{"type":"assistant","message":{"content":"Hi"},"timestamp":"2025-01-01T10:00:05Z","usage":{"input_tokens":1,"output_tokens":1,"cache_creation_input_tokens":0,"cache_read_input_tokens":0}}`,
	)

	meta1, _, err := Reconcile(path)
	require.NoError(t, err)
	meta2, _, err := Reconcile(path)
	require.NoError(t, err)
	assert.Equal(t, meta1, meta2)
}

func TestEncodeDecodeProjectPathRoundTrip(t *testing.T) {
	paths := []string{
		"/Users/alice/src/myapp",
		"/home/bob/work",
		"/",
	}
	for _, p := range paths {
		assert.Equal(t, p, DecodeProjectPath(EncodeProjectPath(p)))
	}
}
