// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrichEditBlock_ProducesUnifiedDiff(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\nline three\n"), 0o644))

	input, _ := json.Marshal(editInput{FilePath: "main.go", OldString: "line two", NewString: "line TWO"})
	diff := enrichEditBlock("tool-1", input, dir)

	assert.Contains(t, diff, "-line two")
	assert.Contains(t, diff, "+line TWO")
	assert.Contains(t, diff, "main.go")
}

func TestEnrichEditBlock_MissingFileYieldsEmpty(t *testing.T) {
	input, _ := json.Marshal(editInput{FilePath: "absent.go", OldString: "a", NewString: "b"})
	assert.Equal(t, "", enrichEditBlock("tool-1", input, t.TempDir()))
}

func TestEnrichEditBlock_OldStringNotFoundYieldsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("line one\n"), 0o644))

	input, _ := json.Marshal(editInput{FilePath: "main.go", OldString: "nope", NewString: "x"})
	assert.Equal(t, "", enrichEditBlock("tool-1", input, dir))
}
