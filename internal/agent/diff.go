// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

type editInput struct {
	FilePath  string `json:"file_path"`
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
}

// enrichEditBlock annotates an Edit tool_use block's content with a unified
// diff of the change, for UI consumers that want to render it without
// re-reading the file themselves.
func enrichEditBlock(toolUseID string, input json.RawMessage, workDir string) string {
	if len(input) == 0 {
		return ""
	}
	var edit editInput
	if err := json.Unmarshal(input, &edit); err != nil || edit.FilePath == "" {
		return ""
	}

	path := resolvePath(edit.FilePath, workDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if len(data) > 1024*1024 || isBinaryData(data) {
		return ""
	}
	if len(edit.OldString)+len(edit.NewString) > 50*1024 {
		return ""
	}

	before := string(data)
	after := before
	if edit.OldString != "" {
		after = strings.Replace(before, edit.OldString, edit.NewString, 1)
		if after == before {
			return ""
		}
	} else {
		after = before + edit.NewString
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: edit.FilePath,
		ToFile:   edit.FilePath,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}

func resolvePath(filePath, workDir string) string {
	if strings.HasPrefix(filePath, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, filePath[2:])
		}
	} else if !filepath.IsAbs(filePath) {
		return filepath.Join(workDir, filePath)
	}
	return filePath
}

func isBinaryData(data []byte) bool {
	n := len(data)
	if n > 8192 {
		n = 8192
	}
	for i := 0; i < n; i++ {
		if data[i] == 0 {
			return true
		}
	}
	return false
}
