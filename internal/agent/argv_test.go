// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildArgv_AlwaysNonInteractive(t *testing.T) {
	argv := BuildArgv(ArgvSpec{Prompt: "hi"})
	assert.Equal(t, "--non-interactive", argv[0])
}

func TestBuildArgv_ResumeTakesPriorityOverSessionID(t *testing.T) {
	argv := BuildArgv(ArgvSpec{SessionID: "abc", Resume: true, Prompt: "hi"})
	assert.Contains(t, argv, "--resume")
	assert.NotContains(t, argv, "--session-id")
}

func TestBuildArgv_SessionIDWithoutResume(t *testing.T) {
	argv := BuildArgv(ArgvSpec{SessionID: "abc", Prompt: "hi"})
	assert.Contains(t, argv, "--session-id")
	assert.NotContains(t, argv, "--resume")
}

func TestBuildArgv_ContinueOnlyWhenNoSessionID(t *testing.T) {
	argv := BuildArgv(ArgvSpec{Continue: true, Prompt: "hi"})
	assert.Contains(t, argv, "--continue")

	argv = BuildArgv(ArgvSpec{SessionID: "abc", Continue: true, Prompt: "hi"})
	assert.NotContains(t, argv, "--continue")
}

func TestBuildArgv_DangerouslySkipPermissionsMapsToAcceptEditsWhenNoModeGiven(t *testing.T) {
	argv := BuildArgv(ArgvSpec{DangerouslySkipPermissions: true, Prompt: "hi"})
	assert.Contains(t, argv, "--permission-mode")
	idx := indexOf(argv, "--permission-mode")
	assert.Equal(t, "acceptEdits", argv[idx+1])
}

func TestBuildArgv_ExplicitPermissionModeWins(t *testing.T) {
	argv := BuildArgv(ArgvSpec{DangerouslySkipPermissions: true, PermissionMode: "plan", Prompt: "hi"})
	idx := indexOf(argv, "--permission-mode")
	assert.Equal(t, "plan", argv[idx+1])
}

func TestBuildArgv_StreamingEmitsVerbose(t *testing.T) {
	argv := BuildArgv(ArgvSpec{Stream: true, Prompt: "hi"})
	assert.Contains(t, argv, "--output-format")
	assert.Contains(t, argv, "--verbose")
}

func TestBuildArgv_ToolListsAreCommaJoined(t *testing.T) {
	argv := BuildArgv(ArgvSpec{
		AllowedTools:    []string{"Bash", "Read"},
		DisallowedTools: []string{"Write"},
		Prompt:          "hi",
	})
	idx := indexOf(argv, "--allowedTools")
	assert.Equal(t, "Bash,Read", argv[idx+1])
	idx = indexOf(argv, "--disallowedTools")
	assert.Equal(t, "Write", argv[idx+1])
}

func TestBuildArgv_ImagesPrecedeTrailingPrompt(t *testing.T) {
	argv := BuildArgv(ArgvSpec{
		ImagePaths: []string{"/tmp/a.png", "/tmp/b.png"},
		Prompt:     "describe these",
	})
	assert.Equal(t, "describe these", argv[len(argv)-1])
	ia := indexOf(argv, "/tmp/a.png")
	ib := indexOf(argv, "/tmp/b.png")
	assert.True(t, ia < ib)
	assert.True(t, ib < len(argv)-1)
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
