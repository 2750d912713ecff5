// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package agent

import "strings"

// ArgvSpec is the language-neutral input to BuildArgv.
type ArgvSpec struct {
	SessionID                  string
	Resume                     bool
	Continue                   bool
	Model                      string
	PermissionMode             string
	DangerouslySkipPermissions bool
	Stream                     bool // default true: --output-format stream-json --verbose
	AllowedTools               []string
	DisallowedTools            []string
	ImagePaths                 []string
	Prompt                     string
}

// BuildArgv constructs the agent CLI's argv: a non-interactive flag is
// always present; resume/session-id/continue are mutually exclusive;
// streaming output implies verbose; tool allow/deny lists are comma-joined
// single flags; images precede the trailing prompt. It is a pure builder
// over an explicit spec so it can be unit tested without spawning a
// process.
func BuildArgv(spec ArgvSpec) []string {
	argv := []string{"--non-interactive"}

	switch {
	case spec.SessionID != "" && spec.Resume:
		argv = append(argv, "--resume", spec.SessionID)
	case spec.SessionID != "":
		argv = append(argv, "--session-id", spec.SessionID)
	case spec.Continue:
		argv = append(argv, "--continue")
	}

	if spec.Model != "" {
		argv = append(argv, "--model", spec.Model)
	}

	mode := spec.PermissionMode
	if mode == "" && spec.DangerouslySkipPermissions {
		mode = "acceptEdits"
	}
	if mode != "" {
		argv = append(argv, "--permission-mode", mode)
	}

	if spec.Stream {
		argv = append(argv, "--output-format", "stream-json", "--verbose")
	}

	if len(spec.AllowedTools) > 0 {
		argv = append(argv, "--allowedTools", strings.Join(spec.AllowedTools, ","))
	}
	if len(spec.DisallowedTools) > 0 {
		argv = append(argv, "--disallowedTools", strings.Join(spec.DisallowedTools, ","))
	}

	for _, img := range spec.ImagePaths {
		argv = append(argv, "-i", img)
	}

	argv = append(argv, spec.Prompt)
	return argv
}
