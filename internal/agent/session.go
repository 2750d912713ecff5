// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wingedpig/gatewayd/internal/apierr"
	"github.com/wingedpig/gatewayd/internal/catalog"
	"github.com/wingedpig/gatewayd/internal/jsonl"
	"github.com/wingedpig/gatewayd/internal/procrunner"
)

// Authenticate transitions Unauthenticated/Connected into Idle once the
// caller has verified the socket's bearer token against this session's
// owner.
func (s *Session) Authenticate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
}

// SendMessage runs one agent turn: writes any images to a fresh temp
// directory, builds argv, spawns the agent CLI, streams its NDJSON output
// as stream_output events, and on completion reconciles the session log
// and emits a single message_complete event.
//
// It returns immediately after validating preconditions; the turn itself
// runs on a background goroutine and reports back exclusively through the
// event channel obtained via Subscribe. A concurrent call while a turn is
// already in flight returns a busy *apierr.Error without starting anything
// — exactly one turn runs per session at a time.
func (s *Session) SendMessage(ctx context.Context, req SendMessageRequest, logger *slog.Logger) error {
	s.mu.Lock()
	if s.state == StateTurnInFlight {
		s.mu.Unlock()
		return apierr.New(apierr.KindBusy, "a turn is already in flight for this session")
	}
	if s.state != StateIdle && s.state != StateError {
		s.mu.Unlock()
		return apierr.New(apierr.KindProtocol, "send_message received outside Idle state")
	}

	turnCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateTurnInFlight
	s.mu.Unlock()

	imageDir, imagePaths, err := writeTempImages(s.ProjectPath, req.Images)
	if err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.cancel = nil
		s.mu.Unlock()
		return apierr.Wrap(apierr.KindIO, "failed to materialize image attachments", err)
	}
	s.mu.Lock()
	s.tempImageDir = imageDir
	s.mu.Unlock()

	s.mu.Lock()
	hasRun := s.hasRun
	s.mu.Unlock()

	argv := BuildArgv(ArgvSpec{
		SessionID:                  s.ID,
		Resume:                     req.Resume && hasRun,
		Continue:                   req.Continue,
		Model:                      req.Model,
		PermissionMode:             req.PermissionMode,
		DangerouslySkipPermissions: req.DangerouslySkipPermissions,
		Stream:                     true,
		AllowedTools:               req.AllowedTools,
		DisallowedTools:            req.DisallowedTools,
		ImagePaths:                 imagePaths,
		Prompt:                     req.Prompt,
	})

	go s.runTurn(turnCtx, argv, logger)
	return nil
}

func (s *Session) runTurn(ctx context.Context, argv []string, logger *slog.Logger) {
	parser := jsonl.New(logger)
	acc := &turnAccumulator{workDir: s.ProjectPath}
	var events []json.RawMessage

	emit := func(raw json.RawMessage) {
		events = append(events, raw)
		s.fanOut(Event{Type: "stream_output", Data: raw})
		for _, synth := range acc.synthesize(raw) {
			s.fanOut(synth)
		}
	}

	spec := procrunner.Spec{
		Path: s.agent.Path,
		Argv: argv,
		Cwd:  s.ProjectPath,
		OnStdout: func(chunk []byte) {
			for _, ev := range parser.Feed(chunk) {
				emit(ev.Raw)
			}
		},
	}

	result, runErr := procrunner.Run(ctx, spec)

	// The child may exit without a trailing newline on its last record;
	// Flush recovers whatever is left in the carry buffer so it isn't
	// silently stranded.
	for _, ev := range parser.Flush() {
		emit(ev.Raw)
	}

	s.mu.Lock()
	tempDir := s.tempImageDir
	s.tempImageDir = ""
	s.cancel = nil
	s.mu.Unlock()
	if tempDir != "" {
		_ = os.RemoveAll(tempDir)
	}

	if runErr != nil || result.Status != procrunner.StatusExited || result.ExitCode != 0 {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		details := map[string]any{
			"exitCode": result.ExitCode,
			"stderr":   string(result.Stderr),
			"stdout":   string(result.Stdout),
			"duration": result.Duration.String(),
		}
		kind := apierr.KindChildExitNonzero
		if result.Status == procrunner.StatusTimeout {
			kind = apierr.KindChildTimeout
		}
		s.fanOut(Event{Type: "error", Data: apierr.New(kind, "agent CLI run failed").WithDetails(details)})
		return
	}

	meta, _, reconcileErr := catalog.Reconcile(s.logPath)
	if reconcileErr != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		s.fanOut(Event{Type: "error", Data: apierr.Wrap(apierr.KindIO, "reconciliation failed", reconcileErr)})
		return
	}

	if s.store != nil {
		if err := s.store.SessionUpsert(s.ID, s.ProjectID, s.UserID, meta); err != nil {
			logger.Warn("catalog upsert failed after turn", "session", s.ID, "err", err)
		}
	}

	s.mu.Lock()
	s.state = StateIdle
	s.hasRun = true
	s.mu.Unlock()
	s.fanOut(Event{Type: "message_complete", Data: TurnComplete{Metadata: meta, Events: events}})
}

// Cancel tears down an in-flight turn: cancel the child, wait is handled by
// procrunner's own context plumbing via cmd.Cancel, and clean up temp
// images. Safe to call when no turn is in flight.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	tempDir := s.tempImageDir
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if tempDir != "" {
		_ = os.RemoveAll(tempDir)
	}
}

// Close cancels any in-flight turn, deletes temp images, and closes
// subscriber channels. Registry removal is the caller's responsibility.
func (s *Session) Close() {
	s.Cancel()
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.closeAllSubscribers()
}

// writeTempImages materializes inbound images under
// <projectPath>/.tmp/images/<unix-ms>/image-<i>.<ext>. Base64 data URLs
// are decoded; raw paths are copied byte-for-byte.
func writeTempImages(projectPath string, images []Image) (string, []string, error) {
	if len(images) == 0 {
		return "", nil, nil
	}

	dir := filepath.Join(projectPath, ".tmp", "images", strconv.FormatInt(unixMillis(), 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create temp image dir: %w", err)
	}

	var paths []string
	for i, img := range images {
		ext, data, err := decodeImage(img)
		if err != nil {
			os.RemoveAll(dir)
			return "", nil, err
		}
		path := filepath.Join(dir, fmt.Sprintf("image-%d%s", i, ext))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("write image %d: %w", i, err)
		}
		paths = append(paths, path)
	}
	return dir, paths, nil
}

func decodeImage(img Image) (ext string, data []byte, err error) {
	if img.DataURL != "" {
		mediaType, payload, ok := strings.Cut(img.DataURL, ";base64,")
		if !ok {
			return "", nil, fmt.Errorf("malformed data URL")
		}
		mediaType = strings.TrimPrefix(mediaType, "data:")
		ext = extFromMediaType(mediaType)
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, fmt.Errorf("decode base64 image: %w", err)
		}
		return ext, data, nil
	}
	if img.Path != "" {
		data, err = os.ReadFile(img.Path)
		if err != nil {
			return "", nil, fmt.Errorf("read image %s: %w", img.Path, err)
		}
		return filepath.Ext(img.Path), data, nil
	}
	return "", nil, fmt.Errorf("image has neither DataURL nor Path")
}

func extFromMediaType(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
