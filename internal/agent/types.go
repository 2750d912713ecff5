// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the Agent Session Engine: it spawns the agent
// CLI as a subprocess once per turn, parses its streaming NDJSON output,
// and reconciles state from the CLI's own append-only log after each turn.
package agent

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/wingedpig/gatewayd/internal/catalog"
)

// State is the Agent Session Engine's per-session lifecycle state.
type State int

const (
	StateUnauthenticated State = iota
	StateConnected
	StateIdle
	StateTurnInFlight
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateConnected:
		return "connected"
	case StateIdle:
		return "idle"
	case StateTurnInFlight:
		return "turn_in_flight"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Image is one inbound image attachment for a send_message request, either
// a base64 data URL or a path to an already-on-disk file.
type Image struct {
	DataURL string // "data:image/png;base64,...."
	Path    string
}

// SendMessageRequest is the inbound payload for session.<id>.send_message.
type SendMessageRequest struct {
	Prompt                     string
	Images                     []Image
	Model                      string
	PermissionMode             string
	DangerouslySkipPermissions bool
	AllowedTools               []string
	DisallowedTools            []string
	Resume                     bool
	Continue                   bool
}

// Session is the live state of one agent conversation: the handle to a
// child agent CLI process and the bookkeeping around one turn's lifetime.
type Session struct {
	mu sync.Mutex

	ID          string
	UserID      string
	ProjectID   string
	ProjectPath string

	state State

	hasRun  bool   // true once the first turn has completed; gates --resume vs --session-id
	logPath string // <home>/.<agent>/projects/<encoded>/<sessionId>.jsonl

	cmd          *exec.Cmd
	cancel       context.CancelFunc
	tempImageDir string

	subscribers map[chan Event]struct{}

	store *catalog.Store
	agent AgentCLI
}

// AgentCLI names the executable and argv-building conventions of the
// underlying agent CLI. Kept as a small struct rather than a global so
// tests can point it at a fake binary.
type AgentCLI struct {
	Path string // e.g. "claude"
}

// Event is one item the Agent Session Engine hands to the WebSocket Router
// to forward as an outbound frame (stream_output | message_complete | error,
// plus the synthetic turn.*/text/tool.* events from turnAccumulator).
type Event struct {
	Type string // "stream_output" | "message_complete" | "error" | synthetic type
	Data any
}

// TurnComplete is the message_complete payload: the derived metadata plus
// the full ordered list of raw NDJSON events the turn emitted.
type TurnComplete struct {
	Metadata catalog.DerivedMetadata `json:"metadata"`
	Events   []json.RawMessage       `json:"events"`
}

// NewSession constructs an idle-once-connected session. Callers transition
// it from StateConnected to StateIdle once authentication succeeds.
func NewSession(id, userID, projectID, projectPath string, store *catalog.Store, agentCLI AgentCLI) *Session {
	return &Session{
		ID:          id,
		UserID:      userID,
		ProjectID:   projectID,
		ProjectPath: projectPath,
		state:       StateConnected,
		subscribers: make(map[chan Event]struct{}),
		store:       store,
		agent:       agentCLI,
		logPath:     SessionLogPath(projectPath, id),
	}
}

// SessionLogPath reproduces the agent CLI's own session-file naming:
// <home>/.<agent>/projects/<encoded>/<sessionId>.jsonl.
func SessionLogPath(projectPath, sessionID string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	encoded := catalog.EncodeProjectPath(projectPath)
	return filepath.Join(home, ".claude", "projects", encoded, sessionID+".jsonl")
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a buffered channel for this session's events. The
// channel is never closed by Subscribe; callers unsubscribe explicitly.
func (s *Session) Subscribe(buf int) chan Event {
	ch := make(chan Event, buf)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Session) Unsubscribe(ch chan Event) {
	s.mu.Lock()
	delete(s.subscribers, ch)
	s.mu.Unlock()
}

// fanOut delivers ev to every subscriber, blocking until each has received
// it so a slow client applies backpressure to the turn instead of losing
// events. The subscriber list is snapshotted under the lock and the sends
// happen outside it, so a concurrent Subscribe/Unsubscribe/Close never
// blocks on a slow reader.
func (s *Session) fanOut(ev Event) {
	s.mu.Lock()
	chans := make([]chan Event, 0, len(s.subscribers))
	for ch := range s.subscribers {
		chans = append(chans, ch)
	}
	s.mu.Unlock()

	for _, ch := range chans {
		sendEvent(ch, ev)
	}
}

// sendEvent blocks sending ev to ch, tolerating the case where ch was
// closed out from under it by a concurrent Close.
func sendEvent(ch chan Event, ev Event) {
	defer func() { recover() }()
	ch <- ev
}

func (s *Session) closeAllSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
}

// unixMillis is split out so tests can't accidentally depend on wall-clock
// timing of temp-dir names beyond monotonic uniqueness.
func unixMillis() int64 {
	return time.Now().UnixMilli()
}
