// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package shellsession implements the Shell Session Engine: a pseudo-
// terminal running the platform's interactive shell, bridged to a
// WebSocket client. It spawns the PTY directly rather than attaching to a
// multiplexer session, since nothing here needs shells to survive a
// broker restart.
package shellsession

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/creack/pty"
)

// State is the Shell Session Engine's per-shell lifecycle state.
type State int

const (
	StateUnauthenticated State = iota
	StateConnected
	StateInitialised
	StateStreaming
	StateClosed
)

// Event is one item the Shell Session Engine hands to the WebSocket Router
// (output | initialized | exit).
type Event struct {
	Type string
	Data any
}

// Shell is the live state of one shell session.
type Shell struct {
	mu sync.Mutex

	ID        string
	ProjectID string
	UserID    string

	state State
	ptmx  *os.File
	cmd   *exec.Cmd

	subscribers map[chan Event]struct{}
}

// New constructs a shell session in the Connected state, for a socket that
// has already authenticated; Init moves it on to Streaming.
func New(id, projectID, userID string) *Shell {
	return &Shell{
		ID:          id,
		ProjectID:   projectID,
		UserID:      userID,
		state:       StateConnected,
		subscribers: make(map[chan Event]struct{}),
	}
}

func (s *Shell) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Shell) Subscribe(buf int) chan Event {
	ch := make(chan Event, buf)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Shell) Unsubscribe(ch chan Event) {
	s.mu.Lock()
	delete(s.subscribers, ch)
	s.mu.Unlock()
}

// fanOut delivers ev to every subscriber, blocking until each has received
// it so a slow client applies backpressure and PTY bytes are never dropped.
// The subscriber list is snapshotted under the lock and the sends happen
// outside it, so a concurrent Subscribe/Unsubscribe/Close never blocks on
// a slow reader.
func (s *Shell) fanOut(ev Event) {
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

func (s *Shell) closeAllSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
}

// shellCommand returns the platform's interactive shell invocation.
func shellCommand() []string {
	if runtime.GOOS == "windows" {
		return []string{"powershell.exe", "-NoLogo"}
	}
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return []string{shell, "--login"}
}

// Init starts the pseudo-terminal for this shell at projectPath and begins
// streaming its output to subscribers. It must be called exactly once, on
// the first inbound init(projectId, cols, rows) frame.
func (s *Shell) Init(projectPath string, cols, rows int) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return fmt.Errorf("shellsession: init called outside Connected state")
	}
	s.mu.Unlock()

	argv := shellCommand()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = projectPath
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "COLORTERM=truecolor")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return fmt.Errorf("shellsession: start pty: %w", err)
	}

	s.mu.Lock()
	s.ptmx = ptmx
	s.cmd = cmd
	s.state = StateInitialised
	s.mu.Unlock()

	go s.readLoop(cmd, ptmx)

	s.mu.Lock()
	s.state = StateStreaming
	s.mu.Unlock()
	s.fanOut(Event{Type: "initialized", Data: s.ID})
	return nil
}

func (s *Shell) readLoop(cmd *exec.Cmd, ptmx *os.File) {
	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.fanOut(Event{Type: "output", Data: chunk})
		}
		if err != nil {
			break
		}
	}

	waitErr := cmd.Wait()
	exitCode, signal := exitStatus(waitErr)

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.fanOut(Event{Type: "exit", Data: exitInfo{ExitCode: exitCode, Signal: signal}})
}

type exitInfo struct {
	ExitCode int    `json:"exitCode"`
	Signal   string `json:"signal,omitempty"`
}

func exitStatus(err error) (int, string) {
	if err == nil {
		return 0, ""
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), ""
	}
	return -1, ""
}

// Input writes bytes to the PTY unchanged.
func (s *Shell) Input(data []byte) error {
	s.mu.Lock()
	ptmx := s.ptmx
	state := s.state
	s.mu.Unlock()
	if state != StateStreaming || ptmx == nil {
		return fmt.Errorf("shellsession: input received outside Streaming state")
	}
	_, err := ptmx.Write(data)
	return err
}

// Resize resizes the PTY.
func (s *Shell) Resize(cols, rows int) error {
	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()
	if ptmx == nil {
		return fmt.Errorf("shellsession: resize before init")
	}
	return pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Close kills the PTY and its child process on socket close or error.
// Registry removal is the caller's responsibility.
func (s *Shell) Close() {
	s.mu.Lock()
	ptmx := s.ptmx
	cmd := s.cmd
	s.state = StateClosed
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if ptmx != nil {
		_ = ptmx.Close()
	}
	s.closeAllSubscribers()
}

// MarshalEventData renders an Event's Data field for the WebSocket Router's
// outer {type, data} envelope.
func MarshalEventData(ev Event) (json.RawMessage, error) {
	return json.Marshal(ev.Data)
}
