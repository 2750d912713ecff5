// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package jsonl implements incremental newline-delimited JSON framing over
// an arbitrary byte stream, tolerant of malformed lines and chunk
// boundaries that split a record across reads.
package jsonl

import (
	"bytes"
	"encoding/json"
	"log/slog"
)

// Event is one successfully parsed line, carried as a raw JSON object so
// callers can unmarshal into whatever typed shape they need.
type Event struct {
	Raw json.RawMessage
}

// Parser maintains the carry buffer across chunk boundaries.
type Parser struct {
	carry  []byte
	logger *slog.Logger
}

// New creates a Parser. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Feed consumes one chunk and returns the events completed by it, in order.
// A line that fails to parse as JSON is discarded and logged at debug
// level; it never blocks or breaks the pipeline.
func (p *Parser) Feed(chunk []byte) []Event {
	buf := append(p.carry, chunk...)
	lines := bytes.Split(buf, []byte("\n"))

	// The last element is a possibly-partial line; carry it forward.
	p.carry = append([]byte(nil), lines[len(lines)-1]...)
	lines = lines[:len(lines)-1]

	events := make([]Event, 0, len(lines))
	for _, line := range lines {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		if !json.Valid(trimmed) {
			p.logger.Debug("jsonl: discarding malformed line", "line", string(trimmed))
			continue
		}
		events = append(events, Event{Raw: json.RawMessage(append([]byte(nil), trimmed...))})
	}
	return events
}

// Flush returns an event for any complete JSON object left in the carry
// buffer (e.g. a final line with no trailing newline) and resets it.
// Call this once after the underlying stream has been fully consumed.
func (p *Parser) Flush() []Event {
	trimmed := bytes.TrimSpace(p.carry)
	p.carry = nil
	if len(trimmed) == 0 {
		return nil
	}
	if !json.Valid(trimmed) {
		p.logger.Debug("jsonl: discarding malformed trailing line", "line", string(trimmed))
		return nil
	}
	return []Event{{Raw: json.RawMessage(append([]byte(nil), trimmed...))}}
}
