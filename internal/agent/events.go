// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package agent

import "encoding/json"

// streamInner mirrors the tagged-variant NDJSON line the agent CLI emits
// under --output-format stream-json --verbose. Fields irrelevant to a
// given type are simply left as json.RawMessage and ignored.
type streamInner struct {
	Type         string          `json:"type"`
	ContentBlock json.RawMessage `json:"content_block,omitempty"`
	Delta        json.RawMessage `json:"delta,omitempty"`
	Message      json.RawMessage `json:"message,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`
}

type contentBlockHeader struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type deltaPayload struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// turnAccumulator tracks the synthetic turn.*/text/tool.* events emitted
// for UI consumers, derived by replaying the content_block_start/
// content_block_delta/content_block_stop state machine as a pure
// accumulator over raw NDJSON lines rather than a method on the live
// Session, so it can be tested without a child process.
type turnAccumulator struct {
	started    bool
	current    *contentBlockHeader
	text       string
	partialArg string
	workDir    string
}

// synthesize derives zero or more synthetic UI events (turn.started, text,
// tool.started, tool.completed, tool.diff, turn.completed) from one raw
// NDJSON line.
func (t *turnAccumulator) synthesize(raw json.RawMessage) []Event {
	var inner streamInner
	if json.Unmarshal(raw, &inner) != nil {
		return nil
	}

	var out []Event
	if !t.started {
		t.started = true
		out = append(out, Event{Type: "turn.started"})
	}

	switch inner.Type {
	case "content_block_start":
		if len(inner.ContentBlock) == 0 {
			return out
		}
		var hdr contentBlockHeader
		if json.Unmarshal(inner.ContentBlock, &hdr) != nil {
			return out
		}
		t.current = &hdr
		t.partialArg = ""
		if hdr.Type == "tool_use" {
			out = append(out, Event{Type: "tool.started", Data: map[string]string{
				"id": hdr.ID, "name": hdr.Name,
			}})
		}

	case "content_block_delta":
		if len(inner.Delta) == 0 || t.current == nil {
			return out
		}
		var d deltaPayload
		if json.Unmarshal(inner.Delta, &d) != nil {
			return out
		}
		switch d.Type {
		case "text_delta":
			t.text += d.Text
			out = append(out, Event{Type: "text", Data: d.Text})
		case "input_json_delta":
			t.partialArg += d.PartialJSON
		}

	case "content_block_stop":
		if t.current != nil && t.current.Type == "tool_use" {
			out = append(out, Event{Type: "tool.completed", Data: map[string]string{
				"id": t.current.ID, "name": t.current.Name,
			}})
			if t.current.Name == "Edit" && t.partialArg != "" {
				if diff := enrichEditBlock(t.current.ID, json.RawMessage(t.partialArg), t.workDir); diff != "" {
					out = append(out, Event{Type: "tool.diff", Data: map[string]string{
						"id": t.current.ID, "diff": diff,
					}})
				}
			}
		}
		t.current = nil
		t.partialArg = ""

	case "result":
		out = append(out, Event{Type: "turn.completed", Data: map[string]bool{"is_error": inner.IsError}})
	}

	return out
}
