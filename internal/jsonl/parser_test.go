// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package jsonl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_SingleChunkMultipleLines(t *testing.T) {
	p := New(nil)
	events := p.Feed([]byte(`{"a":1}` + "\n" + `{"a":2}` + "\n"))
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"a":1}`, string(events[0].Raw))
	assert.JSONEq(t, `{"a":2}`, string(events[1].Raw))
}

func TestParser_SplitMidLine(t *testing.T) {
	p := New(nil)

	// First chunk ends mid-line.
	first := p.Feed([]byte(`{"a":1}` + "\n" + `{"a":2`))
	require.Len(t, first, 1)
	assert.JSONEq(t, `{"a":1}`, string(first[0].Raw))

	// Second chunk completes the carried line and adds another.
	second := p.Feed([]byte(`}` + "\n" + `{"a":3}` + "\n"))
	require.Len(t, second, 2)
	assert.JSONEq(t, `{"a":2}`, string(second[0].Raw))
	assert.JSONEq(t, `{"a":3}`, string(second[1].Raw))
}

func TestParser_MalformedLinesAreSkippedSilently(t *testing.T) {
	p := New(nil)
	events := p.Feed([]byte(
		`{"type":"user"}` + "\n" +
			"this is not valid json" + "\n" +
			`{"type":"assistant"}` + "\n",
	))
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"type":"user"}`, string(events[0].Raw))
	assert.JSONEq(t, `{"type":"assistant"}`, string(events[1].Raw))
}

func TestParser_EmptyLinesSkipped(t *testing.T) {
	p := New(nil)
	events := p.Feed([]byte("\n\n" + `{"a":1}` + "\n\n"))
	require.Len(t, events, 1)
}

func TestParser_ByteByByteChunking(t *testing.T) {
	// Property: regardless of chunk boundaries, feeding byte-by-byte
	// yields the same ordered set of valid JSON lines as one big chunk.
	input := `{"n":1}` + "\n" + `{"n":2}` + "\n" + `{"n":3}` + "\n"
	p := New(nil)
	var got []Event
	for i := 0; i < len(input); i++ {
		got = append(got, p.Feed([]byte{input[i]})...)
	}
	got = append(got, p.Flush()...)

	require.Len(t, got, 3)
	assert.JSONEq(t, `{"n":1}`, string(got[0].Raw))
	assert.JSONEq(t, `{"n":2}`, string(got[1].Raw))
	assert.JSONEq(t, `{"n":3}`, string(got[2].Raw))
}

func TestParser_FlushIncompleteTrailingLine(t *testing.T) {
	p := New(nil)
	events := p.Feed([]byte(`{"a":1}` + "\n" + `{"a":2}`))
	require.Len(t, events, 1)

	flushed := p.Flush()
	require.Len(t, flushed, 1)
	assert.JSONEq(t, `{"a":2}`, string(flushed[0].Raw))
}

func TestParser_FlushMalformedTrailingLineIsDiscarded(t *testing.T) {
	p := New(nil)
	p.Feed([]byte("not json"))
	flushed := p.Flush()
	assert.Empty(t, flushed)
}
