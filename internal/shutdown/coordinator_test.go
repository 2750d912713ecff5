// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package shutdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wingedpig/gatewayd/internal/registry"
)

type fakeClosable struct {
	closed atomic.Bool
}

func (f *fakeClosable) Close() { f.closed.Store(true) }

func TestCoordinator_DrainClosesEveryEntry(t *testing.T) {
	reg := registry.New()
	a := &fakeClosable{}
	b := &fakeClosable{}
	reg.Put("s1", "alice", a)
	reg.Put("s2", "bob", b)

	coord := New(reg, nil, time.Second)
	coord.Drain(context.Background())

	assert.True(t, a.closed.Load())
	assert.True(t, b.closed.Load())
	assert.Equal(t, 0, reg.Len())
}

func TestCoordinator_DrainEmptyRegistryIsNoop(t *testing.T) {
	reg := registry.New()
	coord := New(reg, nil, time.Second)
	coord.Drain(context.Background())
	assert.Equal(t, 0, reg.Len())
}
