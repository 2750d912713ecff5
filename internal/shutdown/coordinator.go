// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package shutdown implements the Shutdown Coordinator: on a process
// termination signal, it drains the Session Registry, cancelling in-flight
// turns, killing PTYs, removing temp dirs, and closing subscriber channels
// through each entry's Close; it does not close sockets itself. It drains
// the registry's dynamic, unbounded set of live sessions and shells
// concurrently with golang.org/x/sync/errgroup rather than in a fixed,
// hand-ordered sequence.
package shutdown

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wingedpig/gatewayd/internal/registry"
)

// Closable is satisfied by both *agent.Session and *shellsession.Shell: a
// best-effort, idempotent teardown that cancels any in-flight work, kills
// owned processes/PTYs, and removes temp state.
type Closable interface {
	Close()
}

// Coordinator drains a Registry on shutdown.
type Coordinator struct {
	reg     *registry.Registry
	logger  *slog.Logger
	timeout time.Duration
}

// New constructs a Coordinator over reg. A zero timeout defaults to 30s.
func New(reg *registry.Registry, logger *slog.Logger, timeout time.Duration) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Coordinator{reg: reg, logger: logger, timeout: timeout}
}

// Drain closes every live registry entry concurrently and removes it,
// best-effort: cleanup errors are logged and swallowed. It returns once
// every entry has been closed or the timeout elapses, whichever comes
// first.
func (c *Coordinator) Drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Info("shutdown: draining session registry", "count", c.reg.Len())

	g, _ := errgroup.WithContext(ctx)
	c.reg.Iter(func(e registry.Entry) {
		entry := e
		g.Go(func() error {
			closable, ok := entry.Value.(Closable)
			if !ok {
				c.logger.Warn("shutdown: registry entry is not closable", "id", entry.ID)
				return nil
			}
			done := make(chan struct{})
			go func() {
				closable.Close()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				c.logger.Warn("shutdown: close timed out", "id", entry.ID)
			}
			return nil
		})
	})
	_ = g.Wait()

	c.reg.Iter(func(e registry.Entry) {
		c.reg.Remove(e.ID)
	})

	c.logger.Info("shutdown: drain complete")
}
