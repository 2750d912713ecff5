// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package wsrouter

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/wingedpig/gatewayd/internal/agent"
	"github.com/wingedpig/gatewayd/internal/apierr"
	"github.com/wingedpig/gatewayd/internal/catalog"
	"github.com/wingedpig/gatewayd/internal/shellsession"
)

// sendMessageFrame is the inbound payload for session.<id>.send_message.
type sendMessageFrame struct {
	Prompt                     string          `json:"prompt"`
	Images                     []imageFrame    `json:"images,omitempty"`
	Model                      string          `json:"model,omitempty"`
	PermissionMode             string          `json:"permission_mode,omitempty"`
	DangerouslySkipPermissions bool            `json:"dangerously_skip_permissions,omitempty"`
	AllowedTools               []string        `json:"allowed_tools,omitempty"`
	DisallowedTools            []string        `json:"disallowed_tools,omitempty"`
	Resume                     bool            `json:"resume,omitempty"`
	Continue                   bool            `json:"continue,omitempty"`
	ProjectPath                string          `json:"project_path,omitempty"`
	ProjectID                  string          `json:"project_id,omitempty"`
}

type imageFrame struct {
	DataURL string `json:"data_url,omitempty"`
	Path    string `json:"path,omitempty"`
}

// dispatchSession handles session.<id>.<event> frames.
func (c *client) dispatchSession(id, event string, data json.RawMessage) {
	channel := "session." + id

	entry, ok := c.router.reg.Get(id)
	var sess *agent.Session
	if ok {
		s, isSession := entry.Value.(*agent.Session)
		if !isSession {
			c.writeEnvelope(channel+".error", apierr.New(apierr.KindProtocol, "id belongs to a shell, not a session"))
			return
		}
		if !c.authorizeOwner(entry.UserID) {
			return
		}
		sess = s
	}

	switch event {
	case "send_message":
		var frame sendMessageFrame
		if len(data) > 0 {
			if err := json.Unmarshal(data, &frame); err != nil {
				c.writeEnvelope(channel+".error", apierr.New(apierr.KindProtocol, "malformed send_message frame"))
				return
			}
		}

		if sess == nil {
			// First reference to this session id on this socket: session
			// ids are client-generated and accepted verbatim, so the
			// broker creates the live session on first use rather than
			// requiring a separate out-of-band create call.
			projectPath := frame.ProjectPath
			if projectPath == "" {
				c.writeEnvelope(channel+".error", apierr.New(apierr.KindProtocol, "project_path required to start a new session"))
				return
			}
			sess = agent.NewSession(id, c.userID, frame.ProjectID, projectPath, c.router.store, c.router.agentCLI)
			sess.Authenticate()
			c.router.reg.Put(id, c.userID, sess)
			c.subscribeSession(channel, id, sess)
			c.writeEnvelope("global.connected", map[string]string{"sessionId": id})
		}

		images := make([]agent.Image, 0, len(frame.Images))
		for _, img := range frame.Images {
			images = append(images, agent.Image{DataURL: img.DataURL, Path: img.Path})
		}

		ctx := context.Background()
		if c.router.turnTimeout > 0 {
			// The turn keeps running after this call returns, so the timeout
			// context is released when its deadline passes, not on return.
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.router.turnTimeout)
			time.AfterFunc(c.router.turnTimeout, cancel)
		}

		err := sess.SendMessage(ctx, agent.SendMessageRequest{
			Prompt:                     frame.Prompt,
			Images:                     images,
			Model:                      frame.Model,
			PermissionMode:             frame.PermissionMode,
			DangerouslySkipPermissions: frame.DangerouslySkipPermissions,
			AllowedTools:               frame.AllowedTools,
			DisallowedTools:            frame.DisallowedTools,
			Resume:                     frame.Resume,
			Continue:                   frame.Continue,
		}, c.router.logger)
		if err != nil {
			c.writeEnvelope(channel+".error", err)
		}

	default:
		c.writeEnvelope(channel+".error", apierr.New(apierr.KindProtocol, "unknown session event: "+event))
	}
}

// subscribeSession starts the fan-out goroutine that relays a Session's
// events as session.<id>.stream_output / message_complete / error frames.
// message_complete is always last for a turn, and no stream_output for
// that turn follows it, because both flow through the same ordered
// channel.
func (c *client) subscribeSession(channel, id string, sess *agent.Session) {
	ch := sess.Subscribe(256)
	go func() {
		defer c.recoverFatal(channel)
		for ev := range ch {
			switch ev.Type {
			case "stream_output":
				c.writeEnvelope(channel+".stream_output", ev.Data)
			case "message_complete":
				c.writeEnvelope(channel+".message_complete", ev.Data)
			case "error":
				c.writeEnvelope(channel+".error", ev.Data)
			default:
				// Synthetic UI events (turn.started, text, tool.*) are
				// forwarded on the same channel namespace so UI consumers
				// that want them can filter by type.
				c.writeEnvelope(channel+"."+ev.Type, ev.Data)
			}
		}
	}()
}

// shellInitFrame is the inbound payload for shell.<id>.init.
type shellInitFrame struct {
	ProjectID   string `json:"project_id"`
	ProjectPath string `json:"project_path"`
	Cols        int    `json:"cols"`
	Rows        int    `json:"rows"`
}

type shellInputFrame struct {
	Data string `json:"data"`
}

type shellResizeFrame struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// dispatchShell handles shell.<id>.<event> frames. A client addresses a
// not-yet-created shell with the literal id "new"; the broker mints the
// real, broker-generated id and reports it back via initialized.
func (c *client) dispatchShell(id, event string, data json.RawMessage) {
	if id == "new" {
		if event != "init" {
			c.writeEnvelope("shell.new.error", apierr.New(apierr.KindProtocol, "a new shell must be addressed with init first"))
			return
		}
		c.createShell(data)
		return
	}

	channel := "shell." + id
	entry, ok := c.router.reg.Get(id)
	if !ok {
		c.writeEnvelope(channel+".error", apierr.New(apierr.KindProtocol, "unknown shell id"))
		return
	}
	shell, isShell := entry.Value.(*shellsession.Shell)
	if !isShell {
		c.writeEnvelope(channel+".error", apierr.New(apierr.KindProtocol, "id belongs to a session, not a shell"))
		return
	}
	if !c.authorizeOwner(entry.UserID) {
		return
	}

	switch event {
	case "input":
		var frame shellInputFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.writeEnvelope(channel+".error", apierr.New(apierr.KindProtocol, "malformed input frame"))
			return
		}
		if err := shell.Input([]byte(frame.Data)); err != nil {
			c.writeEnvelope(channel+".error", apierr.Wrap(apierr.KindProtocol, "input failed", err))
		}
	case "resize":
		var frame shellResizeFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.writeEnvelope(channel+".error", apierr.New(apierr.KindProtocol, "malformed resize frame"))
			return
		}
		if err := shell.Resize(frame.Cols, frame.Rows); err != nil {
			c.writeEnvelope(channel+".error", apierr.Wrap(apierr.KindProtocol, "resize failed", err))
		}
	default:
		c.writeEnvelope(channel+".error", apierr.New(apierr.KindProtocol, "unknown shell event: "+event))
	}
}

func (c *client) createShell(data json.RawMessage) {
	var frame shellInitFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.writeEnvelope("shell.new.error", apierr.New(apierr.KindProtocol, "malformed init frame"))
		return
	}
	projectPath := frame.ProjectPath
	if projectPath == "" && frame.ProjectID != "" && c.router.store != nil {
		// When only an id was supplied, treat it as an encoded project
		// directory name: decode it to a path and upsert that path into the
		// catalog.
		if proj, err := c.router.store.ProjectUpsertByPath("", catalog.DecodeProjectPath(frame.ProjectID)); err == nil {
			projectPath = proj.Path
		}
	}
	if projectPath == "" {
		c.writeEnvelope("shell.new.error", apierr.New(apierr.KindProtocol, "project_path required to init a shell"))
		return
	}
	projectPath = filepath.Clean(projectPath)

	id := c.newShellID()
	shell := shellsession.New(id, frame.ProjectID, c.userID)
	c.router.reg.Put(id, c.userID, shell)

	channel := "shell." + id
	ch := shell.Subscribe(256)
	go func() {
		defer c.recoverFatal(channel)
		for ev := range ch {
			c.writeEnvelope(channel+"."+ev.Type, ev.Data)
		}
	}()

	if err := shell.Init(projectPath, frame.Cols, frame.Rows); err != nil {
		c.writeEnvelope(channel+".error", apierr.Wrap(apierr.KindIO, "failed to start shell", err))
		c.router.reg.Remove(id)
		return
	}
}

func (c *client) newShellID() string {
	if c.router.newShellID != nil {
		return c.router.newShellID()
	}
	return uuid.New().String()
}
