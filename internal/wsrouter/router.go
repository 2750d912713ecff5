// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package wsrouter implements the WebSocket Router: one multiplexed
// WebSocket per client, authenticated by a bearer token in the query
// string, dispatching inbound frames to the Agent or Shell Session Engine
// by a dotted type discriminator and fanning out their outbound events
// back onto the same socket.
package wsrouter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wingedpig/gatewayd/internal/agent"
	"github.com/wingedpig/gatewayd/internal/apierr"
	"github.com/wingedpig/gatewayd/internal/catalog"
	"github.com/wingedpig/gatewayd/internal/registry"
	"github.com/wingedpig/gatewayd/internal/shellsession"
)

// envelope is the wire protocol's outer shape in both directions:
// {type: <string>, data?: <any>}.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Claims are the bearer token's decoded payload; UserID is checked against
// the owning userId of every session/shell the client addresses.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// Router wires the WebSocket surface to the Agent Session Engine, Shell
// Session Engine, and Session Registry.
type Router struct {
	reg      *registry.Registry
	store    *catalog.Store
	agentCLI agent.AgentCLI
	secret   []byte
	logger   *slog.Logger
	upgrader websocket.Upgrader

	turnTimeout time.Duration

	newShellID func() string
}

// Options configures a Router.
type Options struct {
	Registry       *registry.Registry
	Store          *catalog.Store
	AgentCLI       agent.AgentCLI
	JWTSecret      string
	Logger         *slog.Logger
	AllowedOrigins []string
	TurnTimeout    time.Duration
	NewShellID     func() string // overridable for tests; defaults to uuid.New
}

// New constructs a Router.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		reg:         opts.Registry,
		store:       opts.Store,
		agentCLI:    opts.AgentCLI,
		secret:      []byte(opts.JWTSecret),
		logger:      logger,
		turnTimeout: opts.TurnTimeout,
		newShellID:  opts.NewShellID,
	}
	r.upgrader = websocket.Upgrader{
		CheckOrigin: originChecker(opts.AllowedOrigins),
	}
	return r
}

// Register wires the WebSocket endpoint onto an existing gorilla/mux
// router, grounded on internal/api/router.go's route-registration style.
func (r *Router) Register(mux *mux.Router) {
	mux.HandleFunc("/ws", r.ServeHTTP)
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(req *http.Request) bool {
		for _, o := range allowed {
			if o == "*" {
				return true
			}
			if o == req.Header.Get("Origin") {
				return true
			}
		}
		return len(allowed) == 0
	}
}

// ServeHTTP upgrades the connection, authenticates the bearer token query
// parameter, and runs the per-client multiplexed read/write loop.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	token := req.URL.Query().Get("token")
	userID, err := r.verifyToken(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := &client{
		router:  r,
		conn:    conn,
		userID:  userID,
		limiter: rate.NewLimiter(rate.Limit(50), 100), // 50 msgs/s, burst 100
	}
	c.run()
}

// verifyToken decodes and validates a bearer token with HS256 using the
// gateway's JWT_SECRET.
func (r *Router) verifyToken(token string) (string, error) {
	if token == "" {
		return "", apierr.New(apierr.KindAuth, "missing bearer token")
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", apierr.New(apierr.KindAuth, "invalid bearer token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return "", apierr.New(apierr.KindAuth, "token missing user_id claim")
	}
	return claims.UserID, nil
}

// client is one authenticated socket. Its writeEnvelope marshals an
// outbound frame under writeMu, matching claude.go's writeJSON-under-writeMu
// pattern.
type client struct {
	router  *Router
	conn    *websocket.Conn
	userID  string
	writeMu sync.Mutex
	limiter *rate.Limiter
}

func (c *client) writeEnvelope(typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(envelope{Type: typ, Data: payload})
}

func (c *client) writeGlobalError(message string) {
	c.writeEnvelope("global.error", map[string]string{"message": message})
}

// run drives one client socket's lifetime: ping/pong keepalive, a
// non-blocking inbound-frame reader, and the dispatch loop, grounded on
// claude.go's serveSession structure.
func (c *client) run() {
	logger := c.router.logger

	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()
	go func() {
		for range pingTicker.C {
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	readCh := make(chan envelope, 16)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			_, raw, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			var env envelope
			if json.Unmarshal(raw, &env) != nil {
				c.writeGlobalError("malformed frame")
				continue
			}
			readCh <- env
		}
	}()

	for {
		select {
		case env := <-readCh:
			if !c.limiter.Allow() {
				c.writeGlobalError("rate limit exceeded")
				continue
			}
			c.dispatch(env)
		case <-closed:
			c.teardown(logger)
			return
		}
	}
}

func (c *client) teardown(logger *slog.Logger) {
	entries := c.router.reg.FilterByUser(c.userID)
	for _, e := range entries {
		switch v := e.Value.(type) {
		case *agent.Session:
			v.Close()
		case *shellsession.Shell:
			v.Close()
		}
		c.router.reg.Remove(e.ID)
	}
	logger.Debug("wsrouter: client disconnected", "user", c.userID)
}

// dispatch splits the type discriminator on "." and routes to the Agent or
// Shell engine. Unknown prefixes produce global.error.
func (c *client) dispatch(env envelope) {
	parts := strings.SplitN(env.Type, ".", 3)
	if len(parts) < 2 {
		c.writeGlobalError("Unknown event type: " + env.Type)
		return
	}

	switch parts[0] {
	case "session":
		if len(parts) < 3 {
			c.writeGlobalError("Unknown event type: " + env.Type)
			return
		}
		c.dispatchSession(parts[1], parts[2], env.Data)
	case "shell":
		if len(parts) < 3 {
			c.writeGlobalError("Unknown event type: " + env.Type)
			return
		}
		c.dispatchShell(parts[1], parts[2], env.Data)
	default:
		c.writeGlobalError("Unknown event type: " + env.Type)
	}
}

// recoverFatal catches a panic inside a session task and converts it to a
// session-scoped fatal error frame — the only effect of a per-session
// panic is that this client's handling of it stops; the process and other
// sessions are unaffected.
func (c *client) recoverFatal(channel string) {
	if rec := recover(); rec != nil {
		c.writeEnvelope(channel+".error", apierr.New(apierr.KindFatal, fmt.Sprintf("internal error: %v", rec)))
	}
}

// authorizeOwner closes the socket with policy-violation semantics when the
// connection's principal does not own the session/shell being joined —
// the only unconditional path out of an ownership failure is close(1008).
func (c *client) authorizeOwner(ownerUserID string) bool {
	if ownerUserID == c.userID {
		return true
	}
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "owner mismatch"),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.conn.Close()
	return false
}
