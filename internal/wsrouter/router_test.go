// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package wsrouter

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/gatewayd/internal/agent"
	"github.com/wingedpig/gatewayd/internal/registry"
)

const testSecret = "test-secret"

func signToken(t *testing.T, userID string) string {
	t.Helper()
	claims := Claims{UserID: userID}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func newTestServer(t *testing.T, cliPath string) (*httptest.Server, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	r := New(Options{
		Registry:       reg,
		AgentCLI:       agent.AgentCLI{Path: cliPath},
		JWTSecret:      testSecret,
		AllowedOrigins: []string{"*"},
		TurnTimeout:    5 * time.Second,
	})
	router := mux.NewRouter()
	r.Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, reg
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var env envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func readEnvelopeOfType(t *testing.T, conn *websocket.Conn, want string, timeout time.Duration) envelope {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("reading envelope: %v", err)
		}
		if env.Type == want {
			return env
		}
	}
	t.Fatalf("timed out waiting for envelope type %q", want)
	return envelope{}
}

func writeFakeAgentCLI(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-agent.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestServeHTTP_RejectsMissingToken(t *testing.T) {
	srv, _ := newTestServer(t, "/bin/true")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestSendMessage_NewSessionRoundTrip(t *testing.T) {
	cliPath := writeFakeAgentCLI(t, `cat <<'EOF'
{"type":"content_block_start","content_block":{"type":"text"}}
{"type":"content_block_delta","delta":{"type":"text_delta","text":"hi"}}
{"type":"content_block_stop"}
{"type":"result","is_error":false}
EOF`)

	srv, reg := newTestServer(t, cliPath)
	token := signToken(t, "user-1")
	conn := dial(t, srv, token)

	projectPath := t.TempDir()
	data, _ := json.Marshal(sendMessageFrame{Prompt: "hello", ProjectPath: projectPath})
	require.NoError(t, conn.WriteJSON(envelope{Type: "session.sess-1.send_message", Data: data}))

	connected := readEnvelopeOfType(t, conn, "global.connected", 2*time.Second)
	assert.Contains(t, string(connected.Data), "sess-1")

	readEnvelopeOfType(t, conn, "session.sess-1.message_complete", 5*time.Second)

	_, ok := reg.Get("sess-1")
	assert.True(t, ok)
}

func TestSendMessage_BusyRejectsSecondTurn(t *testing.T) {
	cliPath := writeFakeAgentCLI(t, `sleep 2`)
	srv, _ := newTestServer(t, cliPath)
	token := signToken(t, "user-1")
	conn := dial(t, srv, token)

	projectPath := t.TempDir()
	data, _ := json.Marshal(sendMessageFrame{Prompt: "hello", ProjectPath: projectPath})
	require.NoError(t, conn.WriteJSON(envelope{Type: "session.sess-2.send_message", Data: data}))
	readEnvelopeOfType(t, conn, "global.connected", 2*time.Second)

	require.NoError(t, conn.WriteJSON(envelope{Type: "session.sess-2.send_message", Data: data}))
	errEnv := readEnvelopeOfType(t, conn, "session.sess-2.error", 2*time.Second)
	assert.Contains(t, string(errEnv.Data), "busy")
}

func TestDispatch_UnknownPrefixProducesGlobalError(t *testing.T) {
	srv, _ := newTestServer(t, "/bin/true")
	token := signToken(t, "user-1")
	conn := dial(t, srv, token)

	require.NoError(t, conn.WriteJSON(envelope{Type: "bogus.nonsense"}))
	env := readEnvelopeOfType(t, conn, "global.error", 2*time.Second)
	assert.Contains(t, string(env.Data), "Unknown event type")
}

func TestShellInit_MintsBrokerGeneratedID(t *testing.T) {
	srv, reg := newTestServer(t, "/bin/true")
	token := signToken(t, "user-1")
	conn := dial(t, srv, token)

	projectPath := t.TempDir()
	data, _ := json.Marshal(shellInitFrame{ProjectPath: projectPath, Cols: 80, Rows: 24})
	require.NoError(t, conn.WriteJSON(envelope{Type: "shell.new.init", Data: data}))

	env := readEnvelope(t, conn, 3*time.Second)
	require.True(t, strings.HasPrefix(env.Type, "shell."))
	assert.True(t, strings.HasSuffix(env.Type, ".initialized"))

	shellID := strings.TrimSuffix(strings.TrimPrefix(env.Type, "shell."), ".initialized")
	_, ok := reg.Get(shellID)
	assert.True(t, ok)
}
