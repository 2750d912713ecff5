// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatewayd.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// HJSON comments are allowed
		server: { host: "0.0.0.0", port: 9000 }
		agent: { path: "claude-code" }
	}`), 0o644))

	loader := NewLoader()
	cfg, err := loader.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "claude-code", cfg.Agent.Path)
}

func TestLoaderLoadMissingFile(t *testing.T) {
	loader := NewLoader()
	_, err := loader.Load(context.Background(), "/does/not/exist.hjson")
	assert.Error(t, err)
}

func TestLoadWithDefaultsAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatewayd.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	loader := NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "claude", cfg.Agent.Path)
	assert.Equal(t, "10m", cfg.Agent.TurnTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
}

func TestApplyDefaultsDoesNotOverrideSetFields(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 1234
	cfg.Agent.Path = "my-agent"
	ApplyDefaults(cfg)
	assert.Equal(t, 1234, cfg.Server.Port)
	assert.Equal(t, "my-agent", cfg.Agent.Path)
}

func TestFindConfigNotFound(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	loader := NewLoader()
	_, err = loader.FindConfig()
	assert.Error(t, err)
}

func TestFindConfigPrefersHJSON(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	require.NoError(t, os.WriteFile("gatewayd.hjson", []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile("gatewayd.json", []byte("{}"), 0o644))

	loader := NewLoader()
	found, err := loader.FindConfig()
	require.NoError(t, err)
	assert.Contains(t, found, "gatewayd.hjson")
}
