// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for the gateway.
package config

// Config is the root configuration structure for gatewayd.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`
	Catalog CatalogConfig `json:"catalog"`
	Agent   AgentConfig   `json:"agent"`
	Auth    AuthConfig    `json:"auth"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoggingConfig controls the ambient log/slog setup.
type LoggingConfig struct {
	Level  string `json:"level"`  // "debug", "info", "warn", "error"
	Format string `json:"format"` // "json" or "text"
}

// CatalogConfig points at the embedded SQLite store backing the catalog.
type CatalogConfig struct {
	Path string `json:"path"`
}

// AgentConfig describes the agent CLI binary the Agent Session Engine
// spawns, and the on-disk project tree the Project Importer scans.
type AgentConfig struct {
	Path        string `json:"path"`         // e.g. "claude"
	ProjectsDir string `json:"projects_dir"` // e.g. "~/.claude/projects"
	TurnTimeout string `json:"turn_timeout"` // duration string, e.g. "10m"
}

// AuthConfig carries the stateless bearer-token verification settings.
type AuthConfig struct {
	// JWTSecret is read from the JWT_SECRET env var at startup, never from
	// the config file: it is required, and the process refuses to start
	// without it. Kept here only as the field the validator checks.
	JWTSecret string `json:"-"`
}
