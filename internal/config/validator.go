// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies HOST, PORT, LOG_LEVEL, ALLOWED_ORIGINS, and
// JWT_SECRET over whatever the config file set. Env wins over file, since
// the gateway has no per-field flags beyond -config/-host/-port/-debug.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}

// Validate checks the fully-merged config for startup-time failures,
// principally that JWT_SECRET is required — the process refuses to start
// without it.
func Validate(cfg *Config) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required; the gateway refuses to start without it")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", cfg.Server.Port)
	}
	if _, err := TurnTimeout(cfg); err != nil {
		return fmt.Errorf("config: invalid agent.turn_timeout: %w", err)
	}
	if cfg.Agent.Path == "" {
		return fmt.Errorf("config: agent.path must not be empty")
	}
	return nil
}

// TurnTimeout parses the agent's configured per-turn timeout duration.
func TurnTimeout(cfg *Config) (time.Duration, error) {
	return time.ParseDuration(cfg.Agent.TurnTimeout)
}
