// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/stacklok/toolhive-core/env"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
)

// Environment variables that override file values. Secrets are better kept out
// of the configuration file.
const (
	EnvRedisAddr     = "MCPGW_REDIS_ADDR"
	EnvRedisPassword = "MCPGW_REDIS_PASSWORD"
	EnvNamespace     = "MCPGW_NAMESPACE"
)

// Loader reads configuration from a YAML file and the environment.
type Loader struct {
	envReader env.Reader
	validator *Validator
}

// NewLoader creates a loader reading the environment through envReader.
func NewLoader(envReader env.Reader) *Loader {
	return &Loader{envReader: envReader, validator: NewValidator()}
}

// Load reads the file at path, applies environment overrides and defaults, and
// validates the result. An empty path yields the defaults.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		//nolint:gosec // G304: the path comes from the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read %s: %w", gateway.ErrInvalidConfig, path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	l.applyEnv(cfg)
	if err := cfg.EnsureDefaults(); err != nil {
		return nil, err
	}
	if err := l.validator.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML document. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: failed to parse YAML: %w", gateway.ErrInvalidConfig, err)
	}
	return cfg, nil
}

func (l *Loader) applyEnv(cfg *Config) {
	if v := l.envReader.Getenv(EnvRedisAddr); v != "" {
		cfg.SessionStore.Redis.Addr = v
	}
	if v := l.envReader.Getenv(EnvRedisPassword); v != "" {
		cfg.SessionStore.Redis.Password = v
	}
	if v := l.envReader.Getenv(EnvNamespace); v != "" {
		cfg.Namespace = v
	}
}
