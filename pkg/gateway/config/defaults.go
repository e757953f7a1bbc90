// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"time"

	"dario.cat/mergo"

	"github.com/stacklok/mcp-gateway/pkg/gateway/resources"
	"github.com/stacklok/mcp-gateway/pkg/gateway/session"
	"github.com/stacklok/mcp-gateway/pkg/gateway/tools"
)

const (
	defaultListen = ":8080"

	defaultRouteTTL           = 30 * time.Minute
	defaultLeaseTTL           = 2 * time.Minute
	defaultResolveTimeout     = 90 * time.Second
	defaultRevalidateInterval = 30 * time.Second
	defaultLeasePollInterval  = 100 * time.Millisecond

	defaultPollInterval   = 2 * time.Second
	defaultCreateRetries  = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultCreateTimeout  = 30 * time.Second

	defaultStalenessBound = 2 * time.Second
)

// Default returns a fully populated configuration for a single-process
// development deployment.
func Default() *Config {
	revalidate := Duration(defaultRevalidateInterval)
	staleness := Duration(defaultStalenessBound)
	return &Config{
		Listen: defaultListen,
		Routing: RoutingConfig{
			RouteTTL:           Duration(defaultRouteTTL),
			LeaseTTL:           Duration(defaultLeaseTTL),
			ResolveTimeout:     Duration(defaultResolveTimeout),
			RevalidateInterval: &revalidate,
			LeasePollInterval:  Duration(defaultLeasePollInterval),
		},
		Deployment: DeploymentConfig{
			PollInterval:   Duration(defaultPollInterval),
			CreateRetries:  defaultCreateRetries,
			InitialBackoff: Duration(defaultInitialBackoff),
			CreateTimeout:  Duration(defaultCreateTimeout),
		},
		NodeInfo: NodeInfoConfig{
			StalenessBound: &staleness,
		},
		SessionStore: SessionStoreConfig{
			Type: session.TypeMemory,
			Redis: RedisConfig{
				KeyPrefix: session.DefaultKeyPrefix,
			},
		},
		ResourceStore: ResourceStoreConfig{
			Type: resources.TypeMemory,
			Path: resources.DefaultSQLitePath,
		},
		Tools: ToolsConfig{
			Source:   ToolsSourceFile,
			Path:     tools.DefaultDefinitionsPath,
			CacheTTL: Duration(tools.DefaultCacheTTL),
		},
	}
}

// EnsureDefaults fills every unset field with its default, keeping the values
// the user provided.
func (c *Config) EnsureDefaults() error {
	// Without dereferencing, a pointer the user set to zero stays zero.
	if err := mergo.Merge(c, Default(), mergo.WithoutDereference); err != nil {
		return fmt.Errorf("failed to apply configuration defaults: %w", err)
	}
	return nil
}
