// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
	"github.com/stacklok/mcp-gateway/pkg/gateway/resources"
	"github.com/stacklok/mcp-gateway/pkg/gateway/session"
)

// Validator checks a configuration with defaults applied.
type Validator struct{}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate reports every problem found in cfg at once.
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuration is nil", gateway.ErrInvalidConfig)
	}

	var problems []string
	problems = append(problems, v.validateRouting(&cfg.Routing)...)
	problems = append(problems, v.validateDeployment(&cfg.Deployment)...)
	problems = append(problems, v.validateSessionStore(&cfg.SessionStore)...)
	problems = append(problems, v.validateResourceStore(&cfg.ResourceStore)...)
	problems = append(problems, v.validateTools(&cfg.Tools)...)
	if cfg.Listen == "" {
		problems = append(problems, "listen address is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", gateway.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (*Validator) validateRouting(r *RoutingConfig) []string {
	var problems []string
	if r.RouteTTL <= 0 {
		problems = append(problems, "routing.route_ttl must be positive")
	}
	if r.LeaseTTL <= 0 {
		problems = append(problems, "routing.lease_ttl must be positive")
	}
	if r.ResolveTimeout <= 0 {
		problems = append(problems, "routing.resolve_timeout must be positive")
	}
	// A crashed resolver must not block its session for longer than a resolution may take.
	if r.LeaseTTL > 0 && r.ResolveTimeout > r.LeaseTTL {
		problems = append(problems, "routing.lease_ttl must not be shorter than routing.resolve_timeout")
	}
	if r.RevalidateInterval != nil && *r.RevalidateInterval < 0 {
		problems = append(problems, "routing.revalidate_interval must not be negative")
	}
	if r.LeasePollInterval <= 0 {
		problems = append(problems, "routing.lease_poll_interval must be positive")
	}
	return problems
}

func (*Validator) validateDeployment(d *DeploymentConfig) []string {
	var problems []string
	if d.PollInterval <= 0 {
		problems = append(problems, "deployment.poll_interval must be positive")
	}
	if d.CreateTimeout <= 0 {
		problems = append(problems, "deployment.create_timeout must be positive")
	}
	if strings.Contains(d.ContainerRegistry, "://") {
		problems = append(problems, "deployment.container_registry must not include a scheme")
	}
	return problems
}

func (*Validator) validateSessionStore(s *SessionStoreConfig) []string {
	switch s.Type {
	case session.TypeMemory:
		return nil
	case session.TypeRedis:
		r := s.Redis
		switch {
		case r.Addr != "" && r.MasterName != "":
			return []string{"session_store.redis: addr and master_name are mutually exclusive"}
		case r.Addr == "" && r.MasterName == "":
			return []string{"session_store.redis: addr or master_name is required"}
		case r.MasterName != "" && len(r.SentinelAddrs) == 0:
			return []string{"session_store.redis: sentinel_addrs is required with master_name"}
		}
		return nil
	default:
		return []string{fmt.Sprintf("session_store.type %q is not one of memory, redis", s.Type)}
	}
}

func (*Validator) validateResourceStore(r *ResourceStoreConfig) []string {
	switch r.Type {
	case resources.TypeMemory:
		return nil
	case resources.TypeSQLite:
		if r.Path == "" {
			return []string{"resource_store.path is required for sqlite"}
		}
		return nil
	default:
		return []string{fmt.Sprintf("resource_store.type %q is not one of memory, sqlite", r.Type)}
	}
}

func (*Validator) validateTools(t *ToolsConfig) []string {
	switch t.Source {
	case ToolsSourceFile, ToolsSourceStore:
		return nil
	default:
		return []string{fmt.Sprintf("tools.source %q is not one of file, store", t.Source)}
	}
}
