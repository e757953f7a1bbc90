// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config provides the configuration model of the MCP gateway.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stacklok/mcp-gateway/pkg/gateway/deployment"
	"github.com/stacklok/mcp-gateway/pkg/gateway/resources"
	"github.com/stacklok/mcp-gateway/pkg/gateway/routing"
	"github.com/stacklok/mcp-gateway/pkg/gateway/session"
)

// Duration is a time.Duration written as a string such as "30s" in YAML and JSON.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Config is the top-level gateway configuration.
type Config struct {
	// Listen is the address the HTTP server binds to.
	Listen string `yaml:"listen" json:"listen"`

	// Namespace is where adapter instances are created. Detected when empty.
	Namespace string `yaml:"namespace" json:"namespace"`

	// Kubeconfig points at a kubeconfig file. In-cluster or default discovery when empty.
	Kubeconfig string `yaml:"kubeconfig" json:"kubeconfig,omitempty"`

	Routing       RoutingConfig       `yaml:"routing" json:"routing"`
	Deployment    DeploymentConfig    `yaml:"deployment" json:"deployment"`
	NodeInfo      NodeInfoConfig      `yaml:"node_info" json:"node_info"`
	SessionStore  SessionStoreConfig  `yaml:"session_store" json:"session_store"`
	ResourceStore ResourceStoreConfig `yaml:"resource_store" json:"resource_store"`
	Tools         ToolsConfig         `yaml:"tools" json:"tools"`
}

// RoutingConfig tunes session route resolution.
type RoutingConfig struct {
	RouteTTL       Duration `yaml:"route_ttl" json:"route_ttl"`
	LeaseTTL       Duration `yaml:"lease_ttl" json:"lease_ttl"`
	ResolveTimeout Duration `yaml:"resolve_timeout" json:"resolve_timeout"`
	// RevalidateInterval of zero checks the target on every hit.
	RevalidateInterval *Duration `yaml:"revalidate_interval" json:"revalidate_interval"`
	LeasePollInterval  Duration  `yaml:"lease_poll_interval" json:"lease_poll_interval"`
}

// DeploymentConfig tunes adapter provisioning.
type DeploymentConfig struct {
	PollInterval      Duration `yaml:"poll_interval" json:"poll_interval"`
	CreateRetries     uint     `yaml:"create_retries" json:"create_retries"`
	InitialBackoff    Duration `yaml:"initial_backoff" json:"initial_backoff"`
	CreateTimeout     Duration `yaml:"create_timeout" json:"create_timeout"`
	ContainerRegistry string   `yaml:"container_registry" json:"container_registry,omitempty"`
	// ProvisionOnCreate starts one instance as soon as an adapter is registered.
	ProvisionOnCreate bool `yaml:"provision_on_create" json:"provision_on_create"`
}

// NodeInfoConfig tunes instance observation.
type NodeInfoConfig struct {
	// StalenessBound is how old a cached instance listing may be. Zero disables caching.
	StalenessBound *Duration `yaml:"staleness_bound" json:"staleness_bound"`
}

// SessionStoreConfig selects the session route store.
type SessionStoreConfig struct {
	Type  string      `yaml:"type" json:"type"`
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig configures the Redis session store.
type RedisConfig struct {
	Addr          string   `yaml:"addr" json:"addr,omitempty"`
	MasterName    string   `yaml:"master_name" json:"master_name,omitempty"`
	SentinelAddrs []string `yaml:"sentinel_addrs" json:"sentinel_addrs,omitempty"`
	Username      string   `yaml:"username" json:"username,omitempty"`
	Password      string   `yaml:"password" json:"-"`
	DB            int      `yaml:"db" json:"db"`
	KeyPrefix     string   `yaml:"key_prefix" json:"key_prefix,omitempty"`
}

// ResourceStoreConfig selects where adapter and tool definitions are kept.
type ResourceStoreConfig struct {
	Type string `yaml:"type" json:"type"`
	Path string `yaml:"path" json:"path,omitempty"`
}

// Tool definition sources.
const (
	ToolsSourceFile  = "file"
	ToolsSourceStore = "store"
)

// ToolsConfig selects where advertised tool definitions come from.
type ToolsConfig struct {
	Source   string   `yaml:"source" json:"source"`
	Path     string   `yaml:"path" json:"path,omitempty"`
	CacheTTL Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// RoutingHandlerConfig converts the section for routing.NewHandler.
func (c *Config) RoutingHandlerConfig() routing.Config {
	cfg := routing.DefaultConfig()
	cfg.RouteTTL = time.Duration(c.Routing.RouteTTL)
	cfg.LeaseTTL = time.Duration(c.Routing.LeaseTTL)
	cfg.ResolveTimeout = time.Duration(c.Routing.ResolveTimeout)
	cfg.LeasePollInterval = time.Duration(c.Routing.LeasePollInterval)
	if c.Routing.RevalidateInterval != nil {
		cfg.RevalidateInterval = time.Duration(*c.Routing.RevalidateInterval)
	}
	return cfg
}

// DeploymentManagerConfig converts the section for deployment.NewManager.
func (c *Config) DeploymentManagerConfig() deployment.Config {
	return deployment.Config{
		PollInterval:      time.Duration(c.Deployment.PollInterval),
		CreateRetries:     c.Deployment.CreateRetries,
		InitialBackoff:    time.Duration(c.Deployment.InitialBackoff),
		CreateTimeout:     time.Duration(c.Deployment.CreateTimeout),
		ContainerRegistry: c.Deployment.ContainerRegistry,
	}
}

// NodeInfoStalenessBound returns the cache bound of the node info provider.
func (c *Config) NodeInfoStalenessBound() time.Duration {
	if c.NodeInfo.StalenessBound == nil {
		return 0
	}
	return time.Duration(*c.NodeInfo.StalenessBound)
}

// SessionStoreFactoryConfig converts the section for session.New.
func (c *Config) SessionStoreFactoryConfig() session.Config {
	r := c.SessionStore.Redis
	cfg := session.Config{
		Type: c.SessionStore.Type,
		Redis: session.RedisConfig{
			Addr:      r.Addr,
			Username:  r.Username,
			Password:  r.Password,
			DB:        r.DB,
			KeyPrefix: r.KeyPrefix,
		},
	}
	if r.MasterName != "" {
		cfg.Redis.SentinelConfig = &session.SentinelConfig{
			MasterName:    r.MasterName,
			SentinelAddrs: r.SentinelAddrs,
		}
	}
	return cfg
}

// ResourceStoreFactoryConfig converts the section for resources.New.
func (c *Config) ResourceStoreFactoryConfig() resources.Config {
	return resources.Config{Type: c.ResourceStore.Type, Path: c.ResourceStore.Path}
}
