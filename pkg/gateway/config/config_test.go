// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stacklok/toolhive-core/env/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
)

// createMockEnvReader returns a reader serving envVars and empty strings otherwise.
func createMockEnvReader(t *testing.T, envVars map[string]string) *mocks.MockReader {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockEnv := mocks.NewMockReader(ctrl)
	for key, value := range envVars {
		mockEnv.EXPECT().Getenv(key).Return(value).AnyTimes()
	}
	mockEnv.EXPECT().Getenv(gomock.Any()).Return("").AnyTimes()
	return mockEnv
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_Load(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		envVars map[string]string
		want    func(*testing.T, *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name: "defaults only",
			yaml: "",
			want: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, ":8080", cfg.Listen)
				assert.Equal(t, "memory", cfg.SessionStore.Type)
				assert.Equal(t, "memory", cfg.ResourceStore.Type)
				assert.Equal(t, ToolsSourceFile, cfg.Tools.Source)
				assert.Equal(t, Duration(30*time.Minute), cfg.Routing.RouteTTL)
				require.NotNil(t, cfg.Routing.RevalidateInterval)
				assert.Equal(t, Duration(30*time.Second), *cfg.Routing.RevalidateInterval)
			},
		},
		{
			name: "user values are kept",
			yaml: `
listen: ":9090"
namespace: adapters
routing:
  route_ttl: 5m
  revalidate_interval: 0s
deployment:
  create_retries: 5
  container_registry: registry.local
node_info:
  staleness_bound: 0s
session_store:
  type: redis
  redis:
    addr: redis:6379
resource_store:
  type: sqlite
  path: /data/gateway.db
tools:
  source: store
`,
			want: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, ":9090", cfg.Listen)
				assert.Equal(t, "adapters", cfg.Namespace)
				assert.Equal(t, Duration(5*time.Minute), cfg.Routing.RouteTTL)
				assert.Equal(t, Duration(2*time.Minute), cfg.Routing.LeaseTTL, "unset fields get defaults")
				require.NotNil(t, cfg.Routing.RevalidateInterval)
				assert.Zero(t, *cfg.Routing.RevalidateInterval, "explicit zero survives defaults")
				assert.Zero(t, cfg.NodeInfoStalenessBound())
				assert.Equal(t, uint(5), cfg.Deployment.CreateRetries)
				assert.Equal(t, "redis:6379", cfg.SessionStore.Redis.Addr)
				assert.Equal(t, "/data/gateway.db", cfg.ResourceStore.Path)
				assert.Equal(t, ToolsSourceStore, cfg.Tools.Source)
			},
		},
		{
			name: "environment overrides",
			yaml: `
namespace: from-file
session_store:
  type: redis
  redis:
    addr: file-redis:6379
`,
			envVars: map[string]string{
				EnvRedisAddr:     "env-redis:6379",
				EnvRedisPassword: "s3cret",
				EnvNamespace:     "from-env",
			},
			want: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, "env-redis:6379", cfg.SessionStore.Redis.Addr)
				assert.Equal(t, "s3cret", cfg.SessionStore.Redis.Password)
				assert.Equal(t, "from-env", cfg.Namespace)
			},
		},
		{
			name:    "unknown field",
			yaml:    "listen: \":8080\"\nbogus: true\n",
			wantErr: true,
			errMsg:  "bogus",
		},
		{
			name:    "invalid duration",
			yaml:    "routing:\n  route_ttl: soon\n",
			wantErr: true,
			errMsg:  "invalid duration",
		},
		{
			name:    "redis without address",
			yaml:    "session_store:\n  type: redis\n",
			wantErr: true,
			errMsg:  "addr or master_name is required",
		},
		{
			name:    "unknown store type",
			yaml:    "resource_store:\n  type: etcd\n",
			wantErr: true,
			errMsg:  `resource_store.type "etcd"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			loader := NewLoader(createMockEnvReader(t, tt.envVars))
			cfg, err := loader.Load(writeConfig(t, tt.yaml))
			if tt.wantErr {
				require.Error(t, err)
				require.ErrorIs(t, err, gateway.ErrInvalidConfig)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			tt.want(t, cfg)
		})
	}
}

func TestLoader_LoadWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := NewLoader(createMockEnvReader(t, nil)).Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Listen, cfg.Listen)

	_, err = NewLoader(createMockEnvReader(t, nil)).Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, gateway.ErrInvalidConfig)
}

func TestValidator_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		errMsgs []string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name: "lease shorter than resolution",
			mutate: func(c *Config) {
				c.Routing.LeaseTTL = Duration(time.Second)
			},
			errMsgs: []string{"lease_ttl"},
		},
		{
			name: "sentinel without addresses",
			mutate: func(c *Config) {
				c.SessionStore.Type = "redis"
				c.SessionStore.Redis.MasterName = "mymaster"
			},
			errMsgs: []string{"sentinel_addrs"},
		},
		{
			name: "several problems at once",
			mutate: func(c *Config) {
				c.Listen = ""
				c.Tools.Source = "http"
				c.Deployment.ContainerRegistry = "https://registry.local"
			},
			errMsgs: []string{"listen", "tools.source", "scheme"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := NewValidator().Validate(cfg)
			if len(tt.errMsgs) == 0 {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, gateway.ErrInvalidConfig)
			for _, msg := range tt.errMsgs {
				assert.Contains(t, err.Error(), msg)
			}
		})
	}
}

func TestConfig_Conversions(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.SessionStore.Redis.MasterName = "mymaster"
	cfg.SessionStore.Redis.SentinelAddrs = []string{"sentinel:26379"}
	cfg.Deployment.ContainerRegistry = "registry.local"

	r := cfg.RoutingHandlerConfig()
	assert.Equal(t, 30*time.Minute, r.RouteTTL)
	assert.Equal(t, 30*time.Second, r.RevalidateInterval)

	d := cfg.DeploymentManagerConfig()
	assert.Equal(t, uint(3), d.CreateRetries)
	assert.Equal(t, "registry.local", d.ContainerRegistry)

	s := cfg.SessionStoreFactoryConfig()
	require.NotNil(t, s.Redis.SentinelConfig)
	assert.Equal(t, "mymaster", s.Redis.SentinelConfig.MasterName)

	assert.Equal(t, 2*time.Second, cfg.NodeInfoStalenessBound())
	assert.Equal(t, "memory", cfg.ResourceStoreFactoryConfig().Type)
}
