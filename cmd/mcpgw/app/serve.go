// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/mcp-gateway/pkg/gateway/api"
	"github.com/stacklok/mcp-gateway/pkg/gateway/cluster"
	"github.com/stacklok/mcp-gateway/pkg/gateway/config"
	"github.com/stacklok/mcp-gateway/pkg/gateway/deployment"
	"github.com/stacklok/mcp-gateway/pkg/gateway/nodeinfo"
	"github.com/stacklok/mcp-gateway/pkg/gateway/resources"
	"github.com/stacklok/mcp-gateway/pkg/gateway/routing"
	"github.com/stacklok/mcp-gateway/pkg/gateway/session"
	"github.com/stacklok/mcp-gateway/pkg/gateway/telemetry"
	"github.com/stacklok/mcp-gateway/pkg/gateway/tools"
	"github.com/stacklok/mcp-gateway/pkg/k8s"
	"github.com/stacklok/mcp-gateway/pkg/logger"
)

const telemetryShutdownTimeout = 5 * time.Second

// components is everything built before the gateway starts serving.
type components struct {
	deps      *api.Deps
	fileTools *tools.FileProvider
	closers   []func() error
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logger.Warnf("failed to release resources: %v", err)
		}
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(viper.GetString("config"))
	if err != nil {
		return err
	}

	c, err := build(ctx, cfg)
	if c != nil {
		defer c.close()
	}
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Serve(gctx, cfg.Listen, api.NewRouter(*c.deps))
	})
	if c.fileTools != nil {
		g.Go(func() error {
			// Without a watcher the cache still expires, so this is not fatal.
			if err := c.fileTools.Watch(gctx); err != nil {
				logger.Warnf("not watching tool definitions: %v", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// build creates the gateway's components in dependency order. The returned
// components are non-nil whenever something was created that needs closing.
func build(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{}

	metrics, err := telemetry.NewProvider(telemetry.Config{IncludeRuntimeMetrics: true})
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		return metrics.Shutdown(ctx)
	})

	clientset, _, err := k8s.NewClient(cfg.Kubeconfig)
	if err != nil {
		return c, err
	}
	clusterClient := cluster.NewKubeClient(clientset, k8s.ResolveNamespace(cfg.Namespace), logger.For("cluster"))
	logger.Infof("Managing adapter instances in namespace %s", clusterClient.Namespace())
	nodes := nodeinfo.NewKubeProvider(clusterClient, cfg.NodeInfoStalenessBound(), logger.For("nodeinfo"))

	var provisioner deployment.Provisioner = deployment.NewManager(
		clusterClient, nodes, cfg.DeploymentManagerConfig(), logger.For("deployment"))
	if provisioner, err = deployment.Monitor(metrics.MeterProvider(), provisioner); err != nil {
		return c, err
	}

	sessions, err := session.New(ctx, cfg.SessionStoreFactoryConfig())
	if err != nil {
		return c, fmt.Errorf("failed to create session store: %w", err)
	}
	c.closers = append(c.closers, sessions.Close)
	logger.Infof("Session store: %s", cfg.SessionStore.Type)

	stores, err := resources.New(ctx, cfg.ResourceStoreFactoryConfig())
	if err != nil {
		return c, fmt.Errorf("failed to create resource store: %w", err)
	}
	c.closers = append(c.closers, stores.Close)

	toolProvider, err := newToolProvider(cfg, stores, c)
	if err != nil {
		return c, err
	}
	toolServer, err := newToolServer(cfg.Listen, toolProvider)
	if err != nil {
		return c, err
	}

	var resolver routing.Resolver = routing.NewHandler(
		sessions, stores.Adapters, nodes, provisioner, cfg.RoutingHandlerConfig(),
		routing.WithLogger(logger.For("routing")))
	if resolver, err = routing.Monitor(metrics.MeterProvider(), resolver); err != nil {
		return c, err
	}

	var provisionTimeout time.Duration
	if cfg.Deployment.ProvisionOnCreate {
		provisionTimeout = time.Duration(cfg.Routing.ResolveTimeout)
	}

	c.deps = &api.Deps{
		Adapters:         stores.Adapters,
		Tools:            stores.Tools,
		ToolProvider:     toolProvider,
		Resolver:         resolver,
		Provisioner:      provisioner,
		MetricsHandler:   metrics.Handler(),
		ToolServer:       toolServer,
		ProvisionTimeout: provisionTimeout,
		Health:           storeHealth(sessions),
		Logger:           logger.For("api"),
	}
	return c, nil
}

// storeHealth reports the session store's reachability when the store can tell.
func storeHealth(store session.Store) func(context.Context) error {
	pinger, ok := store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return pinger.Ping
}

// newToolServer builds the MCP tool endpoint. Relative tool endpoints are called
// through the gateway's own listener.
func newToolServer(listen string, provider tools.Provider) (*tools.MCPServer, error) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %s: %w", listen, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	base := &url.URL{Scheme: "http", Host: net.JoinHostPort(host, port)}

	l := logger.For("tools")
	executor := tools.NewHTTPExecutor(provider, tools.WithBaseURL(base), tools.WithExecutorLogger(l))
	return tools.NewMCPServer(provider, executor, Version, l), nil
}

func newToolProvider(cfg *config.Config, stores *resources.Stores, c *components) (tools.Provider, error) {
	switch cfg.Tools.Source {
	case config.ToolsSourceStore:
		return tools.NewStoreProvider(stores.Tools), nil
	case config.ToolsSourceFile, "":
		p, err := tools.NewFileProvider(cfg.Tools.Path, time.Duration(cfg.Tools.CacheTTL), logger.For("tools"))
		if err != nil {
			return nil, fmt.Errorf("failed to create tool provider: %w", err)
		}
		c.fileTools = p
		return p, nil
	default:
		return nil, errors.New("unknown tool definition source " + cfg.Tools.Source)
	}
}
