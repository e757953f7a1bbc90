// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api contains the HTTP surface of the MCP gateway: adapter and tool
// management, the session-affine MCP proxy, health and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/mcp-gateway/pkg/gateway/deployment"
	"github.com/stacklok/mcp-gateway/pkg/gateway/resources"
	"github.com/stacklok/mcp-gateway/pkg/gateway/routing"
	"github.com/stacklok/mcp-gateway/pkg/gateway/tools"
	"github.com/stacklok/mcp-gateway/pkg/logger"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Deps are the components the HTTP surface is built from.
type Deps struct {
	Adapters     resources.AdapterStore
	Tools        resources.ToolStore
	ToolProvider tools.Provider
	Resolver     routing.Resolver
	Provisioner  deployment.Provisioner

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	// ToolServer serves the tool catalogue over MCP at /mcp when set.
	ToolServer http.Handler

	// Health reports whether the gateway's shared dependencies are reachable.
	// A nil Health makes /health report the process alone.
	Health func(context.Context) error

	// ProvisionTimeout bounds the instance started when an adapter is registered.
	// Zero leaves new adapters unprovisioned until their first session.
	ProvisionTimeout time.Duration

	Logger *slog.Logger
}

// NewRouter builds the gateway's HTTP handler.
func NewRouter(d Deps) http.Handler {
	l := d.Logger
	if l == nil {
		l = logger.Get()
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
	)

	r.Get("/health", healthHandler(d.Health, l))
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}
	if d.ToolServer != nil {
		r.Handle("/mcp", d.ToolServer)
	}

	proxy := NewProxy(d.Resolver, l.With("component", "proxy"))
	r.Mount("/adapters", AdaptersRouter(d.Adapters, d.Provisioner, proxy, d.ProvisionTimeout, l))
	r.Mount("/tools", ToolsRouter(d.Tools, d.ToolProvider))
	return r
}

func healthHandler(check func(context.Context) error, l *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				l.Warn("health check failed", "error", err)
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Serve serves handler on address until ctx is cancelled, then shuts down gracefully.
// It is assumed that the caller sets up appropriate signal handling.
func Serve(ctx context.Context, address string, handler http.Handler) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return serveListener(ctx, listener, handler)
}

func serveListener(ctx context.Context, listener net.Listener, handler http.Handler) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.Infof("starting HTTP server on %s", listener.Addr())

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server stopped with error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
