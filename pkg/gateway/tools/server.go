// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/stacklok/mcp-gateway/pkg/logger"
)

// MCPEndpointPath is where the tool catalogue is served over MCP.
const MCPEndpointPath = "/mcp"

const serverName = "mcp-gateway-tools"

// MCPServer serves the tool catalogue over MCP streamable HTTP. tools/list
// reflects the provider and tools/call goes through the executor.
//
// The server is stateless so that any gateway replica can answer any request.
type MCPServer struct {
	provider Provider
	executor *HTTPExecutor
	mcp      *server.MCPServer
	http     *server.StreamableHTTPServer
	logger   *slog.Logger

	mu         sync.Mutex
	registered map[string]mcp.Tool
}

// NewMCPServer creates the MCP endpoint for the catalogue held by provider.
func NewMCPServer(provider Provider, executor *HTTPExecutor, version string, l *slog.Logger) *MCPServer {
	if l == nil {
		l = logger.Get()
	}
	s := &MCPServer{
		provider:   provider,
		executor:   executor,
		logger:     l,
		registered: map[string]mcp.Tool{},
	}
	s.mcp = server.NewMCPServer(serverName, version, server.WithToolCapabilities(false))
	s.http = server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath(MCPEndpointPath),
		server.WithStateLess(true),
	)
	return s
}

// ServeHTTP implements http.Handler.
func (s *MCPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.sync(r.Context()); err != nil {
		// The previous catalogue is still served.
		s.logger.Warn("failed to refresh tool catalogue", "error", err)
	}
	s.http.ServeHTTP(w, r)
}

// sync brings the registered tools in line with the provider.
func (s *MCPServer) sync(ctx context.Context) error {
	defs, err := s.provider.ListTools(ctx)
	if err != nil {
		return err
	}

	current := make(map[string]mcp.Tool, len(defs))
	for i := range defs {
		current[defs[i].Name] = defs[i].MCPTool()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if reflect.DeepEqual(current, s.registered) {
		return nil
	}

	var removed []string
	for name := range s.registered {
		if _, ok := current[name]; !ok {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		s.mcp.DeleteTools(removed...)
	}

	serverTools := make([]server.ServerTool, 0, len(current))
	for _, tool := range current {
		serverTools = append(serverTools, server.ServerTool{Tool: tool, Handler: s.executor.CallTool})
	}
	s.mcp.AddTools(serverTools...)

	s.registered = current
	s.logger.Debug("tool catalogue refreshed", "tools", len(current), "removed", len(removed))
	return nil
}
