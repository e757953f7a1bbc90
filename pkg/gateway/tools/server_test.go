// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
)

func startMCPServer(t *testing.T, provider Provider) string {
	t.Helper()
	discard := slog.New(slog.DiscardHandler)
	srv := httptest.NewServer(NewMCPServer(provider, NewHTTPExecutor(provider, WithExecutorLogger(discard)), "test", discard))
	t.Cleanup(srv.Close)
	return srv.URL + MCPEndpointPath
}

func connect(t *testing.T, endpoint string) *client.Client {
	t.Helper()
	ctx := context.Background()

	c, err := client.NewStreamableHttpClient(endpoint)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Start(ctx))

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{Name: "tools-test", Version: "1.0.0"}
	_, err = c.Initialize(ctx, initRequest)
	require.NoError(t, err)
	return c
}

func listedNames(t *testing.T, c *client.Client) []string {
	t.Helper()
	listed, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	require.NoError(t, err)
	names := make([]string, 0, len(listed.Tools))
	for _, tool := range listed.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	return names
}

func TestMCPServer_ListToolsFollowsStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newToolStore(t,
		gateway.ToolResource{
			Name:        "get_forecast",
			Description: "Get the forecast for a city",
			Endpoint:    "http://weather.invalid/forecast",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
		},
		gateway.ToolResource{Name: "get_alerts", Endpoint: "http://weather.invalid/alerts"},
	)
	c := connect(t, startMCPServer(t, NewStoreProvider(store)))

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	require.NoError(t, err)
	require.Len(t, listed.Tools, 2)
	for _, tool := range listed.Tools {
		if tool.Name == "get_forecast" {
			assert.Equal(t, "Get the forecast for a city", tool.Description)
		}
	}

	_, err = store.Upsert(ctx, gateway.ToolResource{Name: "get_tides", Endpoint: "http://weather.invalid/tides"})
	require.NoError(t, err)
	assert.Equal(t, []string{"get_alerts", "get_forecast", "get_tides"}, listedNames(t, c))

	require.NoError(t, store.Delete(ctx, "get_alerts"))
	assert.Equal(t, []string{"get_forecast", "get_tides"}, listedNames(t, c))
}

func TestMCPServer_CallTool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend, _ := echoEndpoint(t)
	store := newToolStore(t, gateway.ToolResource{Name: "get_forecast", Endpoint: backend.URL})
	c := connect(t, startMCPServer(t, NewStoreProvider(store)))

	result, err := c.CallTool(ctx, callRequest("get_forecast", map[string]any{"city": "Lisbon"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "forecast for Lisbon", resultText(t, result))

	// A tool removed after it was listed is no longer callable.
	require.NoError(t, store.Delete(ctx, "get_forecast"))
	_, err = c.CallTool(ctx, callRequest("get_forecast", map[string]any{"city": "Lisbon"}))
	assert.Error(t, err)
}

type failingLister struct{ fail bool }

func (f *failingLister) List(context.Context) ([]gateway.ToolResource, error) {
	if f.fail {
		return nil, errors.New("database is locked")
	}
	return []gateway.ToolResource{{Name: "get_alerts", Endpoint: "http://weather.invalid/alerts"}}, nil
}

func TestMCPServer_KeepsCatalogueWhenStoreFails(t *testing.T) {
	t.Parallel()

	lister := &failingLister{}
	provider := NewStoreProvider(lister)
	discard := slog.New(slog.DiscardHandler)
	s := NewMCPServer(provider, NewHTTPExecutor(provider), "test", discard)

	require.NoError(t, s.sync(context.Background()))
	lister.fail = true
	assert.Error(t, s.sync(context.Background()))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Contains(t, s.registered, "get_alerts")
}
