// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
	deploymentmocks "github.com/stacklok/mcp-gateway/pkg/gateway/deployment/mocks"
	"github.com/stacklok/mcp-gateway/pkg/gateway/resources"
	routingmocks "github.com/stacklok/mcp-gateway/pkg/gateway/routing/mocks"
	"github.com/stacklok/mcp-gateway/pkg/gateway/tools"
)

type testServer struct {
	url         string
	adapters    resources.AdapterStore
	tools       resources.ToolStore
	resolver    *routingmocks.MockResolver
	provisioner *deploymentmocks.MockProvisioner
	unhealthy   atomic.Bool
}

func newTestServer(t *testing.T, provisionTimeout time.Duration) *testServer {
	t.Helper()
	ctrl := gomock.NewController(t)

	ts := &testServer{
		adapters:    resources.NewMemoryAdapterStore(),
		tools:       resources.NewMemoryToolStore(),
		resolver:    routingmocks.NewMockResolver(ctrl),
		provisioner: deploymentmocks.NewMockProvisioner(ctrl),
	}
	discard := slog.New(slog.DiscardHandler)
	provider := tools.NewStoreProvider(ts.tools)
	handler := NewRouter(Deps{
		Adapters:         ts.adapters,
		Tools:            ts.tools,
		ToolProvider:     provider,
		Resolver:         ts.resolver,
		Provisioner:      ts.provisioner,
		MetricsHandler:   http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "metrics") }),
		ToolServer:       tools.NewMCPServer(provider, tools.NewHTTPExecutor(provider), "test", discard),
		ProvisionTimeout: provisionTimeout,
		Health: func(context.Context) error {
			if ts.unhealthy.Load() {
				return errors.New("session store unreachable")
			}
			return nil
		},
		Logger: discard,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	ts.url = srv.URL
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, ts.url+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

var weather = gateway.AdapterDefinition{Name: "weather", Image: "weather:1.0", Replicas: 2}

func TestAdapters_CRUD(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)

	resp := ts.do(t, http.MethodPost, "/adapters", weather)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/adapters/weather", resp.Header.Get("Location"))
	created := decode[gateway.AdapterDefinition](t, resp)
	assert.False(t, created.CreatedAt.IsZero())

	resp = ts.do(t, http.MethodPost, "/adapters", weather)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/adapters/weather", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "weather:1.0", decode[gateway.AdapterDefinition](t, resp).Image)

	updated := weather
	updated.Name = ""
	updated.Image = "weather:2.0"
	resp = ts.do(t, http.MethodPut, "/adapters/weather", updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[gateway.AdapterDefinition](t, resp)
	assert.Equal(t, "weather:2.0", got.Image)
	assert.True(t, got.CreatedAt.Equal(created.CreatedAt))

	resp = ts.do(t, http.MethodGet, "/adapters", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[adapterListResponse](t, resp)
	require.Len(t, list.Adapters, 1)

	ts.provisioner.EXPECT().Retire(gomock.Any(), "weather").Return(nil)
	resp = ts.do(t, http.MethodDelete, "/adapters/weather", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/adapters/weather", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = ts.do(t, http.MethodDelete, "/adapters/weather", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdapters_BadRequests(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{name: "missing image", method: http.MethodPost, path: "/adapters", body: gateway.AdapterDefinition{Name: "weather"}},
		{name: "invalid name", method: http.MethodPost, path: "/adapters", body: gateway.AdapterDefinition{Name: "Weather_Service", Image: "x"}},
		{name: "not json", method: http.MethodPost, path: "/adapters", body: "nope"},
		{name: "name mismatch", method: http.MethodPut, path: "/adapters/weather", body: gateway.AdapterDefinition{Name: "news", Image: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestAdapters_RetireFailureKeepsDefinition(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)

	_, err := ts.adapters.Upsert(context.Background(), weather)
	require.NoError(t, err)

	ts.provisioner.EXPECT().Retire(gomock.Any(), "weather").Return(gateway.ErrTransientStore)
	resp := ts.do(t, http.MethodDelete, "/adapters/weather", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_, ok, err := ts.adapters.TryGet(context.Background(), "weather")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAdapters_ProvisionOnCreate(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, time.Minute)

	provisioned := make(chan gateway.AdapterDefinition, 1)
	ts.provisioner.EXPECT().EnsureProvisioned(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, def gateway.AdapterDefinition) (gateway.Instance, error) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			provisioned <- def
			return gateway.Instance{ID: "weather-0"}, nil
		})

	resp := ts.do(t, http.MethodPost, "/adapters", weather)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	select {
	case def := <-provisioned:
		assert.Equal(t, "weather", def.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("adapter was not pre-provisioned")
	}
}

func TestTools_CRUDAndDefinitions(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)

	tool := gateway.ToolResource{
		Name:        "forecast",
		Description: "Weather forecast",
		Endpoint:    "http://weather/mcp",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
	}
	resp := ts.do(t, http.MethodPost, "/tools", tool)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/tools", gateway.ToolResource{Name: "broken"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/tools/definitions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Tools []struct {
			Name        string `json:"name"`
			InputSchema struct {
				Type       string         `json:"type"`
				Properties map[string]any `json:"properties"`
			} `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "forecast", result.Tools[0].Name)
	assert.Equal(t, "object", result.Tools[0].InputSchema.Type)
	assert.Contains(t, result.Tools[0].InputSchema.Properties, "city")

	resp = ts.do(t, http.MethodPut, "/tools/forecast", gateway.ToolResource{Endpoint: "http://weather-v2/mcp"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/tools", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[toolListResponse](t, resp)
	require.Len(t, list.Tools, 1)
	assert.Equal(t, "http://weather-v2/mcp", list.Tools[0].Endpoint)

	resp = ts.do(t, http.MethodDelete, "/tools/forecast", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, "/tools/forecast", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = ts.do(t, http.MethodDelete, "/tools/forecast", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)

	resp := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	ts.unhealthy.Store(true)
	resp = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "metrics", string(body))
}

func TestToolServer_ServesRegisteredTools(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var args map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		_, _ = fmt.Fprintf(w, "sunny in %v", args["city"])
	}))
	t.Cleanup(backend.Close)

	resp := ts.do(t, http.MethodPost, "/tools", gateway.ToolResource{
		Name:        "forecast",
		Endpoint:    backend.URL,
		InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ctx := context.Background()
	c, err := client.NewStreamableHttpClient(ts.url + "/mcp")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Start(ctx))

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{Name: "api-test", Version: "1.0.0"}
	_, err = c.Initialize(ctx, initRequest)
	require.NoError(t, err)

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	require.NoError(t, err)
	require.Len(t, listed.Tools, 1)
	assert.Equal(t, "forecast", listed.Tools[0].Name)

	call := mcp.CallToolRequest{}
	call.Params.Name = "forecast"
	call.Params.Arguments = map[string]any{"city": "Lisbon"}
	result, err := c.CallTool(ctx, call)
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	assert.Equal(t, "sunny in Lisbon", text.Text)
}

func TestServeListener_StopsOnCancel(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveListener(ctx, listener, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String()) //nolint:noctx
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

// newBackend starts a fake adapter instance and returns its host:port.
func newBackend(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestProxy_ForwardsToRoute(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)

	endpoint := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mcp", r.URL.Path)
		assert.Equal(t, "s1", r.Header.Get(SessionHeader))
		body, _ := io.ReadAll(r.Body)
		w.Header().Set(SessionHeader, "backend-chose-this")
		_, _ = w.Write(body)
	})
	ts.resolver.EXPECT().ResolveRoute(gomock.Any(), "s1", "weather").
		Return(gateway.Route{SessionID: "s1", AdapterName: "weather", InstanceID: "weather-0", Endpoint: endpoint}, nil)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, ts.url+"/adapters/weather/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.NoError(t, err)
	req.Header.Set(SessionHeader, "s1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "s1", resp.Header.Get(SessionHeader))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), string(mcp.MethodToolsList))
}

func TestProxy_AssignsSessionID(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)

	forwarded := make(chan string, 1)
	endpoint := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		forwarded <- r.Header.Get(SessionHeader)
		w.WriteHeader(http.StatusOK)
	})

	resolved := make(chan string, 1)
	ts.resolver.EXPECT().ResolveRoute(gomock.Any(), gomock.Any(), "weather").
		DoAndReturn(func(_ context.Context, sessionID, adapterName string) (gateway.Route, error) {
			resolved <- sessionID
			return gateway.Route{SessionID: sessionID, AdapterName: adapterName, Endpoint: endpoint}, nil
		})

	resp := ts.do(t, http.MethodPost, "/adapters/weather/mcp", map[string]string{"method": "initialize"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assigned := resp.Header.Get(SessionHeader)
	_, err := uuid.Parse(assigned)
	require.NoError(t, err)
	assert.Equal(t, assigned, <-resolved)
	assert.Equal(t, assigned, <-forwarded)
}

func TestProxy_ResolutionErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "unknown adapter", err: gateway.ErrNotFound, wantCode: http.StatusNotFound},
		{name: "capacity exhausted", err: gateway.ErrCapacityExhausted, wantCode: http.StatusServiceUnavailable},
		{name: "provisioning timeout", err: gateway.ErrProvisioningTimeout, wantCode: http.StatusGatewayTimeout},
		{name: "provisioning failed", err: gateway.ErrProvisioningFailed, wantCode: http.StatusBadGateway},
		{name: "store unavailable", err: gateway.ErrTransientStore, wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, 0)
			ts.resolver.EXPECT().ResolveRoute(gomock.Any(), "s1", "weather").Return(gateway.Route{}, tt.err)

			req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, ts.url+"/adapters/weather/mcp", nil)
			require.NoError(t, err)
			req.Header.Set(SessionHeader, "s1")
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantCode, resp.StatusCode)
		})
	}
}

// deadEndpoint returns the host:port of a server that is no longer listening.
func deadEndpoint(t *testing.T) string {
	t.Helper()
	dead := httptest.NewServer(http.NotFoundHandler())
	endpoint := strings.TrimPrefix(dead.URL, "http://")
	dead.Close()
	return endpoint
}

func postMCP(t *testing.T, ts *testServer, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, ts.url+"/adapters/weather/mcp", body)
	require.NoError(t, err)
	req.Header.Set(SessionHeader, "s1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestProxy_RetriesOnReplacementInstance(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)

	const payload = `{"jsonrpc":"2.0","id":7,"method":"tools/call"}`
	live := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, payload, string(body), "the replayed body must be intact")
		assert.Equal(t, "s1", r.Header.Get(SessionHeader))
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":7,"result":{}}`))
	})

	gomock.InOrder(
		ts.resolver.EXPECT().ResolveRoute(gomock.Any(), "s1", "weather").
			Return(gateway.Route{SessionID: "s1", AdapterName: "weather", InstanceID: "weather-0", Endpoint: deadEndpoint(t)}, nil),
		ts.resolver.EXPECT().ReportStale(gomock.Any(), "s1", "weather").
			Return(gateway.Route{SessionID: "s1", AdapterName: "weather", InstanceID: "weather-1", Endpoint: live}, nil),
	)

	resp := postMCP(t, ts, strings.NewReader(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "s1", resp.Header.Get(SessionHeader))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"id":7`)
}

func TestProxy_GivesUpAfterOneRetry(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)

	dead := gateway.Route{SessionID: "s1", AdapterName: "weather", InstanceID: "weather-0", Endpoint: deadEndpoint(t)}
	gomock.InOrder(
		ts.resolver.EXPECT().ResolveRoute(gomock.Any(), "s1", "weather").Return(dead, nil),
		ts.resolver.EXPECT().ReportStale(gomock.Any(), "s1", "weather").Return(dead, nil),
		ts.resolver.EXPECT().InvalidateRoute(gomock.Any(), "s1").Return(nil),
	)

	resp := postMCP(t, ts, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "s1", resp.Header.Get(SessionHeader))
}

func TestProxy_LargeBodyIsNotReplayed(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)

	// No ReportStale expectation: an unbuffered body cannot be sent twice.
	gomock.InOrder(
		ts.resolver.EXPECT().ResolveRoute(gomock.Any(), "s1", "weather").
			Return(gateway.Route{SessionID: "s1", AdapterName: "weather", InstanceID: "weather-0", Endpoint: deadEndpoint(t)}, nil),
		ts.resolver.EXPECT().InvalidateRoute(gomock.Any(), "s1").Return(nil),
	)

	resp := postMCP(t, ts, bytes.NewReader(bytes.Repeat([]byte("x"), maxReplayBody+1)))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestProxy_ReResolutionErrorIsReported(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)

	gomock.InOrder(
		ts.resolver.EXPECT().ResolveRoute(gomock.Any(), "s1", "weather").
			Return(gateway.Route{SessionID: "s1", AdapterName: "weather", InstanceID: "weather-0", Endpoint: deadEndpoint(t)}, nil),
		ts.resolver.EXPECT().ReportStale(gomock.Any(), "s1", "weather").
			Return(gateway.Route{}, fmt.Errorf("%w: adapter weather has 2 of 2 instances", gateway.ErrCapacityExhausted)),
	)

	resp := postMCP(t, ts, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "s1", resp.Header.Get(SessionHeader))
}

func TestProxy_RejectsMalformedSessionID(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)

	ts.resolver.EXPECT().ResolveRoute(gomock.Any(), "lease:s1", "weather").
		Return(gateway.Route{}, fmt.Errorf("%w: session id contains invalid character ':'", gateway.ErrInvalidInput))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, ts.url+"/adapters/weather/mcp", nil)
	require.NoError(t, err)
	req.Header.Set(SessionHeader, "lease:s1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
