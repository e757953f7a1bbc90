// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcp-gateway/pkg/logger"
)

const (
	// DefaultCallTimeout bounds one tool call when the executor builds its own client.
	DefaultCallTimeout = 30 * time.Second

	maxToolResponse = 4 << 20
)

// HTTPExecutor runs tool calls by POSTing the call arguments as a JSON object to
// the tool's endpoint. The response body becomes the text of the tool result.
type HTTPExecutor struct {
	provider Provider
	client   *http.Client
	baseURL  *url.URL
	logger   *slog.Logger
}

// ExecutorOption configures an HTTPExecutor.
type ExecutorOption func(*HTTPExecutor)

// WithHTTPClient sets the client used to reach tool endpoints.
func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *HTTPExecutor) { e.client = c }
}

// WithBaseURL resolves relative tool endpoints against base.
func WithBaseURL(base *url.URL) ExecutorOption {
	return func(e *HTTPExecutor) { e.baseURL = base }
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *HTTPExecutor) { e.logger = l }
}

// NewHTTPExecutor creates an executor that looks tools up in provider.
func NewHTTPExecutor(provider Provider, opts ...ExecutorOption) *HTTPExecutor {
	e := &HTTPExecutor{
		provider: provider,
		client:   &http.Client{Timeout: DefaultCallTimeout},
		logger:   logger.Get(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CallTool handles an MCP tools/call request. Failures of the tool itself are
// reported in the result with IsError set; only catalogue failures are returned as errors.
func (e *HTTPExecutor) CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.Params.Name

	def, ok, err := e.provider.GetTool(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up tool %s: %w", name, err)
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown tool %q", name)), nil
	}
	if def.Endpoint == "" {
		return mcp.NewToolResultError(fmt.Sprintf("tool %q has no endpoint", def.Name)), nil
	}

	args := map[string]any{}
	if request.Params.Arguments != nil {
		var isObject bool
		if args, isObject = request.Params.Arguments.(map[string]any); !isObject {
			return mcp.NewToolResultError(
				fmt.Sprintf("arguments must be an object, got %T", request.Params.Arguments)), nil
		}
	}

	target, err := e.resolve(def.Endpoint)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("tool %q has an invalid endpoint: %v", def.Name, err)), nil
	}

	body, status, err := e.post(ctx, target, args)
	if err != nil {
		e.logger.Warn("tool call failed", "tool", def.Name, "endpoint", target, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("tool %q call failed: %v", def.Name, err)), nil
	}
	if status < 200 || status >= 300 {
		e.logger.Warn("tool endpoint returned an error", "tool", def.Name, "endpoint", target, "status", status)
		return mcp.NewToolResultError(fmt.Sprintf("tool %q returned %d: %s", def.Name, status, body)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (e *HTTPExecutor) resolve(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if e.baseURL == nil {
		return "", fmt.Errorf("relative endpoint %s without a base URL", endpoint)
	}
	return e.baseURL.ResolveReference(u).String(), nil
}

func (e *HTTPExecutor) post(ctx context.Context, target string, args map[string]any) ([]byte, int, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode arguments: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxToolResponse))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
