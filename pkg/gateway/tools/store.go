// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
)

// ToolLister is the part of the tool store a StoreProvider reads.
type ToolLister interface {
	List(ctx context.Context) ([]gateway.ToolResource, error)
}

// StoreProvider serves the tools registered through the management API.
type StoreProvider struct {
	store ToolLister
}

// NewStoreProvider creates a provider over the tool store.
func NewStoreProvider(store ToolLister) *StoreProvider {
	return &StoreProvider{store: store}
}

var _ Provider = (*StoreProvider)(nil)

// ListTools implements Provider.
func (p *StoreProvider) ListTools(ctx context.Context) ([]Definition, error) {
	resources, err := p.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	defs := make([]Definition, 0, len(resources))
	for _, r := range resources {
		defs = append(defs, FromResource(r))
	}
	return defs, nil
}

// GetTool implements Provider.
func (p *StoreProvider) GetTool(ctx context.Context, name string) (Definition, bool, error) {
	defs, err := p.ListTools(ctx)
	if err != nil {
		return Definition{}, false, err
	}
	d, ok := findTool(defs, name)
	return d, ok, nil
}

// ListMCPTools implements Provider.
func (p *StoreProvider) ListMCPTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	defs, err := p.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	return toListToolsResult(defs), nil
}
