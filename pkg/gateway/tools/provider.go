// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tools serves the catalogue of MCP tools the gateway advertises.
package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
)

// Definition is one advertised tool and where it is served.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Endpoint    string          `json:"endpoint,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// MCPTool converts the definition to its MCP protocol form.
func (d *Definition) MCPTool() mcp.Tool {
	tool := mcp.Tool{
		Name:        d.Name,
		Description: d.Description,
	}
	if len(d.InputSchema) > 0 {
		tool.RawInputSchema = d.InputSchema
	} else {
		tool.InputSchema = mcp.ToolInputSchema{Type: "object"}
	}
	return tool
}

// Provider lists tool definitions.
type Provider interface {
	// ListTools returns every known definition. It never fails because the source is
	// missing or malformed; such sources yield an empty list.
	ListTools(ctx context.Context) ([]Definition, error)

	// GetTool looks a definition up by name, ignoring case.
	GetTool(ctx context.Context, name string) (Definition, bool, error)

	// ListMCPTools returns the definitions as an MCP tools/list result.
	ListMCPTools(ctx context.Context) (*mcp.ListToolsResult, error)
}

// findTool returns the first definition whose name matches ignoring case.
func findTool(defs []Definition, name string) (Definition, bool) {
	for _, d := range defs {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return Definition{}, false
}

func toListToolsResult(defs []Definition) *mcp.ListToolsResult {
	result := &mcp.ListToolsResult{Tools: make([]mcp.Tool, 0, len(defs))}
	for i := range defs {
		result.Tools = append(result.Tools, defs[i].MCPTool())
	}
	return result
}

// FromResource converts a stored tool resource into a definition.
func FromResource(r gateway.ToolResource) Definition {
	return Definition{
		Name:        r.Name,
		Description: r.Description,
		Endpoint:    r.Endpoint,
		InputSchema: r.InputSchema,
	}
}
