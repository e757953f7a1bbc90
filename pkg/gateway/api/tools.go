// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
	"github.com/stacklok/mcp-gateway/pkg/gateway/resources"
	"github.com/stacklok/mcp-gateway/pkg/gateway/tools"
)

// ToolRoutes defines the routes for tool management.
type ToolRoutes struct {
	store    resources.ToolStore
	provider tools.Provider
}

// ToolsRouter creates a router for tool management and the advertised tool catalogue.
func ToolsRouter(store resources.ToolStore, provider tools.Provider) http.Handler {
	routes := ToolRoutes{store: store, provider: provider}

	r := chi.NewRouter()
	r.Get("/", ErrorHandler(routes.listTools))
	r.Post("/", ErrorHandler(routes.createTool))
	r.Get("/definitions", ErrorHandler(routes.listDefinitions))
	r.Get("/{name}", ErrorHandler(routes.getTool))
	r.Put("/{name}", ErrorHandler(routes.updateTool))
	r.Delete("/{name}", ErrorHandler(routes.deleteTool))
	return r
}

type toolListResponse struct {
	Tools []gateway.ToolResource `json:"tools"`
}

func (t *ToolRoutes) listTools(w http.ResponseWriter, r *http.Request) error {
	list, err := t.store.List(r.Context())
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	return writeJSON(w, http.StatusOK, toolListResponse{Tools: list})
}

// listDefinitions returns the catalogue as an MCP tools/list result.
func (t *ToolRoutes) listDefinitions(w http.ResponseWriter, r *http.Request) error {
	result, err := t.provider.ListMCPTools(r.Context())
	if err != nil {
		return fmt.Errorf("failed to list tool definitions: %w", err)
	}
	return writeJSON(w, http.StatusOK, result)
}

func (t *ToolRoutes) getTool(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	tool, ok, err := t.store.TryGet(r.Context(), name)
	if err != nil {
		return fmt.Errorf("failed to get tool %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("%w: tool %s", gateway.ErrNotFound, name)
	}
	return writeJSON(w, http.StatusOK, tool)
}

func (t *ToolRoutes) createTool(w http.ResponseWriter, r *http.Request) error {
	var tool gateway.ToolResource
	if err := decodeJSON(r, &tool); err != nil {
		return err
	}
	if err := tool.Validate(); err != nil {
		return err
	}

	_, exists, err := t.store.TryGet(r.Context(), tool.Name)
	if err != nil {
		return fmt.Errorf("failed to check tool %s: %w", tool.Name, err)
	}
	if exists {
		return httperr.WithCode(fmt.Errorf("tool %s already exists", tool.Name), http.StatusConflict)
	}

	stored, err := t.store.Upsert(r.Context(), tool)
	if err != nil {
		return fmt.Errorf("failed to store tool %s: %w", tool.Name, err)
	}
	w.Header().Set("Location", r.URL.Path+"/"+stored.Name)
	return writeJSON(w, http.StatusCreated, stored)
}

func (t *ToolRoutes) updateTool(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	var tool gateway.ToolResource
	if err := decodeJSON(r, &tool); err != nil {
		return err
	}
	if tool.Name == "" {
		tool.Name = name
	}
	if tool.Name != name {
		return fmt.Errorf("%w: body names tool %s but path names %s", gateway.ErrInvalidInput, tool.Name, name)
	}

	stored, err := t.store.Upsert(r.Context(), tool)
	if err != nil {
		return fmt.Errorf("failed to store tool %s: %w", name, err)
	}
	return writeJSON(w, http.StatusOK, stored)
}

func (t *ToolRoutes) deleteTool(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	if err := t.store.Delete(r.Context(), name); err != nil {
		return fmt.Errorf("failed to delete tool %s: %w", name, err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
