// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
	"github.com/stacklok/mcp-gateway/pkg/gateway/deployment"
	"github.com/stacklok/mcp-gateway/pkg/gateway/resources"
)

// AdapterRoutes defines the routes for adapter management.
type AdapterRoutes struct {
	store       resources.AdapterStore
	provisioner deployment.Provisioner
	logger      *slog.Logger

	// provisionTimeout bounds background pre-provisioning. Zero disables it.
	provisionTimeout time.Duration
}

// AdaptersRouter creates a router for adapter management and MCP traffic.
func AdaptersRouter(
	store resources.AdapterStore,
	provisioner deployment.Provisioner,
	proxy http.Handler,
	provisionTimeout time.Duration,
	l *slog.Logger,
) http.Handler {
	routes := AdapterRoutes{
		store:            store,
		provisioner:      provisioner,
		logger:           l,
		provisionTimeout: provisionTimeout,
	}

	r := chi.NewRouter()
	r.Get("/", ErrorHandler(routes.listAdapters))
	r.Post("/", ErrorHandler(routes.createAdapter))
	r.Get("/{name}", ErrorHandler(routes.getAdapter))
	r.Put("/{name}", ErrorHandler(routes.updateAdapter))
	r.Delete("/{name}", ErrorHandler(routes.deleteAdapter))
	r.Handle("/{name}/mcp", proxy)
	return r
}

type adapterListResponse struct {
	Adapters []gateway.AdapterDefinition `json:"adapters"`
}

func (a *AdapterRoutes) listAdapters(w http.ResponseWriter, r *http.Request) error {
	adapters, err := a.store.List(r.Context())
	if err != nil {
		return fmt.Errorf("failed to list adapters: %w", err)
	}
	return writeJSON(w, http.StatusOK, adapterListResponse{Adapters: adapters})
}

func (a *AdapterRoutes) getAdapter(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	def, ok, err := a.store.TryGet(r.Context(), name)
	if err != nil {
		return fmt.Errorf("failed to get adapter %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("%w: adapter %s", gateway.ErrNotFound, name)
	}
	return writeJSON(w, http.StatusOK, def)
}

// createAdapter registers a new adapter. Registering an existing name is a conflict;
// use PUT to replace a definition.
func (a *AdapterRoutes) createAdapter(w http.ResponseWriter, r *http.Request) error {
	var def gateway.AdapterDefinition
	if err := decodeJSON(r, &def); err != nil {
		return err
	}
	if err := def.Validate(); err != nil {
		return err
	}

	_, exists, err := a.store.TryGet(r.Context(), def.Name)
	if err != nil {
		return fmt.Errorf("failed to check adapter %s: %w", def.Name, err)
	}
	if exists {
		return httperr.WithCode(fmt.Errorf("adapter %s already exists", def.Name), http.StatusConflict)
	}

	stored, err := a.store.Upsert(r.Context(), def)
	if err != nil {
		return fmt.Errorf("failed to store adapter %s: %w", def.Name, err)
	}
	a.logger.Info("adapter registered", "adapter", stored.Name, "image", stored.Image)
	a.preProvision(r.Context(), stored)

	w.Header().Set("Location", r.URL.Path+"/"+stored.Name)
	return writeJSON(w, http.StatusCreated, stored)
}

func (a *AdapterRoutes) updateAdapter(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	var def gateway.AdapterDefinition
	if err := decodeJSON(r, &def); err != nil {
		return err
	}
	if def.Name == "" {
		def.Name = name
	}
	if def.Name != name {
		return fmt.Errorf("%w: body names adapter %s but path names %s", gateway.ErrInvalidInput, def.Name, name)
	}

	stored, err := a.store.Upsert(r.Context(), def)
	if err != nil {
		return fmt.Errorf("failed to store adapter %s: %w", name, err)
	}
	return writeJSON(w, http.StatusOK, stored)
}

// deleteAdapter retires every instance of the adapter before forgetting it, so a
// failed retirement can be retried with the definition still in place.
func (a *AdapterRoutes) deleteAdapter(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	if _, ok, err := a.store.TryGet(r.Context(), name); err != nil {
		return fmt.Errorf("failed to get adapter %s: %w", name, err)
	} else if !ok {
		return fmt.Errorf("%w: adapter %s", gateway.ErrNotFound, name)
	}

	if err := a.provisioner.Retire(r.Context(), name); err != nil {
		return fmt.Errorf("failed to retire adapter %s: %w", name, err)
	}
	if err := a.store.Delete(r.Context(), name); err != nil {
		return fmt.Errorf("failed to delete adapter %s: %w", name, err)
	}
	a.logger.Info("adapter deleted", "adapter", name)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (a *AdapterRoutes) preProvision(ctx context.Context, def gateway.AdapterDefinition) {
	if a.provisionTimeout <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.provisionTimeout)
	go func() {
		defer cancel()
		inst, err := a.provisioner.EnsureProvisioned(ctx, def)
		if err != nil {
			a.logger.Warn("pre-provisioning failed", "adapter", def.Name, "error", err)
			return
		}
		a.logger.Info("adapter pre-provisioned", "adapter", def.Name, "instance", inst.ID)
	}()
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: failed to decode request: %v", gateway.ErrInvalidInput, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return nil
}
