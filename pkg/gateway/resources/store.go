// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package resources persists the adapter and tool definitions managed through
// the gateway API. Writes are last-write-wins; there are no transactions across
// resources.
package resources

import (
	"context"
	"time"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
)

// Store is a named collection of resources.
type Store[T any] interface {
	// TryGet returns the named resource and whether it exists.
	TryGet(ctx context.Context, name string) (T, bool, error)

	// Upsert creates or replaces the resource. CreatedAt is kept from the stored
	// resource when one exists; UpdatedAt is always set to the current time.
	Upsert(ctx context.Context, resource T) (T, error)

	// Delete removes the named resource. Returns gateway.ErrNotFound if it does not exist.
	Delete(ctx context.Context, name string) error

	// List returns all resources ordered by name.
	List(ctx context.Context) ([]T, error)

	// Close releases the resources held by the store.
	Close() error
}

// AdapterStore holds adapter definitions.
type AdapterStore = Store[gateway.AdapterDefinition]

// ToolStore holds tool metadata.
type ToolStore = Store[gateway.ToolResource]

// kind describes how a store handles one resource type.
type kind[T any] struct {
	// label names the resource in errors and tables.
	label    string
	name     func(*T) string
	validate func(*T) error
	created  func(*T) time.Time
	stamp    func(r *T, created, updated time.Time)
}

var adapterKind = kind[gateway.AdapterDefinition]{
	label:    "adapter",
	name:     func(a *gateway.AdapterDefinition) string { return a.Name },
	validate: func(a *gateway.AdapterDefinition) error { return a.Validate() },
	created:  func(a *gateway.AdapterDefinition) time.Time { return a.CreatedAt },
	stamp: func(a *gateway.AdapterDefinition, created, updated time.Time) {
		a.CreatedAt, a.UpdatedAt = created, updated
	},
}

var toolKind = kind[gateway.ToolResource]{
	label:    "tool",
	name:     func(t *gateway.ToolResource) string { return t.Name },
	validate: func(t *gateway.ToolResource) error { return t.Validate() },
	created:  func(t *gateway.ToolResource) time.Time { return t.CreatedAt },
	stamp: func(t *gateway.ToolResource, created, updated time.Time) {
		t.CreatedAt, t.UpdatedAt = created, updated
	},
}
