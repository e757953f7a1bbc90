// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package resources

import (
	"context"
	"errors"
	"fmt"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
)

// Resource store types.
const (
	TypeMemory = "memory"
	TypeSQLite = "sqlite"
)

// DefaultSQLitePath is used when the sqlite store is selected without a path.
const DefaultSQLitePath = "mcp-gateway.db"

// Config selects and configures the resource store.
type Config struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// Stores bundles the adapter and tool stores built from one configuration.
type Stores struct {
	Adapters AdapterStore
	Tools    ToolStore
}

// Close closes both stores.
func (s *Stores) Close() error {
	return errors.Join(s.Adapters.Close(), s.Tools.Close())
}

// New builds the stores selected by cfg. An empty type selects the memory store.
func New(ctx context.Context, cfg Config) (*Stores, error) {
	switch cfg.Type {
	case "", TypeMemory:
		return &Stores{
			Adapters: NewMemoryAdapterStore(),
			Tools:    NewMemoryToolStore(),
		}, nil
	case TypeSQLite:
		path := cfg.Path
		if path == "" {
			path = DefaultSQLitePath
		}
		db, err := OpenDB(ctx, path)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Adapters: NewSQLiteAdapterStore(db),
			Tools:    NewSQLiteToolStore(db),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown resource store type %q", gateway.ErrInvalidConfig, cfg.Type)
	}
}
