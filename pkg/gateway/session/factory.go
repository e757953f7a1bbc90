// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
)

// Store variants selectable by configuration.
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
)

// Config selects and configures a Store variant.
type Config struct {
	Type  string
	Redis RedisConfig
}

// New creates the Store variant named by cfg.Type. An empty type selects memory.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "", TypeMemory:
		return NewMemoryStore(), nil
	case TypeRedis:
		return NewRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("%w: unknown session store type %q", gateway.ErrInvalidConfig, cfg.Type)
	}
}
