// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session stores the mapping from MCP session ids to the adapter
// instance serving them.
//
// Two variants are provided. MemoryStore serves a single gateway process.
// RedisStore is shared by all gateway replicas and is the only one that gives
// cross-process conditional writes.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
)

// ErrRouteNotFound is returned by Get when the key is absent or expired.
var ErrRouteNotFound = errors.New("route not found")

// Key namespaces. Session ids never contain the separator, so a route key
// and a lease key can never collide.
const (
	routeKeyPrefix = "route:"
	leaseKeyPrefix = "lease:"
)

// RouteKey returns the key holding a session's route.
func RouteKey(sessionID string) string {
	return routeKeyPrefix + sessionID
}

// LeaseKey returns the key guarding resolution of a session.
func LeaseKey(sessionID string) string {
	return leaseKeyPrefix + sessionID
}

// Store is a key/value map of routes with per-key sliding expiry.
//
// Expired entries are never returned. A successful Get or Put restarts the
// entry's TTL. Losing every entry costs latency only.
type Store interface {
	// Get returns the route stored under key and extends its expiry.
	// Returns ErrRouteNotFound if the key is absent or expired.
	Get(ctx context.Context, key string) (gateway.Route, error)

	// PutIfAbsentOrExpired stores the route only if no live entry exists under key.
	// It reports whether the write happened.
	PutIfAbsentOrExpired(ctx context.Context, key string, route gateway.Route, ttl time.Duration) (bool, error)

	// Put stores the route unconditionally. The last writer wins.
	Put(ctx context.Context, key string, route gateway.Route, ttl time.Duration) error

	// Delete removes the entry. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteIfOwned removes the entry only if it is live and its InstanceID is owner.
	// It reports whether the entry was removed.
	DeleteIfOwned(ctx context.Context, key, owner string) (bool, error)

	// Close releases the resources held by the store.
	Close() error
}

// withExpiry stamps the route with the expiry implied by ttl.
func withExpiry(route gateway.Route, now time.Time, ttl time.Duration) gateway.Route {
	if ttl > 0 {
		route.ExpiresAt = now.Add(ttl)
	} else {
		route.ExpiresAt = time.Time{}
	}
	return route
}
