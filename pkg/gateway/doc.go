// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gateway provides the session routing and adapter lifecycle core of
// the MCP gateway.
//
// The gateway multiplexes long-lived MCP sessions across adapter instances
// running in Kubernetes and provisions those instances on demand. No gateway
// replica holds authoritative state: session routes live in a distributed
// store and adapter instances are owned by the cluster control plane.
//
// # Architecture
//
//	pkg/gateway/
//	├── types.go       // Shared domain types (Route, Instance, AdapterDefinition)
//	├── errors.go      // Domain errors
//	├── cluster/       // Idempotent create/list/delete of adapter Pods
//	├── nodeinfo/      // Instance readiness and load, bounded staleness
//	├── deployment/    // EnsureProvisioned / Retire
//	├── session/       // Distributed sessionID -> Route store (memory, redis)
//	├── routing/       // ResolveRoute / InvalidateRoute
//	├── resources/     // Adapter and tool definition stores (memory, sqlite)
//	├── tools/         // Tool definition providers (file, store)
//	├── config/        // Configuration model and loader
//	├── telemetry/     // Meter provider and Prometheus handler
//	└── api/           // HTTP management API and session-affine proxy
//
// # Resolution flow
//
// A request carries a session ID and an adapter name. The routing handler reads
// the session store; on a hit whose target is still Ready it returns the cached
// endpoint and slides the expiry. On a miss it takes a lease in the session
// store so that only one replica resolves the session, adopts the least-loaded
// Ready instance reported by the node info provider, or asks the deployment
// manager to provision one, and finally writes the route back with a fresh TTL.
package gateway
