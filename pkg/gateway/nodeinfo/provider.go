// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package nodeinfo reports the instances of an adapter together with their
// readiness and load, as observed from the control plane.
//
// Observations may be stale by at most the configured staleness bound.
// The provider is read-only: it never creates or deletes instances.
package nodeinfo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
	"github.com/stacklok/mcp-gateway/pkg/gateway/cluster"
	"github.com/stacklok/mcp-gateway/pkg/logger"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=provider.go Provider

// Provider lists the instances of an adapter.
type Provider interface {
	// ListInstances returns the adapter's instances ordered most-recently-observed first.
	// An adapter without instances yields an empty slice.
	ListInstances(ctx context.Context, adapterName string) ([]gateway.Instance, error)

	// Invalidate drops any cached observation of the adapter so the next call hits the control plane.
	Invalidate(adapterName string)
}

// KubeProvider implements Provider by listing adapter Pods through the cluster client.
type KubeProvider struct {
	client cluster.Client
	cache  *ttlcache.Cache[string, []gateway.Instance]
	logger *slog.Logger
}

// NewKubeProvider creates a provider whose observations are at most stalenessBound old.
// A zero bound disables caching.
func NewKubeProvider(client cluster.Client, stalenessBound time.Duration, l *slog.Logger) *KubeProvider {
	if l == nil {
		l = logger.Get()
	}
	p := &KubeProvider{
		client: client,
		logger: l,
	}
	if stalenessBound > 0 {
		p.cache = ttlcache.New(
			ttlcache.WithTTL[string, []gateway.Instance](stalenessBound),
			// Reads must not extend the lifetime of an observation.
			ttlcache.WithDisableTouchOnHit[string, []gateway.Instance](),
		)
	}
	return p
}

var _ Provider = (*KubeProvider)(nil)

// ListInstances implements Provider.
func (p *KubeProvider) ListInstances(ctx context.Context, adapterName string) ([]gateway.Instance, error) {
	if adapterName == "" {
		return nil, fmt.Errorf("%w: adapter name is required", gateway.ErrInvalidInput)
	}

	if p.cache != nil {
		if item := p.cache.Get(adapterName); item != nil {
			return cloneInstances(item.Value()), nil
		}
	}

	pods, err := p.client.ListInstances(ctx, adapterName)
	if err != nil {
		return nil, fmt.Errorf("failed to observe instances of adapter %s: %w", adapterName, err)
	}
	instances := InstancesFromPods(pods)
	p.logger.Debug("observed adapter instances", "adapter", adapterName, "count", len(instances))

	if p.cache != nil {
		p.cache.Set(adapterName, instances, ttlcache.DefaultTTL)
	}
	return cloneInstances(instances), nil
}

// Invalidate implements Provider.
func (p *KubeProvider) Invalidate(adapterName string) {
	if p.cache != nil {
		p.cache.Delete(adapterName)
	}
}

// cloneInstances keeps callers from mutating cached observations.
func cloneInstances(in []gateway.Instance) []gateway.Instance {
	out := make([]gateway.Instance, len(in))
	copy(out, in)
	return out
}
