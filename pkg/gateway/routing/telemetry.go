// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
)

const instrumentationName = "github.com/stacklok/mcp-gateway/pkg/gateway/routing"

// Monitor decorates a Resolver so every call records its outcome and duration.
func Monitor(meterProvider metric.MeterProvider, r Resolver) (Resolver, error) {
	meter := meterProvider.Meter(instrumentationName)

	resolutions, err := meter.Int64Counter(
		"mcp_gateway_route_resolutions",
		metric.WithDescription("Total number of route resolutions by adapter and outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create resolutions counter: %w", err)
	}
	duration, err := meter.Float64Histogram(
		"mcp_gateway_route_resolution_duration",
		metric.WithDescription("Duration of route resolutions in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create resolution duration histogram: %w", err)
	}
	invalidations, err := meter.Int64Counter(
		"mcp_gateway_route_invalidations",
		metric.WithDescription("Total number of invalidated session routes by reason"))
	if err != nil {
		return nil, fmt.Errorf("failed to create invalidations counter: %w", err)
	}

	return telemetryResolver{
		resolver:      r,
		resolutions:   resolutions,
		duration:      duration,
		invalidations: invalidations,
	}, nil
}

type telemetryResolver struct {
	resolver      Resolver
	resolutions   metric.Int64Counter
	duration      metric.Float64Histogram
	invalidations metric.Int64Counter
}

var _ Resolver = telemetryResolver{}

func (t telemetryResolver) record(ctx context.Context, adapterName string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = gateway.ErrorKind(err)
	}
	attrs := metric.WithAttributes(
		attribute.String("adapter", adapterName),
		attribute.String("outcome", outcome),
	)
	t.resolutions.Add(ctx, 1, attrs)
	t.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}

func (t telemetryResolver) ResolveRoute(ctx context.Context, sessionID, adapterName string) (gateway.Route, error) {
	start := time.Now()
	route, err := t.resolver.ResolveRoute(ctx, sessionID, adapterName)
	t.record(ctx, adapterName, start, err)
	return route, err
}

func (t telemetryResolver) InvalidateRoute(ctx context.Context, sessionID string) error {
	err := t.resolver.InvalidateRoute(ctx, sessionID)
	if err == nil {
		t.invalidations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "explicit")))
	}
	return err
}

func (t telemetryResolver) ReportStale(ctx context.Context, sessionID, adapterName string) (gateway.Route, error) {
	t.invalidations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "stale")))
	start := time.Now()
	route, err := t.resolver.ReportStale(ctx, sessionID, adapterName)
	t.record(ctx, adapterName, start, err)
	return route, err
}
