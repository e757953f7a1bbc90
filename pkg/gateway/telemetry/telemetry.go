// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exposes the gateway's OpenTelemetry metrics in the
// Prometheus text format.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Config controls what the metrics endpoint exports.
type Config struct {
	// IncludeRuntimeMetrics adds Go runtime and process collectors.
	IncludeRuntimeMetrics bool
}

// Provider owns the meter provider and the registry the /metrics handler serves.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	handler       http.Handler
}

// NewProvider creates a meter provider backed by a dedicated Prometheus registry.
func NewProvider(cfg Config) (*Provider, error) {
	registry := prometheus.NewRegistry()
	if cfg.IncludeRuntimeMetrics {
		if err := registry.Register(collectors.NewGoCollector()); err != nil {
			return nil, fmt.Errorf("failed to register go collector: %w", err)
		}
		if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, fmt.Errorf("failed to register process collector: %w", err)
		}
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	return &Provider{
		meterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)),
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, nil
}

// MeterProvider returns the provider components record their metrics with.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return p.handler
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.meterProvider.Shutdown(ctx)
}
