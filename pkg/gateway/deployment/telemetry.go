// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package deployment

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
)

const instrumentationName = "github.com/stacklok/mcp-gateway/pkg/gateway/deployment"

// Monitor decorates a Provisioner so every call records its outcome and duration.
func Monitor(meterProvider metric.MeterProvider, p Provisioner) (Provisioner, error) {
	meter := meterProvider.Meter(instrumentationName)

	provisions, err := meter.Int64Counter(
		"mcp_gateway_provisioning_requests",
		metric.WithDescription("Total number of provisioning requests by adapter and outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create provisioning counter: %w", err)
	}
	duration, err := meter.Float64Histogram(
		"mcp_gateway_provisioning_duration",
		metric.WithDescription("Duration of provisioning requests in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create provisioning duration histogram: %w", err)
	}

	return telemetryProvisioner{
		provisioner: p,
		provisions:  provisions,
		duration:    duration,
	}, nil
}

type telemetryProvisioner struct {
	provisioner Provisioner
	provisions  metric.Int64Counter
	duration    metric.Float64Histogram
}

var _ Provisioner = telemetryProvisioner{}

func (t telemetryProvisioner) EnsureProvisioned(
	ctx context.Context, def gateway.AdapterDefinition,
) (gateway.Instance, error) {
	start := time.Now()
	inst, err := t.provisioner.EnsureProvisioned(ctx, def)

	attrs := metric.WithAttributes(
		attribute.String("adapter", def.Name),
		attribute.String("outcome", Outcome(err)),
	)
	t.provisions.Add(ctx, 1, attrs)
	t.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	return inst, err
}

func (t telemetryProvisioner) Retire(ctx context.Context, adapterName string) error {
	return t.provisioner.Retire(ctx, adapterName)
}

// Outcome names the error kind for metric attributes.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	return gateway.ErrorKind(err)
}
