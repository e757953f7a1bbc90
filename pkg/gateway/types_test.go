// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterDefinition_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		def     AdapterDefinition
		wantErr string
	}{
		{
			name: "valid definition",
			def:  AdapterDefinition{Name: "weather", Image: "ghcr.io/example/weather:1.0", Port: 8000, Replicas: 2},
		},
		{
			name:    "missing name",
			def:     AdapterDefinition{Image: "img"},
			wantErr: "adapter name is required",
		},
		{
			name:    "name is not a DNS label",
			def:     AdapterDefinition{Name: "Weather_API", Image: "img"},
			wantErr: "Weather_API",
		},
		{
			name:    "name too long for slot suffix",
			def:     AdapterDefinition{Name: strings.Repeat("a", 61), Image: "img"},
			wantErr: "aaaaaaaa",
		},
		{
			name:    "missing image",
			def:     AdapterDefinition{Name: "weather"},
			wantErr: "image is required",
		},
		{
			name:    "negative replicas",
			def:     AdapterDefinition{Name: "weather", Image: "img", Replicas: -1},
			wantErr: "replicas must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.def.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAdapterDefinition_Defaults(t *testing.T) {
	t.Parallel()

	def := AdapterDefinition{Name: "weather"}
	assert.Equal(t, 1, def.DesiredReplicas())
	assert.Equal(t, DefaultAdapterPort, def.ContainerPort())

	def.Replicas = 3
	def.Port = 9090
	assert.Equal(t, 3, def.DesiredReplicas())
	assert.Equal(t, int32(9090), def.ContainerPort())
}

func TestInstanceStatus_Live(t *testing.T) {
	t.Parallel()

	assert.True(t, InstanceStatusPending.Live())
	assert.True(t, InstanceStatusReady.Live())
	assert.False(t, InstanceStatusDraining.Live())
	assert.False(t, InstanceStatusFailed.Live())
}

func TestInstance_Ready(t *testing.T) {
	t.Parallel()

	inst := Instance{ID: "weather-0", Status: InstanceStatusReady}
	assert.False(t, inst.Ready(), "ready without an endpoint is not routable")

	inst.Endpoint = "10.0.0.5:8000"
	assert.True(t, inst.Ready())

	inst.Status = InstanceStatusDraining
	assert.False(t, inst.Ready())
}

func TestRoute_Expired(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := Route{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, r.Expired(now))
	assert.True(t, r.Expired(now.Add(time.Minute)))
	assert.False(t, (&Route{}).Expired(now), "zero expiry never expires")
}

func TestToolResource_Validate(t *testing.T) {
	t.Parallel()

	valid := ToolResource{Name: "forecast", Endpoint: "http://weather:8000/forecast", InputSchema: []byte(`{"type":"object"}`)}
	require.NoError(t, valid.Validate())

	invalid := valid
	invalid.InputSchema = []byte(`{"type":`)
	assert.ErrorIs(t, invalid.Validate(), ErrInvalidInput)

	notASchema := valid
	notASchema.InputSchema = []byte(`{"type": 5}`)
	err := notASchema.Validate()
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorContains(t, err, "invalid input schema")

	missing := ToolResource{Name: "forecast"}
	assert.ErrorContains(t, missing.Validate(), "endpoint is required")
}

func TestInstanceName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "weather-0", InstanceName("weather", 0))
	assert.Equal(t, "weather-12", InstanceName("weather", 12))
}

func TestValidateSessionID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "uuid", id: "5b7c3a8e-1f2d-4c6b-9a0e-3d4f5a6b7c8d"},
		{name: "visible ascii", id: "abc_DEF-123.~!"},
		{name: "empty", id: "", wantErr: true},
		{name: "namespace separator", id: "lease:victim", wantErr: true},
		{name: "space", id: "a b", wantErr: true},
		{name: "non ascii", id: "sesión", wantErr: true},
		{name: "too long", id: strings.Repeat("a", MaxSessionIDLength+1), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateSessionID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}
