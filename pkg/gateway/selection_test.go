// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func readyInstance(slot, load int) Instance {
	return Instance{
		ID:          InstanceName("weather", slot),
		AdapterName: "weather",
		Endpoint:    "10.0.0.1:8000",
		Slot:        slot,
		Status:      InstanceStatusReady,
		Load:        load,
	}
}

func TestSelectLeastLoaded(t *testing.T) {
	t.Parallel()

	pending := readyInstance(0, 0)
	pending.Status = InstanceStatusPending
	noEndpoint := readyInstance(5, 0)
	noEndpoint.Endpoint = ""

	tests := []struct {
		name      string
		instances []Instance
		wantID    string
		wantFound bool
	}{
		{
			name:      "empty",
			instances: nil,
		},
		{
			name:      "only non-ready",
			instances: []Instance{pending, noEndpoint},
		},
		{
			name:      "least loaded wins",
			instances: []Instance{readyInstance(0, 2), readyInstance(1, 1)},
			wantID:    "weather-1",
			wantFound: true,
		},
		{
			name:      "tie goes to lowest id",
			instances: []Instance{readyInstance(3, 1), readyInstance(1, 1), readyInstance(2, 1)},
			wantID:    "weather-1",
			wantFound: true,
		},
		{
			name:      "tie compares slots numerically",
			instances: []Instance{readyInstance(10, 0), readyInstance(2, 0)},
			wantID:    "weather-2",
			wantFound: true,
		},
		{
			name:      "non-ready ignored even when idle",
			instances: []Instance{pending, readyInstance(4, 7)},
			wantID:    "weather-4",
			wantFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, found := SelectLeastLoaded(tt.instances)
			assert.Equal(t, tt.wantFound, found)
			if tt.wantFound {
				assert.Equal(t, tt.wantID, got.ID)
			}
		})
	}
}
