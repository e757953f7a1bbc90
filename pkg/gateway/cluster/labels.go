// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"strconv"

	"k8s.io/apimachinery/pkg/labels"
)

const (
	// ManagedByLabel marks every Pod created by the gateway.
	ManagedByLabel = "app.kubernetes.io/managed-by"
	// ManagedByValue is the value of ManagedByLabel.
	ManagedByValue = "mcp-gateway"
	// AdapterLabel carries the adapter name.
	AdapterLabel = "mcp-gateway.stacklok.dev/adapter"
	// SlotLabel carries the replica slot index.
	SlotLabel = "mcp-gateway.stacklok.dev/slot"
	// LoadAnnotation is maintained by the adapter with its number of active sessions.
	LoadAnnotation = "mcp-gateway.stacklok.dev/load"

	// containerName is the name of the adapter container inside the Pod.
	containerName = "mcp"
	// fieldManager identifies the gateway as the writer of the Pods it creates.
	fieldManager = "mcp-gateway"
)

// adapterSelector selects all Pods of an adapter.
func adapterSelector(adapterName string) labels.Selector {
	return labels.SelectorFromSet(labels.Set{
		ManagedByLabel: ManagedByValue,
		AdapterLabel:   adapterName,
	})
}

// instanceLabels returns the labels of an adapter slot. Gateway labels override user labels.
func instanceLabels(spec InstanceSpec) map[string]string {
	result := make(map[string]string, len(spec.Labels)+3)
	for k, v := range spec.Labels {
		result[k] = v
	}
	result[ManagedByLabel] = ManagedByValue
	result[AdapterLabel] = spec.AdapterName
	result[SlotLabel] = strconv.Itoa(spec.Slot)
	return result
}
