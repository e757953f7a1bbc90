// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"k8s.io/apimachinery/pkg/util/validation"
)

// This file contains shared domain types used across multiple gateway subpackages.

// InstanceStatus is the lifecycle state of an adapter instance as observed from the control plane.
// The gateway never transitions an instance itself; it only creates instances and observes them.
type InstanceStatus string

const (
	// InstanceStatusPending means the instance was created but is not yet schedulable and healthy.
	InstanceStatusPending InstanceStatus = "pending"
	// InstanceStatusReady means the instance can serve sessions.
	InstanceStatusReady InstanceStatus = "ready"
	// InstanceStatusDraining means the control plane is tearing the instance down.
	InstanceStatusDraining InstanceStatus = "draining"
	// InstanceStatusFailed means the instance terminated or failed its health checks.
	InstanceStatusFailed InstanceStatus = "failed"
)

// String returns the string representation of the status.
func (s InstanceStatus) String() string {
	return string(s)
}

// Live reports whether the instance counts towards the adapter's replica count.
// Draining and failed instances are out of consideration and never come back.
func (s InstanceStatus) Live() bool {
	return s == InstanceStatusPending || s == InstanceStatusReady
}

// Terminal reports whether the instance has failed for good.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusFailed
}

// Instance is a single adapter worker as observed through the node info provider.
type Instance struct {
	// ID is the control-plane name of the instance, e.g. "weather-0".
	ID string

	// AdapterName is the adapter this instance belongs to.
	AdapterName string

	// Endpoint is the host:port the instance serves MCP traffic on.
	// Empty until the control plane assigns an address.
	Endpoint string

	// Slot is the replica slot index encoded in the instance name.
	Slot int

	// Status is the observed lifecycle state.
	Status InstanceStatus

	// Load is the number of active sessions reported by the instance.
	Load int

	// ObservedAt is the last time the control plane reported a change for this instance.
	ObservedAt time.Time
}

// Ready reports whether the instance can be handed to a session.
func (i *Instance) Ready() bool {
	return i.Status == InstanceStatusReady && i.Endpoint != ""
}

// Route maps a session to the adapter instance currently serving it.
type Route struct {
	SessionID   string    `json:"session_id"`
	AdapterName string    `json:"adapter_name"`
	InstanceID  string    `json:"instance_id"`
	Endpoint    string    `json:"endpoint"`
	ExpiresAt   time.Time `json:"expires_at"`
	// VerifiedAt is the last time the target was confirmed Ready by the node info provider.
	VerifiedAt time.Time `json:"verified_at"`
}

// MaxSessionIDLength bounds the session ids the gateway accepts.
const MaxSessionIDLength = 256

// ValidateSessionID checks that id is non-empty, at most MaxSessionIDLength
// visible ASCII characters, and free of ':', which separates store key namespaces.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	if len(id) > MaxSessionIDLength {
		return fmt.Errorf("%w: session id longer than %d characters", ErrInvalidInput, MaxSessionIDLength)
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x21 || c > 0x7e || c == ':' {
			return fmt.Errorf("%w: session id contains invalid character %q", ErrInvalidInput, c)
		}
	}
	return nil
}

// Expired reports whether the route is no longer valid at the given time.
func (r *Route) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// AdapterDefinition describes a named adapter and how to deploy it.
// The gateway consumes it read-only.
type AdapterDefinition struct {
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Port        int32             `json:"port"`
	Replicas    int               `json:"replicas"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// DefaultAdapterPort is the port adapters listen on when the definition does not set one.
const DefaultAdapterPort int32 = 8000

// DesiredReplicas returns the desired replica count, never less than one.
func (d *AdapterDefinition) DesiredReplicas() int {
	if d.Replicas < 1 {
		return 1
	}
	return d.Replicas
}

// ContainerPort returns the adapter port, falling back to DefaultAdapterPort.
func (d *AdapterDefinition) ContainerPort() int32 {
	if d.Port <= 0 {
		return DefaultAdapterPort
	}
	return d.Port
}

// Validate checks that the definition can be deployed.
// Names must be DNS-1123 labels because they become part of Pod names.
func (d *AdapterDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: adapter name is required", ErrInvalidInput)
	}
	// Leave room for the "-<slot>" suffix.
	if errs := validation.IsDNS1123Label(d.Name + "-99"); len(errs) > 0 {
		return fmt.Errorf("%w: adapter name %q: %s", ErrInvalidInput, d.Name, strings.Join(errs, "; "))
	}
	if d.Image == "" {
		return fmt.Errorf("%w: adapter %s: image is required", ErrInvalidInput, d.Name)
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("%w: adapter %s: port %d out of range", ErrInvalidInput, d.Name, d.Port)
	}
	if d.Replicas < 0 {
		return fmt.Errorf("%w: adapter %s: replicas must not be negative", ErrInvalidInput, d.Name)
	}
	return nil
}

// ToolResource is tool metadata managed through the tool store.
type ToolResource struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Endpoint    string            `json:"endpoint"`
	InputSchema json.RawMessage   `json:"input_schema,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Validate checks the tool resource for required fields.
func (t *ToolResource) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: tool name is required", ErrInvalidInput)
	}
	if t.Endpoint == "" {
		return fmt.Errorf("%w: tool %s: endpoint is required", ErrInvalidInput, t.Name)
	}
	if len(t.InputSchema) == 0 {
		return nil
	}
	if !json.Valid(t.InputSchema) {
		return fmt.Errorf("%w: tool %s: input schema is not valid JSON", ErrInvalidInput, t.Name)
	}
	if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(t.InputSchema)); err != nil {
		return fmt.Errorf("%w: tool %s: invalid input schema: %v", ErrInvalidInput, t.Name, err)
	}
	return nil
}

// InstanceName returns the deterministic control-plane name of an adapter slot.
func InstanceName(adapterName string, slot int) string {
	return fmt.Sprintf("%s-%d", adapterName, slot)
}
