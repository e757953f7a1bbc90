// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
)

// Domain errors shared by the gateway subpackages.
// Each kind is reported as-is to the caller and checked with errors.Is().

var (
	// ErrNotFound indicates the adapter (or another named resource) has no definition.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates invalid input parameters.
	// Wrapping errors should specify which parameter is invalid and why.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfig indicates invalid configuration was provided.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrProvisioningTimeout indicates the deadline was reached while the instance was still Pending.
	ErrProvisioningTimeout = errors.New("provisioning timed out")

	// ErrProvisioningFailed indicates the control plane reported a terminal error after retries.
	ErrProvisioningFailed = errors.New("provisioning failed")

	// ErrCapacityExhausted indicates there is no creatable slot and no Ready instance.
	ErrCapacityExhausted = errors.New("capacity exhausted")

	// ErrTransientStore indicates the session store could not be reached within the deadline.
	ErrTransientStore = errors.New("session store unavailable")

	// ErrStaleRoute indicates a cached route points at an instance that is no longer usable.
	// It is handled inside the routing handler and never returned from ResolveRoute.
	ErrStaleRoute = errors.New("stale route")
)

// ErrorKind returns a short stable name for the error kind, used in metrics and responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidConfig):
		return "invalid_input"
	case errors.Is(err, ErrProvisioningTimeout):
		return "provisioning_timeout"
	case errors.Is(err, ErrProvisioningFailed):
		return "provisioning_failed"
	case errors.Is(err, ErrCapacityExhausted):
		return "capacity_exhausted"
	case errors.Is(err, ErrTransientStore):
		return "transient_store"
	case errors.Is(err, ErrStaleRoute):
		return "stale_route"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
