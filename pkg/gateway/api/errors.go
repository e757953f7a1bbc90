// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
	"github.com/stacklok/mcp-gateway/pkg/logger"
)

// HandlerWithError is an HTTP handler that can return an error.
type HandlerWithError func(http.ResponseWriter, *http.Request) error

// ErrorHandler wraps a HandlerWithError and converts returned errors into HTTP
// responses. 5xx errors are logged and answered with the status text only;
// 4xx errors are returned to the client as-is.
func ErrorHandler(fn HandlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			writeError(w, r, err)
		}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// The client is gone.
		return
	}

	code := httperr.Code(withStatus(err))
	if code >= http.StatusInternalServerError {
		logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
		http.Error(w, http.StatusText(code), code)
		return
	}
	http.Error(w, err.Error(), code)
}

var statusByError = []struct {
	err  error
	code int
}{
	{gateway.ErrNotFound, http.StatusNotFound},
	{gateway.ErrInvalidInput, http.StatusBadRequest},
	{gateway.ErrCapacityExhausted, http.StatusServiceUnavailable},
	{gateway.ErrProvisioningTimeout, http.StatusGatewayTimeout},
	{gateway.ErrProvisioningFailed, http.StatusBadGateway},
	{gateway.ErrTransientStore, http.StatusServiceUnavailable},
}

// withStatus attaches the HTTP status matching a gateway error. Errors that
// already carry a status keep it.
func withStatus(err error) error {
	if code := httperr.Code(err); code != http.StatusInternalServerError {
		return err
	}
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return httperr.WithCode(err, m.code)
		}
	}
	return err
}
