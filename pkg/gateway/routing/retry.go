// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
)

// retryStore runs a session store call, retrying transient failures with
// exponential backoff inside the caller's deadline.
func retryStore[T any](ctx context.Context, h *Handler, op string, fn func() (T, error)) (T, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = h.cfg.StoreBackoff
	expBackoff.MaxInterval = 20 * h.cfg.StoreBackoff
	expBackoff.Reset()

	result, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !errors.Is(err, gateway.ErrTransientStore) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(h.cfg.StoreRetries+1), // +1 for the initial attempt
		backoff.WithNotify(func(err error, d time.Duration) {
			h.logger.Warn("session store call failed, retrying", "op", op, "error", err, "backoff", d)
		}),
	)
	if err != nil && !errors.Is(err, gateway.ErrTransientStore) &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		// The deadline ran out between attempts.
		return result, fmt.Errorf("%w: %s: %w", gateway.ErrTransientStore, op, err)
	}
	return result, err
}
