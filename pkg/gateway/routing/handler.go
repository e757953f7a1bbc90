// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package routing decides which adapter instance serves an MCP session.
//
// Resolution is sticky: once a session is mapped to an instance, every gateway
// replica routes it there until the mapping expires or is invalidated. Routes
// live only in the session store, never in process memory, so replicas are
// interchangeable.
//
// A miss is resolved by exactly one caller. Callers in the same process are
// collapsed with singleflight; callers in different processes race for a lease
// key in the session store and the losers wait for the winner's route.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
	"github.com/stacklok/mcp-gateway/pkg/gateway/deployment"
	"github.com/stacklok/mcp-gateway/pkg/gateway/nodeinfo"
	"github.com/stacklok/mcp-gateway/pkg/gateway/session"
	"github.com/stacklok/mcp-gateway/pkg/logger"
)

//go:generate mockgen -destination=mocks/mock_resolver.go -package=mocks -source=handler.go Resolver,AdapterLookup

// Resolver is the entry point used by the forwarding layer.
type Resolver interface {
	// ResolveRoute returns the route of the session, assigning or provisioning an
	// instance of the adapter when the session has none. The deadline of ctx bounds
	// the whole resolution.
	ResolveRoute(ctx context.Context, sessionID, adapterName string) (gateway.Route, error)

	// InvalidateRoute forgets the session's route so the next resolution starts over.
	InvalidateRoute(ctx context.Context, sessionID string) error

	// ReportStale invalidates the session's route after a forwarding failure and
	// resolves it once more.
	ReportStale(ctx context.Context, sessionID, adapterName string) (gateway.Route, error)
}

// AdapterLookup fetches adapter definitions by name.
type AdapterLookup interface {
	TryGet(ctx context.Context, name string) (gateway.AdapterDefinition, bool, error)
}

// Config tunes route resolution.
type Config struct {
	// RouteTTL is the sliding lifetime of a session route.
	RouteTTL time.Duration
	// LeaseTTL bounds how long a crashed resolver can block a session.
	LeaseTTL time.Duration
	// ResolveTimeout applies when the caller's context has no deadline.
	ResolveTimeout time.Duration
	// RevalidateInterval is how old a route's last readiness check may get before
	// a hit is checked against the node info provider again.
	RevalidateInterval time.Duration
	// LeasePollInterval is how often a lease loser looks for the winner's route.
	LeasePollInterval time.Duration
	// StoreRetries bounds retries of a failed session store call.
	StoreRetries uint
	// StoreBackoff is the first delay between session store retries.
	StoreBackoff time.Duration
}

// DefaultConfig returns the resolution defaults.
func DefaultConfig() Config {
	return Config{
		RouteTTL:           30 * time.Minute,
		LeaseTTL:           2 * time.Minute,
		ResolveTimeout:     90 * time.Second,
		RevalidateInterval: 30 * time.Second,
		LeasePollInterval:  100 * time.Millisecond,
		StoreRetries:       3,
		StoreBackoff:       50 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RouteTTL <= 0 {
		c.RouteTTL = d.RouteTTL
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = d.LeaseTTL
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = d.ResolveTimeout
	}
	if c.RevalidateInterval < 0 {
		c.RevalidateInterval = d.RevalidateInterval
	}
	if c.LeasePollInterval <= 0 {
		c.LeasePollInterval = d.LeasePollInterval
	}
	if c.StoreBackoff <= 0 {
		c.StoreBackoff = d.StoreBackoff
	}
	return c
}

// Handler implements Resolver.
type Handler struct {
	store       session.Store
	adapters    AdapterLookup
	nodes       nodeinfo.Provider
	provisioner deployment.Provisioner
	cfg         Config
	clock       clock.PassiveClock
	logger      *slog.Logger

	group singleflight.Group
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock sets the clock used to stamp and age routes.
func WithClock(c clock.PassiveClock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithLogger sets the handler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a routing handler over its collaborators.
func NewHandler(
	store session.Store,
	adapters AdapterLookup,
	nodes nodeinfo.Provider,
	provisioner deployment.Provisioner,
	cfg Config,
	opts ...Option,
) *Handler {
	h := &Handler{
		store:       store,
		adapters:    adapters,
		nodes:       nodes,
		provisioner: provisioner,
		cfg:         cfg.withDefaults(),
		clock:       clock.RealClock{},
		logger:      logger.Get(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ Resolver = (*Handler)(nil)

// errMiss means the store holds no usable route for the session.
var errMiss = errors.New("route miss")

// ResolveRoute implements Resolver.
func (h *Handler) ResolveRoute(ctx context.Context, sessionID, adapterName string) (gateway.Route, error) {
	if err := gateway.ValidateSessionID(sessionID); err != nil {
		return gateway.Route{}, err
	}
	if adapterName == "" {
		return gateway.Route{}, fmt.Errorf("%w: adapter name is required", gateway.ErrInvalidInput)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.ResolveTimeout)
		defer cancel()
	}

	def, err := h.adapter(ctx, adapterName)
	if err != nil {
		return gateway.Route{}, err
	}

	route, err := h.lookup(ctx, sessionID, def)
	if err == nil {
		return route, nil
	}
	if !errors.Is(err, errMiss) {
		return gateway.Route{}, err
	}

	ch := h.group.DoChan(sessionID+"/"+def.Name, func() (any, error) {
		// Shared by every waiter: keep the first caller's deadline but not its cancellation.
		deadline, _ := ctx.Deadline()
		sctx, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)
		defer cancel()
		return h.resolveMiss(sctx, sessionID, def)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return gateway.Route{}, res.Err
		}
		return res.Val.(gateway.Route), nil
	case <-ctx.Done():
		return gateway.Route{}, h.deadlineError(ctx, sessionID)
	}
}

// InvalidateRoute implements Resolver.
func (h *Handler) InvalidateRoute(ctx context.Context, sessionID string) error {
	if err := gateway.ValidateSessionID(sessionID); err != nil {
		return err
	}
	if err := h.deleteRoute(ctx, sessionID); err != nil {
		return err
	}
	h.logger.Debug("invalidated session route", "session", sessionID)
	return nil
}

// ReportStale implements Resolver.
func (h *Handler) ReportStale(ctx context.Context, sessionID, adapterName string) (gateway.Route, error) {
	if err := h.InvalidateRoute(ctx, sessionID); err != nil {
		return gateway.Route{}, err
	}
	h.nodes.Invalidate(adapterName)
	return h.ResolveRoute(ctx, sessionID, adapterName)
}

func (h *Handler) adapter(ctx context.Context, name string) (gateway.AdapterDefinition, error) {
	def, ok, err := h.adapters.TryGet(ctx, name)
	if err != nil {
		return gateway.AdapterDefinition{}, fmt.Errorf("failed to look up adapter %s: %w", name, err)
	}
	if !ok {
		return gateway.AdapterDefinition{}, fmt.Errorf("%w: adapter %s", gateway.ErrNotFound, name)
	}
	return def, nil
}

// lookup returns the stored route if it is still usable, or errMiss.
func (h *Handler) lookup(ctx context.Context, sessionID string, def gateway.AdapterDefinition) (gateway.Route, error) {
	route, err := h.getRoute(ctx, sessionID)
	if err != nil {
		return gateway.Route{}, err
	}
	if route.AdapterName != def.Name {
		// One session, one instance: a route to another adapter is replaced.
		h.logger.Debug("session route belongs to another adapter, remapping",
			"session", sessionID, "from", route.AdapterName, "to", def.Name)
		return gateway.Route{}, errMiss
	}

	now := h.clock.Now()
	if now.Sub(route.VerifiedAt) < h.cfg.RevalidateInterval {
		return route, nil
	}

	route, err = h.revalidate(ctx, route, now)
	if errors.Is(err, gateway.ErrStaleRoute) {
		h.logger.Info("session route is stale, resolving again",
			"session", sessionID, "instance", route.InstanceID, "reason", err)
		if err := h.deleteRoute(ctx, sessionID); err != nil {
			return gateway.Route{}, err
		}
		return gateway.Route{}, errMiss
	}
	return route, err
}

// revalidate confirms the route's instance is still Ready and restamps the route.
func (h *Handler) revalidate(ctx context.Context, route gateway.Route, now time.Time) (gateway.Route, error) {
	instances, err := h.nodes.ListInstances(ctx, route.AdapterName)
	if err != nil {
		// Without a fresh observation the cached route is the best answer.
		h.logger.Warn("could not revalidate session route", "session", route.SessionID, "error", err)
		return route, nil
	}

	for _, inst := range instances {
		if inst.ID != route.InstanceID {
			continue
		}
		if !inst.Ready() {
			return route, fmt.Errorf("%w: instance %s is %s", gateway.ErrStaleRoute, inst.ID, inst.Status)
		}
		if inst.Endpoint != route.Endpoint {
			return route, fmt.Errorf("%w: instance %s moved to %s", gateway.ErrStaleRoute, inst.ID, inst.Endpoint)
		}
		route.VerifiedAt = now
		if err := h.putRoute(ctx, route); err != nil {
			return gateway.Route{}, err
		}
		return withTTL(route, now, h.cfg.RouteTTL), nil
	}
	return route, fmt.Errorf("%w: instance %s no longer exists", gateway.ErrStaleRoute, route.InstanceID)
}

// resolveMiss assigns the session an instance while holding its lease, or waits
// for the replica holding the lease to do so.
func (h *Handler) resolveMiss(ctx context.Context, sessionID string, def gateway.AdapterDefinition) (gateway.Route, error) {
	owner := uuid.NewString()
	ticker := time.NewTicker(h.cfg.LeasePollInterval)
	defer ticker.Stop()

	for {
		// Another replica may have finished since we last looked.
		route, err := h.getRoute(ctx, sessionID)
		switch {
		case err == nil && route.AdapterName == def.Name:
			return route, nil
		case err != nil && !errors.Is(err, errMiss):
			return gateway.Route{}, err
		}

		acquired, err := h.acquireLease(ctx, sessionID, owner)
		if err != nil {
			return gateway.Route{}, err
		}
		if acquired {
			return h.assignHoldingLease(ctx, sessionID, owner, def)
		}

		select {
		case <-ctx.Done():
			return gateway.Route{}, h.deadlineError(ctx, sessionID)
		case <-ticker.C:
		}
	}
}

// assignHoldingLease resolves the miss. Work stops when the lease would expire,
// and the release only removes the lease if it is still ours.
func (h *Handler) assignHoldingLease(
	ctx context.Context, sessionID, owner string, def gateway.AdapterDefinition,
) (gateway.Route, error) {
	defer func() {
		released, err := h.store.DeleteIfOwned(context.WithoutCancel(ctx), session.LeaseKey(sessionID), owner)
		switch {
		case err != nil:
			h.logger.Warn("failed to release session lease", "session", sessionID, "error", err)
		case !released:
			h.logger.Warn("session lease expired before resolution finished", "session", sessionID)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, h.cfg.LeaseTTL)
	defer cancel()

	// The previous holder may have stored a route just before releasing the lease.
	if route, err := h.getRoute(ctx, sessionID); err == nil && route.AdapterName == def.Name {
		return route, nil
	}

	inst, source, err := h.pickInstance(ctx, def)
	if err != nil {
		return gateway.Route{}, err
	}

	now := h.clock.Now()
	route := gateway.Route{
		SessionID:   sessionID,
		AdapterName: def.Name,
		InstanceID:  inst.ID,
		Endpoint:    inst.Endpoint,
		VerifiedAt:  now,
	}
	if err := h.putRoute(ctx, route); err != nil {
		return gateway.Route{}, err
	}

	h.logger.Info("assigned session to adapter instance",
		"session", sessionID, "adapter", def.Name, "instance", inst.ID, "source", source)
	return withTTL(route, now, h.cfg.RouteTTL), nil
}

// pickInstance returns the least-loaded Ready instance, provisioning one when none is Ready.
func (h *Handler) pickInstance(ctx context.Context, def gateway.AdapterDefinition) (gateway.Instance, string, error) {
	instances, err := h.nodes.ListInstances(ctx, def.Name)
	if err != nil {
		h.logger.Warn("could not observe adapter instances, provisioning directly",
			"adapter", def.Name, "error", err)
	} else if inst, ok := gateway.SelectLeastLoaded(instances); ok {
		return inst, "adopted", nil
	}

	inst, err := h.provisioner.EnsureProvisioned(ctx, def)
	if err != nil {
		return gateway.Instance{}, "", err
	}
	h.nodes.Invalidate(def.Name)
	return inst, "provisioned", nil
}

func (h *Handler) acquireLease(ctx context.Context, sessionID, owner string) (bool, error) {
	lease := gateway.Route{SessionID: sessionID, InstanceID: owner, VerifiedAt: h.clock.Now()}
	return retryStore(ctx, h, "acquire lease", func() (bool, error) {
		return h.store.PutIfAbsentOrExpired(ctx, session.LeaseKey(sessionID), lease, h.cfg.LeaseTTL)
	})
}

// getRoute reads the session's route, mapping absence to errMiss.
func (h *Handler) getRoute(ctx context.Context, sessionID string) (gateway.Route, error) {
	route, err := retryStore(ctx, h, "get route", func() (gateway.Route, error) {
		return h.store.Get(ctx, session.RouteKey(sessionID))
	})
	if errors.Is(err, session.ErrRouteNotFound) {
		return gateway.Route{}, errMiss
	}
	return route, err
}

func (h *Handler) putRoute(ctx context.Context, route gateway.Route) error {
	_, err := retryStore(ctx, h, "put route", func() (struct{}, error) {
		return struct{}{}, h.store.Put(ctx, session.RouteKey(route.SessionID), route, h.cfg.RouteTTL)
	})
	return err
}

func (h *Handler) deleteRoute(ctx context.Context, sessionID string) error {
	_, err := retryStore(ctx, h, "delete route", func() (struct{}, error) {
		return struct{}{}, h.store.Delete(ctx, session.RouteKey(sessionID))
	})
	return err
}

// deadlineError reports why the caller's context ended. Only a deadline is a
// provisioning timeout; a cancelled caller is reported as such.
func (*Handler) deadlineError(ctx context.Context, sessionID string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: session %s: %w", gateway.ErrProvisioningTimeout, sessionID, ctx.Err())
	}
	return fmt.Errorf("session %s: %w", sessionID, ctx.Err())
}

func withTTL(route gateway.Route, now time.Time, ttl time.Duration) gateway.Route {
	route.ExpiresAt = now.Add(ttl)
	return route
}
