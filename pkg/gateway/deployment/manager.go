// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package deployment reconciles the desired replica count of an adapter against
// the instances observed in the cluster and provisions the missing ones on demand.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
	"github.com/stacklok/mcp-gateway/pkg/gateway/cluster"
	"github.com/stacklok/mcp-gateway/pkg/gateway/nodeinfo"
	"github.com/stacklok/mcp-gateway/pkg/logger"
)

//go:generate mockgen -destination=mocks/mock_provisioner.go -package=mocks -source=manager.go Provisioner

// Provisioner makes sure an adapter has a Ready instance.
type Provisioner interface {
	// EnsureProvisioned returns a Ready instance of the adapter, creating one if needed.
	// The deadline of ctx bounds the wait; an instance still Pending at the deadline is left running.
	EnsureProvisioned(ctx context.Context, def gateway.AdapterDefinition) (gateway.Instance, error)

	// Retire deletes every instance of the adapter.
	Retire(ctx context.Context, adapterName string) error
}

// Config tunes provisioning.
type Config struct {
	// PollInterval is the delay between readiness observations.
	PollInterval time.Duration
	// CreateRetries bounds the retries of a failed create call.
	CreateRetries uint
	// InitialBackoff is the first delay between create retries.
	InitialBackoff time.Duration
	// ContainerRegistry prefixes adapter images that do not name a registry.
	ContainerRegistry string
	// CreateTimeout bounds a single create call. Create calls outlive the caller's context.
	CreateTimeout time.Duration
}

// DefaultConfig returns the provisioning defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   2 * time.Second,
		CreateRetries:  3,
		InitialBackoff: 500 * time.Millisecond,
		CreateTimeout:  30 * time.Second,
	}
}

// Manager implements Provisioner against the cluster control plane.
type Manager struct {
	client cluster.Client
	nodes  nodeinfo.Provider
	cfg    Config
	logger *slog.Logger
	group  singleflight.Group
}

// NewManager creates a deployment manager. nodes may be nil; when set, its cached
// observations of an adapter are dropped whenever the manager changes that adapter.
func NewManager(client cluster.Client, nodes nodeinfo.Provider, cfg Config, l *slog.Logger) *Manager {
	defaults := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = defaults.CreateTimeout
	}
	if l == nil {
		l = logger.Get()
	}
	return &Manager{
		client: client,
		nodes:  nodes,
		cfg:    cfg,
		logger: l,
	}
}

var _ Provisioner = (*Manager)(nil)

// EnsureProvisioned implements Provisioner.
//
// A Ready instance is returned as-is. A Pending instance is adopted and waited on.
// Otherwise exactly one instance is created in the lowest free slot, provided the
// adapter is below its desired replica count. Concurrent calls for the same adapter
// share one observation and at most one create; each caller then waits on its own deadline.
func (m *Manager) EnsureProvisioned(ctx context.Context, def gateway.AdapterDefinition) (gateway.Instance, error) {
	if err := def.Validate(); err != nil {
		return gateway.Instance{}, err
	}

	ch := m.group.DoChan(def.Name, func() (any, error) {
		// Detached so a submitted create survives the caller that triggered it.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.reconcileTimeout())
		defer cancel()
		return m.reconcile(rctx, def)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return gateway.Instance{}, waitError(ctx, "adapter "+def.Name)
	}
	if res.Err != nil {
		return gateway.Instance{}, res.Err
	}

	step := res.Val.(reconcileResult)
	if step.ready != nil {
		return *step.ready, nil
	}
	return m.waitReady(ctx, def.Name, step.target)
}

// reconcileResult is either a Ready instance or the name of the instance to wait on.
type reconcileResult struct {
	ready  *gateway.Instance
	target string
}

func (m *Manager) reconcile(ctx context.Context, def gateway.AdapterDefinition) (reconcileResult, error) {
	pods, err := m.listWithRetry(ctx, def.Name)
	if err != nil {
		return reconcileResult{}, err
	}
	plan := planFor(def, pods)

	if inst, ok := gateway.SelectLeastLoaded(plan.instances); ok {
		return reconcileResult{ready: &inst}, nil
	}

	switch {
	case plan.pending != nil:
		m.logger.Debug("adopting pending adapter instance", "adapter", def.Name, "instance", plan.pending.ID)
		return reconcileResult{target: plan.pending.ID}, nil
	case plan.occupied < def.DesiredReplicas():
		spec := cluster.NewInstanceSpec(def, plan.freeSlot, m.cfg.ContainerRegistry)
		target, err := m.createWithRetry(ctx, spec)
		if err != nil {
			return reconcileResult{}, err
		}
		return reconcileResult{target: target}, nil
	default:
		return reconcileResult{}, fmt.Errorf("%w: adapter %s has %d of %d instances and none is ready",
			gateway.ErrCapacityExhausted, def.Name, plan.occupied, def.DesiredReplicas())
	}
}

// reconcileTimeout bounds one observe-and-create pass including its retries.
func (m *Manager) reconcileTimeout() time.Duration {
	return time.Duration(m.cfg.CreateRetries+2) * m.cfg.CreateTimeout
}

// Retire implements Provisioner.
func (m *Manager) Retire(ctx context.Context, adapterName string) error {
	pods, err := m.listWithRetry(ctx, adapterName)
	if err != nil {
		return err
	}
	defer m.invalidate(adapterName)

	var errs []error
	for i := range pods {
		if err := m.client.DeleteInstance(ctx, pods[i].Name); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to retire adapter %s: %w", adapterName, errors.Join(errs...))
	}
	m.logger.Info("retired adapter instances", "adapter", adapterName, "count", len(pods))
	return nil
}

// provisioningPlan summarizes what the control plane reports for an adapter.
type provisioningPlan struct {
	instances []gateway.Instance
	// pending is the lowest-slot Pending instance, if any.
	pending *gateway.Instance
	// occupied counts instances holding a replica slot: Pending, Ready and Draining.
	occupied int
	// freeSlot is the lowest slot whose name no existing Pod uses.
	freeSlot int
}

func planFor(def gateway.AdapterDefinition, pods []corev1.Pod) provisioningPlan {
	plan := provisioningPlan{instances: nodeinfo.InstancesFromPods(pods)}

	used := make(map[string]struct{}, len(pods))
	for i := range plan.instances {
		inst := &plan.instances[i]
		used[inst.ID] = struct{}{}

		switch inst.Status {
		case gateway.InstanceStatusPending:
			plan.occupied++
			if plan.pending == nil || inst.Slot < plan.pending.Slot {
				plan.pending = inst
			}
		case gateway.InstanceStatusReady, gateway.InstanceStatusDraining:
			plan.occupied++
		case gateway.InstanceStatusFailed:
		}
	}

	for {
		if _, taken := used[gateway.InstanceName(def.Name, plan.freeSlot)]; !taken {
			break
		}
		plan.freeSlot++
	}
	return plan
}

// listWithRetry observes the adapter's Pods, retrying transient control-plane errors.
func (m *Manager) listWithRetry(ctx context.Context, adapterName string) ([]corev1.Pod, error) {
	pods, err := backoff.Retry(ctx, func() ([]corev1.Pod, error) {
		pods, err := m.client.ListInstances(ctx, adapterName)
		if err != nil && !cluster.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return pods, err
	}, m.retryOptions("list", adapterName)...)
	if err != nil {
		return nil, m.classify(ctx, adapterName, err)
	}
	return pods, nil
}

// createWithRetry submits the create for a slot. The call itself is detached from the
// caller's cancellation so a submitted create is never abandoned halfway.
func (m *Manager) createWithRetry(ctx context.Context, spec cluster.InstanceSpec) (string, error) {
	name, err := backoff.Retry(ctx, func() (string, error) {
		createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CreateTimeout)
		defer cancel()

		name, err := m.client.CreateInstance(createCtx, spec)
		if err != nil && !cluster.IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		return name, err
	}, m.retryOptions("create", spec.AdapterName)...)
	if err != nil {
		return "", m.classify(ctx, spec.AdapterName, err)
	}

	m.invalidate(spec.AdapterName)
	m.logger.Info("provisioned adapter instance", "adapter", spec.AdapterName, "instance", name)
	return name, nil
}

func (m *Manager) retryOptions(op, adapterName string) []backoff.RetryOption {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = m.cfg.InitialBackoff
	expBackoff.MaxInterval = 20 * m.cfg.InitialBackoff
	expBackoff.Reset()

	return []backoff.RetryOption{
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(m.cfg.CreateRetries + 1), // +1 for the initial attempt
		backoff.WithNotify(func(err error, d time.Duration) {
			m.logger.Warn("control plane call failed, retrying",
				"op", op, "adapter", adapterName, "error", err, "backoff", d)
		}),
	}
}

// classify maps a control-plane failure onto the gateway error kinds. Definitions
// are validated before any call, so a rejected request is a provisioning failure.
func (*Manager) classify(ctx context.Context, adapterName string, err error) error {
	switch {
	case cluster.IsCapacityError(err):
		return fmt.Errorf("%w: adapter %s: %w", gateway.ErrCapacityExhausted, adapterName, err)
	case errors.Is(ctx.Err(), context.Canceled) && errors.Is(err, context.Canceled):
		return fmt.Errorf("adapter %s: %w", adapterName, err)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return fmt.Errorf("%w: adapter %s: %w", gateway.ErrProvisioningTimeout, adapterName, err)
	default:
		return fmt.Errorf("%w: adapter %s: %w", gateway.ErrProvisioningFailed, adapterName, err)
	}
}

// waitReady polls the control plane until the named instance is Ready.
func (m *Manager) waitReady(ctx context.Context, adapterName, instanceID string) (gateway.Instance, error) {
	var (
		result  gateway.Instance
		lastErr error
	)

	err := wait.PollUntilContextCancel(ctx, m.cfg.PollInterval, true, func(ctx context.Context) (bool, error) {
		pods, err := m.client.ListInstances(ctx, adapterName)
		if err != nil {
			if cluster.IsTransient(err) || ctx.Err() != nil {
				lastErr = err
				return false, nil
			}
			return false, fmt.Errorf("%w: adapter %s: %w", gateway.ErrProvisioningFailed, adapterName, err)
		}

		for i := range pods {
			if pods[i].Name != instanceID {
				continue
			}
			inst := nodeinfo.InstanceFromPod(&pods[i])
			switch {
			case inst.Ready():
				result = inst
				return true, nil
			case inst.Status.Terminal(), inst.Status == gateway.InstanceStatusDraining:
				return false, fmt.Errorf("%w: instance %s is %s", gateway.ErrProvisioningFailed, instanceID, inst.Status)
			case nodeinfo.IsUnschedulable(&pods[i]):
				return false, fmt.Errorf("%w: instance %s cannot be scheduled", gateway.ErrCapacityExhausted, instanceID)
			}
			return false, nil
		}
		// The instance may not be visible yet right after create.
		return false, nil
	})

	if err == nil {
		m.invalidate(adapterName)
		return result, nil
	}
	if wait.Interrupted(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		m.logger.Info("adapter instance not ready before deadline, leaving it running",
			"adapter", adapterName, "instance", instanceID, "last_error", lastErr)
		return gateway.Instance{}, waitError(ctx, "instance "+instanceID+" is still pending")
	}
	m.invalidate(adapterName)
	return gateway.Instance{}, err
}

// waitError reports a wait cut short by ctx. Only a deadline is a provisioning timeout.
func waitError(ctx context.Context, what string) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", what, ctx.Err())
	}
	return fmt.Errorf("%w: %s: %w", gateway.ErrProvisioningTimeout, what, context.DeadlineExceeded)
}

func (m *Manager) invalidate(adapterName string) {
	if m.nodes != nil {
		m.nodes.Invalidate(adapterName)
	}
}
