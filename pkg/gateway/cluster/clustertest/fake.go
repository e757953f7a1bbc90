// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package clustertest provides an in-memory control plane for exercising
// adapter provisioning and routing without a Kubernetes cluster.
package clustertest

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/stacklok/mcp-gateway/pkg/gateway/cluster"
)

// Namespace is the namespace fake instances live in.
const Namespace = "mcp-gateway-test"

// Cluster is a fake control plane backed by a fake clientset.
type Cluster struct {
	Clientset *fake.Clientset
	Client    *cluster.KubeClient

	readyOnCreate atomic.Bool
	nextIP        atomic.Int32
}

// New creates an empty fake control plane. Created instances stay Pending until
// MarkReady is called, unless ReadyOnCreate is enabled.
func New() *Cluster {
	c := &Cluster{Clientset: fake.NewClientset()}
	c.Client = cluster.NewKubeClient(c.Clientset, Namespace, nil)

	c.Clientset.PrependReactor("create", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		if !c.readyOnCreate.Load() {
			return false, nil, nil
		}
		if pod, ok := action.(k8stesting.CreateAction).GetObject().(*corev1.Pod); ok {
			c.setReady(pod)
		}
		// Fall through to the object tracker.
		return false, nil, nil
	})
	return c
}

// ReadyOnCreate makes newly created instances Ready immediately.
func (c *Cluster) ReadyOnCreate(enabled bool) {
	c.readyOnCreate.Store(enabled)
}

// MarkReady makes the named instance Running, Ready and addressable.
func (c *Cluster) MarkReady(ctx context.Context, name string) error {
	return c.update(ctx, name, c.setReady)
}

// MarkFailed moves the named instance to the Failed phase.
func (c *Cluster) MarkFailed(ctx context.Context, name string) error {
	return c.update(ctx, name, func(pod *corev1.Pod) {
		pod.Status.Phase = corev1.PodFailed
		setCondition(pod, corev1.PodCondition{
			Type:               corev1.PodReady,
			Status:             corev1.ConditionFalse,
			LastTransitionTime: metav1.NewTime(time.Now()),
		})
	})
}

// MarkUnschedulable reports that no node can host the named instance.
func (c *Cluster) MarkUnschedulable(ctx context.Context, name string) error {
	return c.update(ctx, name, func(pod *corev1.Pod) {
		setCondition(pod, corev1.PodCondition{
			Type:   corev1.PodScheduled,
			Status: corev1.ConditionFalse,
			Reason: corev1.PodReasonUnschedulable,
		})
	})
}

// SetLoad sets the number of active sessions the instance reports.
func (c *Cluster) SetLoad(ctx context.Context, name string, load int) error {
	return c.update(ctx, name, func(pod *corev1.Pod) {
		if pod.Annotations == nil {
			pod.Annotations = map[string]string{}
		}
		pod.Annotations[cluster.LoadAnnotation] = strconv.Itoa(load)
	})
}

// Creates returns the number of create calls issued since the last Reset.
func (c *Cluster) Creates() int {
	return c.count("create")
}

// Calls returns the number of control-plane calls of any kind issued since the last Reset.
func (c *Cluster) Calls() int {
	return len(c.Clientset.Actions())
}

// Reset forgets the recorded calls.
func (c *Cluster) Reset() {
	c.Clientset.ClearActions()
}

func (c *Cluster) count(verb string) int {
	n := 0
	for _, action := range c.Clientset.Actions() {
		if action.GetVerb() == verb && action.GetResource().Resource == "pods" {
			n++
		}
	}
	return n
}

func (c *Cluster) update(ctx context.Context, name string, mutate func(*corev1.Pod)) error {
	pods := c.Clientset.CoreV1().Pods(Namespace)
	pod, err := pods.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get pod %s: %w", name, err)
	}
	mutate(pod)
	if _, err := pods.Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update pod %s: %w", name, err)
	}
	return nil
}

func (c *Cluster) setReady(pod *corev1.Pod) {
	pod.Status.Phase = corev1.PodRunning
	if pod.Status.PodIP == "" {
		pod.Status.PodIP = fmt.Sprintf("10.0.0.%d", c.nextIP.Add(1))
	}
	setCondition(pod, corev1.PodCondition{
		Type:               corev1.PodReady,
		Status:             corev1.ConditionTrue,
		LastTransitionTime: metav1.NewTime(time.Now()),
	})
}

func setCondition(pod *corev1.Pod, cond corev1.PodCondition) {
	for i := range pod.Status.Conditions {
		if pod.Status.Conditions[i].Type == cond.Type {
			pod.Status.Conditions[i] = cond
			return
		}
	}
	pod.Status.Conditions = append(pod.Status.Conditions, cond)
}
