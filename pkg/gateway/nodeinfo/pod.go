// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package nodeinfo

import (
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
	"github.com/stacklok/mcp-gateway/pkg/gateway/cluster"
)

// terminalWaitReasons are container waiting reasons the kubelet will not recover from on its own.
var terminalWaitReasons = map[string]struct{}{
	"CrashLoopBackOff":           {},
	"InvalidImageName":           {},
	"CreateContainerConfigError": {},
	"CreateContainerError":       {},
}

// InstanceFromPod maps an adapter Pod to the instance the gateway reasons about.
func InstanceFromPod(pod *corev1.Pod) gateway.Instance {
	return gateway.Instance{
		ID:          pod.Name,
		AdapterName: pod.Labels[cluster.AdapterLabel],
		Endpoint:    podEndpoint(pod),
		Slot:        podSlot(pod),
		Status:      podStatus(pod),
		Load:        podLoad(pod),
		ObservedAt:  observedAt(pod),
	}
}

// InstancesFromPods maps Pods to instances ordered most-recently-observed first.
// Ties are broken by instance ID so the order is deterministic.
func InstancesFromPods(pods []corev1.Pod) []gateway.Instance {
	instances := make([]gateway.Instance, 0, len(pods))
	for i := range pods {
		instances = append(instances, InstanceFromPod(&pods[i]))
	}
	sort.SliceStable(instances, func(i, j int) bool {
		if !instances[i].ObservedAt.Equal(instances[j].ObservedAt) {
			return instances[i].ObservedAt.After(instances[j].ObservedAt)
		}
		return instances[i].ID < instances[j].ID
	})
	return instances
}

// IsUnschedulable reports whether the scheduler could not place the Pod anywhere.
func IsUnschedulable(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodScheduled &&
			cond.Status == corev1.ConditionFalse &&
			cond.Reason == corev1.PodReasonUnschedulable {
			return true
		}
	}
	return false
}

func podStatus(pod *corev1.Pod) gateway.InstanceStatus {
	if pod.DeletionTimestamp != nil {
		return gateway.InstanceStatusDraining
	}

	switch pod.Status.Phase {
	case corev1.PodFailed, corev1.PodSucceeded:
		return gateway.InstanceStatusFailed
	case corev1.PodRunning:
		if podReady(pod) && pod.Status.PodIP != "" {
			return gateway.InstanceStatusReady
		}
	}

	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil {
			if _, ok := terminalWaitReasons[cs.State.Waiting.Reason]; ok {
				return gateway.InstanceStatusFailed
			}
		}
	}
	return gateway.InstanceStatusPending
}

func podReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

func podEndpoint(pod *corev1.Pod) string {
	if pod.Status.PodIP == "" {
		return ""
	}
	port := gateway.DefaultAdapterPort
	for _, c := range pod.Spec.Containers {
		if len(c.Ports) > 0 {
			port = c.Ports[0].ContainerPort
			break
		}
	}
	return net.JoinHostPort(pod.Status.PodIP, strconv.Itoa(int(port)))
}

func podSlot(pod *corev1.Pod) int {
	if v, ok := pod.Labels[cluster.SlotLabel]; ok {
		if slot, err := strconv.Atoi(v); err == nil {
			return slot
		}
	}
	if idx := strings.LastIndexByte(pod.Name, '-'); idx >= 0 {
		if slot, err := strconv.Atoi(pod.Name[idx+1:]); err == nil {
			return slot
		}
	}
	return -1
}

func podLoad(pod *corev1.Pod) int {
	v, ok := pod.Annotations[cluster.LoadAnnotation]
	if !ok {
		return 0
	}
	load, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || load < 0 {
		return 0
	}
	return load
}

// observedAt is the time of the most recent state change the control plane reported for the Pod.
func observedAt(pod *corev1.Pod) time.Time {
	latest := pod.CreationTimestamp.Time
	for _, cond := range pod.Status.Conditions {
		if cond.LastTransitionTime.After(latest) {
			latest = cond.LastTransitionTime.Time
		}
	}
	if pod.DeletionTimestamp != nil && pod.DeletionTimestamp.After(latest) {
		latest = pod.DeletionTimestamp.Time
	}
	return latest
}
