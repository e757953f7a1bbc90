// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cluster wraps the Kubernetes control plane with the idempotent
// operations the gateway needs to manage adapter instances.
//
// Every adapter instance is a Pod named "<adapter>-<slot>". Because names are
// deterministic, creating the same slot twice is harmless: the second call
// observes AlreadyExists and reports success without touching the Pod.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
	"github.com/stacklok/mcp-gateway/pkg/logger"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

// Client is the control-plane boundary used by the deployment manager and node info provider.
// All operations are safe to retry.
type Client interface {
	// CreateInstance creates the Pod for an adapter slot and returns its name.
	// Creating a slot that already exists succeeds without modifying it.
	CreateInstance(ctx context.Context, spec InstanceSpec) (string, error)

	// ListInstances returns all Pods belonging to the adapter, in any phase.
	ListInstances(ctx context.Context, adapterName string) ([]corev1.Pod, error)

	// DeleteInstance deletes the named Pod. Deleting a missing Pod is not an error.
	DeleteInstance(ctx context.Context, name string) error
}

// InstanceSpec describes the Pod to create for an adapter slot.
type InstanceSpec struct {
	AdapterName string
	Slot        int
	Image       string
	Port        int32
	Args        []string
	Env         map[string]string
	Labels      map[string]string
}

// Name returns the deterministic Pod name of the slot.
func (s InstanceSpec) Name() string {
	return gateway.InstanceName(s.AdapterName, s.Slot)
}

// NewInstanceSpec builds the spec for a slot of the given adapter definition.
// A non-empty registry is prefixed to images that do not name a registry host.
func NewInstanceSpec(def gateway.AdapterDefinition, slot int, registry string) InstanceSpec {
	return InstanceSpec{
		AdapterName: def.Name,
		Slot:        slot,
		Image:       qualifyImage(def.Image, registry),
		Port:        def.ContainerPort(),
		Args:        def.Args,
		Env:         def.Env,
		Labels:      def.Labels,
	}
}

// qualifyImage prefixes image with registry unless the image already names a registry host.
func qualifyImage(image, registry string) string {
	registry = strings.TrimSuffix(registry, "/")
	if registry == "" {
		return image
	}
	if first, _, found := strings.Cut(image, "/"); found &&
		(strings.ContainsAny(first, ".:") || first == "localhost") {
		return image
	}
	return registry + "/" + image
}

// KubeClient implements Client on top of a typed Kubernetes clientset.
type KubeClient struct {
	client    kubernetes.Interface
	namespace string
	logger    *slog.Logger
}

// NewKubeClient creates a control-plane client scoped to a namespace.
func NewKubeClient(client kubernetes.Interface, namespace string, l *slog.Logger) *KubeClient {
	if l == nil {
		l = logger.Get()
	}
	return &KubeClient{
		client:    client,
		namespace: namespace,
		logger:    l,
	}
}

var _ Client = (*KubeClient)(nil)

// Namespace returns the namespace the client manages instances in.
func (c *KubeClient) Namespace() string {
	return c.namespace
}

// CreateInstance implements Client.
func (c *KubeClient) CreateInstance(ctx context.Context, spec InstanceSpec) (string, error) {
	if spec.AdapterName == "" || spec.Image == "" {
		return "", fmt.Errorf("%w: instance spec requires adapter name and image", gateway.ErrInvalidInput)
	}

	pod := c.buildPod(spec)
	created, err := c.client.CoreV1().Pods(c.namespace).Create(ctx, pod, metav1.CreateOptions{
		FieldManager: fieldManager,
	})
	if err != nil {
		if apierrors.IsAlreadyExists(err) {
			c.logger.Debug("adapter instance already exists", "instance", pod.Name, "namespace", c.namespace)
			return pod.Name, nil
		}
		return "", fmt.Errorf("failed to create pod %s: %w", pod.Name, err)
	}

	c.logger.Info("created adapter instance", "instance", created.Name, "adapter", spec.AdapterName,
		"slot", spec.Slot, "namespace", c.namespace)
	return created.Name, nil
}

// ListInstances implements Client.
func (c *KubeClient) ListInstances(ctx context.Context, adapterName string) ([]corev1.Pod, error) {
	pods, err := c.client.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: adapterSelector(adapterName).String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods for adapter %s: %w", adapterName, err)
	}

	items := pods.Items
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// DeleteInstance implements Client.
func (c *KubeClient) DeleteInstance(ctx context.Context, name string) error {
	err := c.client.CoreV1().Pods(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			c.logger.Debug("adapter instance not found, nothing to delete", "instance", name)
			return nil
		}
		return fmt.Errorf("failed to delete pod %s: %w", name, err)
	}

	c.logger.Info("deleted adapter instance", "instance", name, "namespace", c.namespace)
	return nil
}

// buildPod renders the Pod for an adapter slot.
func (c *KubeClient) buildPod(spec InstanceSpec) *corev1.Pod {
	port := spec.Port
	if port <= 0 {
		port = gateway.DefaultAdapterPort
	}

	envNames := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		envNames = append(envNames, k)
	}
	sort.Strings(envNames)
	env := make([]corev1.EnvVar, 0, len(envNames))
	for _, k := range envNames {
		env = append(env, corev1.EnvVar{Name: k, Value: spec.Env[k]})
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name(),
			Namespace: c.namespace,
			Labels:    instanceLabels(spec),
			Annotations: map[string]string{
				LoadAnnotation: "0",
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyAlways,
			// The gateway addresses instances directly; the hostname keeps logs readable.
			Hostname: spec.Name(),
			Containers: []corev1.Container{
				{
					Name:  containerName,
					Image: spec.Image,
					Args:  spec.Args,
					Env:   env,
					Ports: []corev1.ContainerPort{
						{
							Name:          containerName,
							ContainerPort: port,
							Protocol:      corev1.ProtocolTCP,
						},
					},
					ReadinessProbe: &corev1.Probe{
						ProbeHandler: corev1.ProbeHandler{
							TCPSocket: &corev1.TCPSocketAction{Port: intstr.FromInt32(port)},
						},
						PeriodSeconds:    5,
						FailureThreshold: 3,
					},
					SecurityContext: &corev1.SecurityContext{
						AllowPrivilegeEscalation: ptr.To(false),
						RunAsNonRoot:             ptr.To(true),
					},
				},
			},
		},
	}
}
