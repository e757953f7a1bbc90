// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package k8s provides Kubernetes client construction and namespace detection for the gateway.
package k8s

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stacklok/mcp-gateway/pkg/logger"
)

// GetConfig returns a rest.Config for the control plane.
// An explicit kubeconfig path wins; otherwise the controller-runtime loading order applies
// (KUBECONFIG, in-cluster service account, ~/.kube/config).
func GetConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return getConfigFromKubeconfigFile(kubeconfig)
	}
	config, err := ctrlconfig.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}
	return config, nil
}

// getConfigFromKubeconfigFile builds a rest.Config from a kubeconfig file on disk.
func getConfigFromKubeconfigFile(path string) (*rest.Config, error) {
	config, err := clientcmd.BuildConfigFromFlags("", path)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig %s: %w", path, err)
	}
	return config, nil
}

// NewClient creates a standard Kubernetes clientset.
// It also routes controller-runtime logging through the gateway logger.
func NewClient(kubeconfig string) (kubernetes.Interface, *rest.Config, error) {
	ctrllog.SetLogger(logger.NewLogr())

	config, err := GetConfig(kubeconfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create kubernetes config: %w", err)
	}

	clientset, err := NewClientWithConfig(config)
	if err != nil {
		return nil, nil, err
	}

	return clientset, config, nil
}

// NewClientWithConfig creates a standard Kubernetes clientset from the provided config.
func NewClientWithConfig(config *rest.Config) (kubernetes.Interface, error) {
	if config == nil {
		return nil, fmt.Errorf("failed to create kubernetes client: config cannot be nil")
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return clientset, nil
}
