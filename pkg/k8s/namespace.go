// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package k8s

import (
	"os"
	"strings"

	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

const (
	fallbackNamespace   = "default"
	inClusterNamespace  = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
	podNamespaceEnvName = "POD_NAMESPACE"
)

// ResolveNamespace picks the namespace adapter instances are created in. A
// configured namespace wins. Otherwise the first of the in-cluster service
// account, $POD_NAMESPACE and the current kubeconfig context that names one is
// used, and "default" when none does.
func ResolveNamespace(configured string) string {
	return defaultDetector().resolve(configured)
}

// namespaceDetector holds the places a namespace can be discovered from.
type namespaceDetector struct {
	namespaceFile   string
	getenv     func(string) string
	kubeconfig func() (clientcmdapi.Config, error)
}

func defaultDetector() namespaceDetector {
	return namespaceDetector{
		namespaceFile: inClusterNamespace,
		getenv:   os.Getenv,
		kubeconfig: func() (clientcmdapi.Config, error) {
			return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
				clientcmd.NewDefaultClientConfigLoadingRules(), &clientcmd.ConfigOverrides{},
			).RawConfig()
		},
	}
}

func (d namespaceDetector) resolve(configured string) string {
	if ns := strings.TrimSpace(configured); ns != "" {
		return ns
	}
	for _, source := range []func() string{d.serviceAccount, d.environment, d.currentContext} {
		if ns := source(); ns != "" {
			return ns
		}
	}
	return fallbackNamespace
}

// serviceAccount reads the namespace file mounted into pods. Only line endings are stripped.
func (d namespaceDetector) serviceAccount() string {
	data, err := os.ReadFile(d.namespaceFile) //nolint:gosec // G304: fixed path outside tests
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(data), "\r\n")
}

func (d namespaceDetector) environment() string {
	return d.getenv(podNamespaceEnvName)
}

func (d namespaceDetector) currentContext() string {
	cfg, err := d.kubeconfig()
	if err != nil || cfg.CurrentContext == "" {
		return ""
	}
	kctx, ok := cfg.Contexts[cfg.CurrentContext]
	if !ok {
		return ""
	}
	return strings.TrimSpace(kctx.Namespace)
}
