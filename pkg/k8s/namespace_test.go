// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package k8s

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

func kubeconfigWith(current string, namespaces map[string]string) func() (clientcmdapi.Config, error) {
	return func() (clientcmdapi.Config, error) {
		cfg := clientcmdapi.Config{CurrentContext: current, Contexts: map[string]*clientcmdapi.Context{}}
		for name, ns := range namespaces {
			cfg.Contexts[name] = &clientcmdapi.Context{Namespace: ns}
		}
		return cfg, nil
	}
}

func envWith(value string) func(string) string {
	return func(key string) string {
		if key == podNamespaceEnvName {
			return value
		}
		return ""
	}
}

func TestResolveNamespace_Configured(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "adapters", ResolveNamespace("adapters"))
	assert.Equal(t, "adapters", ResolveNamespace("  adapters "))
	assert.NotEmpty(t, ResolveNamespace(""), "detection always falls back to a namespace")
}

func TestNamespaceDetector_Resolve(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeNS := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}
	mounted := writeNS("mounted", "mcp-adapters\n")
	crlf := writeNS("crlf", "mcp-adapters\r\n")
	blank := writeNS("blank", "\n\n")
	missing := filepath.Join(dir, "missing")

	noKubeconfig := func() (clientcmdapi.Config, error) { return clientcmdapi.Config{}, errors.New("no kubeconfig") }

	tests := []struct {
		name       string
		configured string
		detector   namespaceDetector
		want       string
	}{
		{
			name:       "configured namespace wins",
			configured: "explicit",
			detector:   namespaceDetector{namespaceFile: mounted, getenv: envWith("pod-ns"), kubeconfig: noKubeconfig},
			want:       "explicit",
		},
		{
			name:     "service account file first",
			detector: namespaceDetector{namespaceFile: mounted, getenv: envWith("pod-ns"), kubeconfig: noKubeconfig},
			want:     "mcp-adapters",
		},
		{
			name:     "service account file line endings stripped",
			detector: namespaceDetector{namespaceFile: crlf, getenv: envWith(""), kubeconfig: noKubeconfig},
			want:     "mcp-adapters",
		},
		{
			name:     "blank service account file falls through",
			detector: namespaceDetector{namespaceFile: blank, getenv: envWith("pod-ns"), kubeconfig: noKubeconfig},
			want:     "pod-ns",
		},
		{
			name:     "environment when not in a pod",
			detector: namespaceDetector{namespaceFile: missing, getenv: envWith("pod-ns"), kubeconfig: noKubeconfig},
			want:     "pod-ns",
		},
		{
			name: "current kubeconfig context",
			detector: namespaceDetector{namespaceFile: missing, getenv: envWith(""),
				kubeconfig: kubeconfigWith("dev", map[string]string{"dev": "  team-a  ", "prod": "team-b"})},
			want: "team-a",
		},
		{
			name: "current context without namespace",
			detector: namespaceDetector{namespaceFile: missing, getenv: envWith(""),
				kubeconfig: kubeconfigWith("dev", map[string]string{"dev": "   "})},
			want: fallbackNamespace,
		},
		{
			name: "current context missing from kubeconfig",
			detector: namespaceDetector{namespaceFile: missing, getenv: envWith(""),
				kubeconfig: kubeconfigWith("gone", map[string]string{"dev": "team-a"})},
			want: fallbackNamespace,
		},
		{
			name: "no current context",
			detector: namespaceDetector{namespaceFile: missing, getenv: envWith(""),
				kubeconfig: kubeconfigWith("", map[string]string{"dev": "team-a"})},
			want: fallbackNamespace,
		},
		{
			name:     "nothing detected",
			detector: namespaceDetector{namespaceFile: missing, getenv: envWith(""), kubeconfig: noKubeconfig},
			want:     fallbackNamespace,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.detector.resolve(tt.configured))
		})
	}
}
