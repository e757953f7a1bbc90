// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests share viper's global flag bindings and cannot run in parallel.

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) { //nolint:paralleltest
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mcpgw version: dev")
}

func TestValidateCommand(t *testing.T) { //nolint:paralleltest
	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.yaml")
	require.NoError(t, os.WriteFile(valid, []byte(`
listen: ":9000"
session_store:
  type: redis
  redis:
    addr: redis:6379
resource_store:
  type: sqlite
  path: /data/gateway.db
`), 0o600))
	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("session_store:\n  type: redis\n"), 0o600))

	out, err := execute(t, "validate", "--config", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
	assert.Contains(t, out, "Session store: redis")
	assert.Contains(t, out, "Resource store: sqlite")

	_, err = execute(t, "validate", "--config", invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "addr or master_name is required")

	_, err = execute(t, "validate", "--config", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no configuration file specified")
}
