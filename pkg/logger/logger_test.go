// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-core/env/mocks"
	"github.com/stacklok/toolhive-core/logging"
)

func TestUnstructuredLogsCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		envValue string
		expected bool
	}{
		{"Default Case", "", true},
		{"Explicitly True", "true", true},
		{"Explicitly False", "false", false},
		{"Invalid Value", "not-a-bool", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			mockEnv := mocks.NewMockReader(ctrl)
			mockEnv.EXPECT().Getenv(unstructuredLogsEnv).Return(tt.envValue)

			assert.Equal(t, tt.expected, unstructuredLogsWithEnv(mockEnv))
		})
	}
}

// captureForTest swaps the singleton for a debug-level logger writing to a buffer.
func captureForTest(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := singleton.Load()
	singleton.Store(logging.New(
		logging.WithOutput(&buf),
		logging.WithLevel(slog.LevelDebug),
	))
	t.Cleanup(func() { singleton.Store(prev) })
	return &buf
}

func TestLogLevels(t *testing.T) { //nolint:paralleltest // mutates singleton
	tests := []struct {
		name     string
		logFn    func()
		contains string
	}{
		{"Debugf", func() { Debugf("debug %s", "formatted") }, "debug formatted"},
		{"Debugw", func() { Debugw("debug kv", "key", "val") }, "debug kv"},
		{"Info", func() { Info("info msg") }, "info msg"},
		{"Infof", func() { Infof("info %s", "formatted") }, "info formatted"},
		{"Infow", func() { Infow("info kv", "key", "val") }, "info kv"},
		{"Warnf", func() { Warnf("warn %s", "formatted") }, "warn formatted"},
		{"Warnw", func() { Warnw("warn kv", "key", "val") }, "warn kv"},
		{"Errorf", func() { Errorf("error %s", "formatted") }, "error formatted"},
		{"Errorw", func() { Errorw("error kv", "key", "val") }, "error kv"},
	}

	for _, tc := range tests { //nolint:paralleltest // mutates singleton
		t.Run(tc.name, func(t *testing.T) {
			buf := captureForTest(t)
			tc.logFn()
			assert.Contains(t, buf.String(), tc.contains)
		})
	}
}

func TestFor(t *testing.T) { //nolint:paralleltest // mutates singleton
	buf := captureForTest(t)

	For("routing").Info("resolved session")

	out := buf.String()
	assert.Contains(t, out, "resolved session")
	assert.Contains(t, out, "routing")
}

func TestNewLogr(t *testing.T) { //nolint:paralleltest // mutates singleton
	buf := captureForTest(t)

	NewLogr().Info("logr test message")

	assert.Contains(t, buf.String(), "logr test message")
}

func TestInitializeWithEnv(t *testing.T) { //nolint:paralleltest // mutates singleton
	tests := []struct {
		name            string
		unstructuredEnv string
	}{
		{"Default (unstructured)", ""},
		{"Explicit unstructured", "true"},
		{"Structured JSON", "false"},
	}

	for _, tc := range tests { //nolint:paralleltest // mutates singleton
		t.Run(tc.name, func(t *testing.T) {
			prev := singleton.Load()
			prevDefault := slog.Default()
			t.Cleanup(func() {
				singleton.Store(prev)
				slog.SetDefault(prevDefault)
			})

			ctrl := gomock.NewController(t)
			mockEnv := mocks.NewMockReader(ctrl)
			mockEnv.EXPECT().Getenv(unstructuredLogsEnv).Return(tc.unstructuredEnv)

			InitializeWithEnv(mockEnv)

			got := Get()
			require.NotNil(t, got)
			assert.Same(t, got, slog.Default())
		})
	}
}
