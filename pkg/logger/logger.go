// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logger provides logging for the MCP gateway, both as a CLI and in Kubernetes.
//
// This is a thin shim over toolhive-core/logging. Long-lived components should
// take a *slog.Logger at construction time; use [For] to obtain one scoped to a
// component from the composition root.
package logger

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/spf13/viper"

	"github.com/stacklok/toolhive-core/env"
	"github.com/stacklok/toolhive-core/logging"
)

// unstructuredLogsEnv switches the output to plain text when set to true.
const unstructuredLogsEnv = "UNSTRUCTURED_LOGS"

// singleton is the package-level logger created by Initialize.
var singleton atomic.Pointer[slog.Logger]

func init() {
	// Set a default logger so callers that skip Initialize() don't panic.
	singleton.Store(logging.New())
}

func get() *slog.Logger {
	return singleton.Load()
}

// Get returns the underlying *slog.Logger for injection into structs.
func Get() *slog.Logger {
	return get()
}

// For returns the singleton logger scoped to the named component.
func For(component string) *slog.Logger {
	return get().With("component", component)
}

// Set replaces the singleton logger. Tests use it to capture output.
func Set(l *slog.Logger) {
	singleton.Store(l)
}

// Debugf logs a formatted message at debug level.
func Debugf(msg string, args ...any) {
	get().Debug(fmt.Sprintf(msg, args...))
}

// Debugw logs a message at debug level with additional key-value pairs.
func Debugw(msg string, keysAndValues ...any) {
	get().Debug(msg, keysAndValues...)
}

// Info logs a message at info level.
func Info(msg string) {
	get().Info(msg)
}

// Infof logs a formatted message at info level.
func Infof(msg string, args ...any) {
	get().Info(fmt.Sprintf(msg, args...))
}

// Infow logs a message at info level with additional key-value pairs.
func Infow(msg string, keysAndValues ...any) {
	get().Info(msg, keysAndValues...)
}

// Warnf logs a formatted message at warning level.
func Warnf(msg string, args ...any) {
	get().Warn(fmt.Sprintf(msg, args...))
}

// Warnw logs a message at warning level with additional key-value pairs.
func Warnw(msg string, keysAndValues ...any) {
	get().Warn(msg, keysAndValues...)
}

// Errorf logs a formatted message at error level.
func Errorf(msg string, args ...any) {
	get().Error(fmt.Sprintf(msg, args...))
}

// Errorw logs a message at error level with additional key-value pairs.
func Errorw(msg string, keysAndValues ...any) {
	get().Error(msg, keysAndValues...)
}

// NewLogr returns a logr.Logger backed by the slog singleton.
// controller-runtime and client-go log through it.
func NewLogr() logr.Logger {
	return logr.FromSlogHandler(get().Handler())
}

// Initialize creates and configures the appropriate logger.
// Output is plain text unless UNSTRUCTURED_LOGS is explicitly false, in which case JSON is emitted.
func Initialize() {
	InitializeWithEnv(&env.OSReader{})
}

// InitializeWithEnv creates and configures the logger with a custom environment reader.
func InitializeWithEnv(envReader env.Reader) {
	var opts []logging.Option

	if unstructuredLogsWithEnv(envReader) {
		opts = append(opts, logging.WithFormat(logging.FormatText))
	}

	if viper.GetBool("debug") {
		opts = append(opts, logging.WithLevel(slog.LevelDebug))
	}

	l := logging.New(opts...)
	singleton.Store(l)
	slog.SetDefault(l)
}

func unstructuredLogsWithEnv(envReader env.Reader) bool {
	unstructuredLogs, err := strconv.ParseBool(envReader.Getenv(unstructuredLogsEnv))
	if err != nil {
		// Unset or unparsable: default to human readable output.
		return true
	}
	return unstructuredLogs
}
