// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the MCP gateway (mcpgw).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/stacklok/mcp-gateway/cmd/mcpgw/app"
	"github.com/stacklok/mcp-gateway/pkg/logger"
)

func main() {
	// Create a context that will be canceled on signal
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		cancel()
		os.Exit(1)
	}
}
