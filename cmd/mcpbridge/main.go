// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// mcpbridge exposes the context engine's HTTP API as stdio tools so that
// agent frontends can call it over JSON-RPC. Logs go to stderr; stdout
// carries the protocol.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/millyweb/contextengine/pkg/logging"
)

var (
	engineURL string
	timeout   time.Duration
	logLevel  string

	rootCmd = &cobra.Command{
		Use:   "mcpbridge",
		Short: "Stdio tool bridge for the context engine",
		Long: `mcpbridge reads JSON-RPC 2.0 messages on stdin and exposes the
context engine's memory operations (load, save, checkpoint, search,
correct, context, stats) as callable tools.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewStderr(logLevel)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			bridge := NewBridge(engineURL, timeout, os.Stdin, os.Stdout, logger)
			logger.Info("bridge started", "engine_url", engineURL)
			return bridge.Run(ctx)
		},
	}
)

func init() {
	defaultURL := os.Getenv("CONTEXT_ENGINE_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:9040"
	}
	rootCmd.Flags().StringVar(&engineURL, "engine-url", defaultURL, "Base URL of the context engine")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 90*time.Second, "Per-call HTTP timeout")
	rootCmd.Flags().StringVar(&logLevel, "log-level", os.Getenv("LOG_LEVEL"), "Log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
