// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command inference runs and inspects the AleutianSound inference
// gateway.
//
// # Subcommands
//
//   - serve: start the gateway HTTP server
//   - status: query a running gateway's fleet health
//   - version: print the build version
//
// # Environment Variables
//
//   - GATEWAY_PORT: HTTP server port (overrides config file)
//   - GATEWAY_ADMIN_TOKEN: admin bearer token
//   - MODEL_BACKEND_URL: model server base URL
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector endpoint
//
// # Usage
//
//	# Build
//	go build -o inference ./cmd/inference
//
//	# Run with a config file
//	./inference serve --config configs/gateway.yaml
//
//	# Check a running gateway
//	./inference status --addr http://localhost:12220
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "inference",
	Short: "The AleutianSound ML inference gateway",
	Long: `The inference gateway is the one process allowed to call model
backends. Every call runs inside a fail-closed resilience pipeline:
failures are classified and tracked per model, repeated failures trip a
per-model circuit breaker, and every failure path resolves to a safe
fallback value instead of an error.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gateway version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("inference gateway %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
