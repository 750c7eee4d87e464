// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSound/services/inference"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the inference gateway HTTP server",
	Long: `Starts the gateway server. Configuration comes from the YAML file
given with --config, with environment variables taking precedence:

  GATEWAY_PORT                 HTTP server port
  GATEWAY_ADMIN_TOKEN          admin bearer token
  MODEL_BACKEND_URL            model server base URL
  OTEL_EXPORTER_OTLP_ENDPOINT  OpenTelemetry collector endpoint

Without --config the gateway starts with built-in defaults: no backend,
no fallback tables, every prediction failing closed. That mode exists
for smoke tests only.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "",
		"path to the gateway YAML configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg inference.Config
	if serveConfigPath != "" {
		loaded, err := inference.LoadConfig(serveConfigPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		fmt.Fprintln(os.Stderr, "warning: no --config given, starting with built-in defaults")
	}

	// Environment overrides beat the file.
	cfg.Port = getEnvInt("GATEWAY_PORT", cfg.Port)
	cfg.AdminToken = getEnvString("GATEWAY_ADMIN_TOKEN", cfg.AdminToken)
	cfg.BackendURL = getEnvString("MODEL_BACKEND_URL", cfg.BackendURL)
	cfg.OTelEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTelEndpoint)

	svc, err := inference.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return svc.Run()
}
