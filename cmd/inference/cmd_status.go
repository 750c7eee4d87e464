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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSound/services/inference/datatypes"
	"github.com/AleutianAI/AleutianSound/services/inference/resilience"
)

var (
	statusAddr string
	statusJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fleet health from a running gateway",
	Long: `Queries GET /v1/fleet/health on a running gateway and renders a
per-model health table: status, failures in the window, and any open
circuit breakers.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusAddr, "addr", "a", "http://localhost:12220",
		"base URL of the running gateway")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false,
		"print the raw JSON response")
}

// ANSI colors for TTY output.
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
)

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(statusAddr + "/v1/fleet/health")
	if err != nil {
		return fmt.Errorf("query gateway at %s: %w", statusAddr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	if statusJSON {
		fmt.Println(string(body))
		return nil
	}

	var fleet datatypes.FleetHealthResponse
	if err := json.Unmarshal(body, &fleet); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	renderFleet(os.Stdout, fleet, isatty.IsTerminal(os.Stdout.Fd()))
	return nil
}

// renderFleet prints the health table, colorized when writing to a
// terminal.
func renderFleet(out io.Writer, fleet datatypes.FleetHealthResponse, color bool) {
	overall := "DEGRADED"
	if fleet.Healthy {
		overall = "HEALTHY"
	}
	fmt.Fprintf(out, "Fleet: %s  (%d models, %d open breakers)\n\n",
		paint(overall, fleet.Healthy, color), len(fleet.Models), len(fleet.OpenBreakers))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tSTATUS\tFAILURES")
	for _, m := range fleet.Models {
		fmt.Fprintf(w, "%s\t%s\t%d\n",
			m.ModelID, paintStatus(m.Status, color), m.FailuresInWindow)
	}
	w.Flush()

	if len(fleet.OpenBreakers) > 0 {
		fmt.Fprintln(out, "\nOpen circuit breakers:")
		for _, b := range fleet.OpenBreakers {
			fmt.Fprintf(out, "  %s: %s (%s remaining)\n",
				b.ModelID, b.Reason, b.Remaining.Round(time.Second))
		}
	}
}

// paint wraps text in green or red when color is on.
func paint(text string, ok bool, color bool) string {
	if !color {
		return text
	}
	if ok {
		return colorGreen + text + colorReset
	}
	return colorRed + text + colorReset
}

// paintStatus colors a health status by severity.
func paintStatus(status resilience.HealthStatus, color bool) string {
	text := string(status)
	if !color {
		return text
	}
	switch status {
	case resilience.StatusHealthy:
		return colorGreen + text + colorReset
	case resilience.StatusRecovering, resilience.StatusDegraded:
		return colorYellow + text + colorReset
	default:
		return colorRed + text + colorReset
	}
}
