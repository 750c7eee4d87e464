// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience wraps unreliable model inference calls so callers
// never observe a raw error, a hang, or malformed output.
//
// # Overview
//
// Model backends fail in practice: they time out, crash, return NaN
// scores or nothing at all. This package classifies those failures,
// tracks them per model in a sliding window, trips a per-model circuit
// breaker after repeated failures, escalates through a severity ladder,
// and always resolves a safe substitute result. The contract is
// fail-closed: a wrapped call returns something usable on every path.
//
// # Components
//
//   - Classify: pure mapping from an error/output pair to a FailureType
//   - FailureTracker: per-model sliding-window failure ledger
//   - circuit breakers: per-model trip/check/reset with lazy expiry
//   - escalation ladder: ordered severity rules over breaker state and
//     rolling failure counts
//   - ResultCache: per-model single-slot cache of the last good output
//   - fallback resolution: default table, last-good cache, conservative
//     value, rejection, or skip
//   - Gateway: ties the above into WrapInference, HandleFailure, and the
//     QuickCheck/Analyze health views
//
// # Example
//
//	reg, err := resilience.NewRegistry(resilience.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	gw := resilience.NewGateway(reg, resilience.DefaultGatewayConfig())
//
//	infer := gw.WrapInference(callModel, "loudness_clf", resilience.WrapOptions{
//	    Timeout:         5 * time.Second,
//	    CacheSuccessful: true,
//	})
//	result, _ := infer(ctx, features) // never returns a non-nil error
//	if fb, ok := resilience.AsFallback(result); ok {
//	    handleDegraded(fb)
//	}
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Model ids are
// independently lockable; calls against different models never contend.
package resilience
