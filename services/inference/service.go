// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inference provides the AleutianSound inference gateway
// service.
//
// The gateway is the one process allowed to call model backends. Every
// call runs inside the resilience pipeline (services/inference/
// resilience): failures are classified and tracked per model, repeated
// failures escalate and trip a per-model circuit breaker, and every
// failure path resolves to a safe fallback value instead of an error.
// The service wraps that core with an HTTP API, Prometheus metrics,
// OpenTelemetry tracing, a live event stream, and hot-reloadable
// fallback tables.
//
// # Usage
//
//	cfg, err := inference.LoadConfig("configs/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := inference.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//	log.Fatal(svc.Run())
package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianSound/pkg/logging"
	"github.com/AleutianAI/AleutianSound/services/inference/backend"
	"github.com/AleutianAI/AleutianSound/services/inference/events"
	"github.com/AleutianAI/AleutianSound/services/inference/observability"
	"github.com/AleutianAI/AleutianSound/services/inference/reload"
	"github.com/AleutianAI/AleutianSound/services/inference/resilience"
	"github.com/AleutianAI/AleutianSound/services/inference/routes"
)

// Service defines the contract for the inference gateway service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Gateway returns the resilience gateway for in-process callers.
	Gateway() *resilience.Gateway

	// Close releases background resources: the fallback watcher, the
	// event hub, the tracer, and the logger's file handle.
	Close()
}

// service implements Service for production use.
type service struct {
	config   Config
	log      *logging.Logger
	ownsLog  bool
	router   *gin.Engine
	registry *resilience.Registry
	gateway  *resilience.Gateway
	backend  backend.Backend
	hub      *events.Hub
	metrics  *observability.GatewayMetrics
	watcher  *reload.Watcher

	watchCancel   context.CancelFunc
	tracerCleanup func(context.Context)
}

// New creates an inference gateway Service with the given
// configuration.
//
// # Description
//
// New initializes all gateway components:
//  1. Applies default configuration for missing values
//  2. Builds the logger (unless one is injected)
//  3. Validates thresholds and builds the resilience registry
//  4. Loads fallback tables from file, when configured
//  5. Initializes metrics and tracing
//  6. Wires the event hub and metric hooks into the registry
//  7. Builds the backend client and the HTTP router
//
// # Outputs
//
//   - Service: Ready-to-run gateway service.
//   - error: Non-nil if initialization fails.
func New(cfg Config) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	s := &service{config: cfg}

	if cfg.Logger != nil {
		s.log = cfg.Logger
	} else {
		s.log = logging.New(logging.Config{
			Level:   logging.ParseLevel(cfg.LogLevel),
			Service: serviceName,
			JSON:    cfg.LogJSON,
			LogDir:  cfg.LogDir,
		})
		s.ownsLog = true
	}

	registry, err := resilience.NewRegistry(cfg.Resilience)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to build resilience registry: %w", err)
	}
	s.registry = registry

	if cfg.FallbacksPath != "" {
		if err := s.loadFallbackTables(); err != nil {
			s.Close()
			return nil, err
		}
	}

	cleanup, err := s.initTracer()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.metrics = cfg.Metrics
	if s.metrics == nil && cfg.EnableMetrics {
		s.metrics = observability.InitMetrics()
		s.log.Info("initialized Prometheus metrics for the inference gateway")
	}

	s.hub = events.NewHub(cfg.EventBuffer, s.log)

	hooks := []resilience.Hooks{s.hub.Hooks()}
	if s.metrics != nil {
		hooks = append(hooks, s.metrics.Hooks(func() int {
			return len(registry.ActiveBreakers())
		}))
	}
	registry.SetHooks(resilience.MergeHooks(hooks...))

	s.gateway = resilience.NewGateway(registry, resilience.GatewayConfig{
		Logger: s.log,
		OnCall: s.observeCall,
	})

	s.backend = cfg.Backend
	if s.backend == nil {
		if cfg.BackendURL != "" {
			s.backend = backend.NewHTTPBackend(cfg.BackendURL).WithTimeout(cfg.BackendTimeout)
		} else {
			s.log.Warn("no backend configured; predictions will fail closed")
			s.backend = backend.NewStaticBackend()
		}
	}

	if cfg.WatchFallbacks && cfg.FallbacksPath != "" {
		if err := s.startFallbackWatcher(); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to watch fallback tables: %w", err)
		}
	}

	s.initRouter()
	return s, nil
}

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.Close()

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.log.Info("starting inference gateway server",
		"port", s.config.Port,
		"models", len(s.config.Models),
		"backend_url", s.config.BackendURL,
	)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Gateway returns the resilience gateway for in-process callers.
func (s *service) Gateway() *resilience.Gateway {
	return s.gateway
}

// Close releases all resources held by the service. Safe to call on a
// partially-constructed service and after Run returns.
func (s *service) Close() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
	if s.hub != nil {
		// Publishing to a closed hub is a no-op, so in-flight calls
		// finish cleanly.
		s.hub.Close()
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
	if s.ownsLog && s.log != nil {
		_ = s.log.Close()
	}
}

// observeCall fans one wrapped-call event out to metrics and the event
// stream.
func (s *service) observeCall(event resilience.CallEvent) {
	if s.metrics != nil {
		s.metrics.ObserveCall(event)
	}
	s.hub.PublishCall(event)
}

// wrapOptionsFor derives the base wrap options for a model from its
// configuration. Unconfigured models get gateway defaults.
func (s *service) wrapOptionsFor(modelID string) resilience.WrapOptions {
	mc, ok := s.config.Models[modelID]
	if !ok {
		return resilience.WrapOptions{}
	}

	opts := resilience.WrapOptions{
		CacheSuccessful: mc.CacheResults,
		Validate:        mc.rangeCheck(),
	}
	if mc.TimeoutMs > 0 {
		opts.Timeout = time.Duration(mc.TimeoutMs) * time.Millisecond
	}
	return opts
}

// configuredModelIDs lists the declared fleet.
func (s *service) configuredModelIDs() []string {
	ids := make([]string, 0, len(s.config.Models))
	for id := range s.config.Models {
		ids = append(ids, id)
	}
	return ids
}

// loadFallbackTables reads the fallback table file into the registry.
func (s *service) loadFallbackTables() error {
	tables, err := resilience.LoadFallbackTables(s.config.FallbacksPath)
	if err != nil {
		return fmt.Errorf("failed to load fallback tables: %w", err)
	}
	s.registry.SetFallbackTables(tables)
	s.log.Info("loaded fallback tables",
		"path", s.config.FallbacksPath,
		"defaults", len(tables.Defaults),
		"conservative", len(tables.Conservative),
	)
	return nil
}

// startFallbackWatcher hot-reloads the fallback tables on file change.
// A malformed update is logged and skipped; the last good tables stay.
func (s *service) startFallbackWatcher() error {
	watcher, err := reload.NewWatcher(s.config.FallbacksPath, func() {
		if err := s.loadFallbackTables(); err != nil {
			s.log.Warn("fallback table reload failed; keeping previous tables",
				"path", s.config.FallbacksPath, "error", err)
		}
	}, &reload.Options{Logger: s.log})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := watcher.Start(ctx); err != nil {
		cancel()
		watcher.Stop()
		return err
	}

	s.watcher = watcher
	s.watchCancel = cancel
	s.log.Info("watching fallback tables for changes", "path", watcher.Path())
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(s.router, routes.Deps{
		Gateway:          s.gateway,
		Backend:          s.backend,
		Hub:              s.hub,
		Logger:           s.log,
		WrapOptions:      s.wrapOptionsFor,
		ConfiguredModels: s.configuredModelIDs(),
		AdminToken:       s.config.AdminToken,
		ServeMetrics:     s.metrics != nil,
	})
}

// Compile-time interface compliance.
var _ Service = (*service)(nil)
