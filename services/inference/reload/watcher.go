// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reload watches a single configuration file and invokes a
// handler after debounced changes. The gateway uses it to hot-reload
// fallback tables without a restart.
package reload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianSound/pkg/logging"
)

// Handler is called after the debounce window closes on a burst of
// changes to the watched file. It runs on the watcher's goroutine.
type Handler func()

// Options configures the Watcher.
type Options struct {
	// DebounceWindow is how long to wait for more changes before
	// invoking the handler. Default: 200ms.
	DebounceWindow time.Duration

	// BufferSize is the size of the internal change channel.
	// Default: 64.
	BufferSize int

	// Logger receives watch errors. nil means the package default.
	Logger *logging.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 200 * time.Millisecond,
		BufferSize:     64,
	}
}

// Watcher watches one file for changes with debouncing.
//
// # Description
//
// Editors and config management tools rarely write in place: they
// write a temp file and rename it over the target, which silently
// drops a watch registered on the file itself. The watcher therefore
// registers the parent directory and filters events down to the one
// path it cares about. Create, write, and rename bursts within the
// debounce window collapse into a single handler invocation.
//
// # Thread Safety
//
// Safe for concurrent use. The handler is called from a single
// goroutine.
type Watcher struct {
	path     string
	dir      string
	watcher  *fsnotify.Watcher
	handler  Handler
	debounce time.Duration
	log      *logging.Logger

	changes  chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// NewWatcher creates a watcher for the given file path. Call Start to
// begin watching and Stop to release the underlying fsnotify watcher.
func NewWatcher(path string, handler Handler, opts *Options) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultOptions().DebounceWindow
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve watch path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	return &Watcher{
		path:     abs,
		dir:      filepath.Dir(abs),
		watcher:  watcher,
		handler:  handler,
		debounce: opts.DebounceWindow,
		log:      logger,
		changes:  make(chan struct{}, opts.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Start begins watching. Spawns two goroutines: an event processor
// that filters fsnotify events down to the watched file, and a
// debouncer that invokes the handler after the window closes. Both
// exit when Stop is called or the context is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil // Already watching
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	return nil
}

// Stop stops the watcher and releases the fsnotify handle.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching returns true if the watcher is currently active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// processEvents filters directory events down to the watched file and
// feeds the debounce channel.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}

			// Non-blocking send; the debouncer collapses bursts anyway.
			select {
			case w.changes <- struct{}{}:
			default:
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watch error", "path", w.path, "error", err)
		}
	}
}

// debounceLoop invokes the handler once per burst of changes.
func (w *Watcher) debounceLoop(ctx context.Context) {
	var pending bool
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if pending && w.handler != nil {
			w.handler()
		}
		pending = false
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case <-w.changes:
			pending = true

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			flush()
		}
	}
}
