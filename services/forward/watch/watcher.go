// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package watch projects polygon files as they appear in a directory.
//
// Filesystem events are buffered, debounced, and deduplicated so a file
// written in several chunks is handed over once, after the writes settle.
// A file is handed over again only when its size or modification time
// changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler receives the settled files of one debounce window, sorted.
type Handler func(ctx context.Context, paths []string)

// Options configures a Watcher.
type Options struct {
	// Debounce is how long the directory must be quiet before a batch is
	// handed over. Default: 500ms.
	Debounce time.Duration

	// Patterns are the file name globs to pick up.
	// Default: *.json, *.yaml, *.yml.
	Patterns []string

	// ProcessExisting hands over matching files already present at start.
	ProcessExisting bool

	// BufferSize is the event buffer. Default: 1000.
	BufferSize int

	Logger *slog.Logger
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Debounce:   500 * time.Millisecond,
		Patterns:   []string{"*.json", "*.yaml", "*.yml"},
		BufferSize: 1000,
	}
}

// Watcher watches one directory. It is not recursive.
type Watcher struct {
	dir     string
	handler Handler
	opts    Options
	logger  *slog.Logger

	changes chan string

	mu   sync.Mutex
	seen map[string]fileStamp
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// New validates the options and returns a watcher for dir.
func New(dir string, handler Handler, opts Options) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watch: handler must not be nil")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	defaults := DefaultOptions()
	if opts.Debounce <= 0 {
		opts.Debounce = defaults.Debounce
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = defaults.Patterns
	}
	for _, p := range opts.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("watch: bad pattern %q: %w", p, err)
		}
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		dir:     abs,
		handler: handler,
		opts:    opts,
		logger:  logger.With(slog.String("component", "forward.watch"), slog.String("dir", abs)),
		changes: make(chan string, opts.BufferSize),
		seen:    make(map[string]fileStamp),
	}, nil
}

// Run watches until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching", slog.Any("patterns", w.opts.Patterns), slog.Duration("debounce", w.opts.Debounce))

	if w.opts.ProcessExisting {
		if err := w.queueExisting(); err != nil {
			return err
		}
	}

	go w.processEvents(ctx, fw)
	w.debounceLoop(ctx)
	return nil
}

func (w *Watcher) queueExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if w.matches(path) {
			select {
			case w.changes <- path:
			default:
				w.logger.Warn("event buffer full, dropping existing file", slog.String("path", path))
			}
		}
	}
	return nil
}

// matches reports whether the file name matches a pattern. Hidden files
// are never picked up.
func (w *Watcher) matches(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	for _, p := range w.opts.Patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) processEvents(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !w.matches(event.Name) {
				continue
			}
			select {
			case w.changes <- event.Name:
			default:
				w.logger.Warn("event buffer full, dropping event", slog.String("path", event.Name))
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		paths := w.settled(pending)
		clear(pending)
		if len(paths) > 0 && ctx.Err() == nil {
			w.logger.Debug("handing over files", slog.Int("count", len(paths)))
			w.handler(ctx, paths)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.changes:
			pending[path] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.opts.Debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}

// settled filters pending down to regular files that are new or changed
// since they were last handed over.
func (w *Watcher) settled(pending map[string]struct{}) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(pending))
	for path := range pending {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
			continue
		}
		stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}
		if prev, ok := w.seen[path]; ok && prev == stamp {
			continue
		}
		w.seen[path] = stamp
		out = append(out, path)
	}
	slices.Sort(out)
	return out
}
