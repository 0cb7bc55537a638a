// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package main

import (
	"context"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/atlaspack-go/core/internal/bundlegraph"
	"github.com/atlaspack-go/core/internal/corebuild"
	"github.com/atlaspack-go/core/internal/reqtrack"
)

// debounceWindow batches rapid successive writes (editors commonly write
// a file several times per save) into one rebuild.
const debounceWindow = 150 * time.Millisecond

var watchIgnore = []string{".git", "node_modules", "dist", ".cache"}

// runWatch builds once, then rebuilds whenever a file under the project
// root changes. One request tracker lives for the whole watch session:
// each changed path invalidates exactly the cached requests that
// declared it as an input, and the next run re-executes only those.
func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := setupTracing(ctx, traceSpans)
	if err != nil {
		return err
	}
	defer shutdown()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addRecursive(watcher, buildOpts.ProjectRoot); err != nil {
		return err
	}

	tracker := reqtrack.New(logger.Slog())
	rebuild := func() error {
		res, err := tracker.Run(ctx, corebuild.BundleGraphRequest{
			Entries: absEntries(),
			Options: coreOptions(),
			Tracker: tracker,
		})
		if err != nil {
			return err
		}
		bg := res.Value.(*bundlegraph.BundleGraph)
		logger.Info("build complete", "bundles", len(bg.Bundles))
		printBundles(bg)
		return nil
	}

	if err := rebuild(); err != nil {
		// A failing initial build is not fatal in watch mode; the next
		// change gets another chance.
		logger.Warn("initial build failed, watching for changes", "error", err)
	}

	var (
		pending []string
		timer   *time.Timer
		timerC  <-chan time.Time
	)

	logger.Info("watching", "root", buildOpts.ProjectRoot)
	for {
		select {
		case <-ctx.Done():
			logger.Info("watch stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if shouldIgnore(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New directories need watching too.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addRecursive(watcher, event.Name)
				}
			}
			pending = append(pending, event.Name)
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				timer.Reset(debounceWindow)
			}
			timerC = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)

		case <-timerC:
			timerC = nil
			invalidated := 0
			for _, path := range pending {
				invalidated += tracker.Invalidate(path)
			}
			logger.Info("rebuilding", "changed_files", len(pending), "invalidated_requests", invalidated)
			pending = pending[:0]
			if err := rebuild(); err != nil {
				logger.Error("rebuild failed", "error", err)
			}
		}
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if shouldIgnore(path) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

func shouldIgnore(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range watchIgnore {
		if base == pattern {
			return true
		}
	}
	// A changed file inside an ignored directory also arrives with the
	// full path; check each segment.
	for _, segment := range strings.Split(path, string(filepath.Separator)) {
		for _, pattern := range watchIgnore {
			if segment == pattern {
				return true
			}
		}
	}
	return false
}
