// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package actions implements the two request kinds that build the asset
// graph: PathAction (resolve one dependency) and AssetAction
// (transform one file). Both run as Actions on a
// scheduler.Queue and commit their results to a shared assetgraph.Graph
// and symbols.Tracker under the graph's single write lock, taking that
// lock only for the brief commit phase.
package actions

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/atlaspack-go/core/internal/assetgraph"
	"github.com/atlaspack-go/core/internal/diag"
	"github.com/atlaspack-go/core/internal/resolver"
	"github.com/atlaspack-go/core/internal/scheduler"
	"github.com/atlaspack-go/core/internal/symbols"
	"github.com/atlaspack-go/core/internal/transformer"
)

var actionsTracer = otel.Tracer("atlaspack.actions")

// Reporter receives build-progress lifecycle events; it is an external
// collaborator, so Coordinator only ever calls through this
// small interface and never assumes anything about how events are
// rendered or shipped.
type Reporter interface {
	Resolving(specifier string)
	Transforming(filePath string)
}

// NoopReporter discards every event.
type NoopReporter struct{}

func (NoopReporter) Resolving(string)     {}
func (NoopReporter) Transforming(string)  {}

// Coordinator wires together the collaborators PathAction/AssetAction need:
// the asset graph they mutate, the symbol tracker they feed, the resolver
// chain and transformer registry they call into, and the scheduler queue
// new actions are enqueued onto.
type Coordinator struct {
	Graph        *assetgraph.Graph
	Symbols      *symbols.Tracker
	Resolvers    resolver.Chain
	Transformers transformer.Registry
	Pipelines    transformer.PipelineRegistry
	Queue        *scheduler.Queue
	Reporter     Reporter
	Diagnostics  *diag.Bag
	Logger       *slog.Logger
	ProjectRoot  string

	// invalidations accumulates every external input (file path) a
	// resolver or transformer reported for this build, so the owning
	// request can expose them for cache invalidation.
	invMu         sync.Mutex
	invalidations map[string]struct{}
}

// addInvalidations records paths as inputs of the current build.
func (c *Coordinator) addInvalidations(paths ...string) {
	if len(paths) == 0 {
		return
	}
	c.invMu.Lock()
	defer c.invMu.Unlock()
	if c.invalidations == nil {
		c.invalidations = make(map[string]struct{})
	}
	for _, p := range paths {
		c.invalidations[p] = struct{}{}
	}
}

// Invalidations returns every recorded input path, sorted.
func (c *Coordinator) Invalidations() []string {
	c.invMu.Lock()
	defer c.invMu.Unlock()
	out := make([]string, 0, len(c.invalidations))
	for p := range c.invalidations {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// splitPipeline parses a `name:rest` scheme prefix off specifier if name is
// a registered named pipeline. Only a single colon
// segment before any path separator is treated as a candidate pipeline
// name, avoiding false positives on Windows-style drive letters or bare
// URLs the resolver chain should see unmodified.
func splitPipeline(specifier string, pipelines transformer.PipelineRegistry) (pipeline, rest string) {
	idx := strings.IndexByte(specifier, ':')
	if idx <= 0 {
		return "", specifier
	}
	candidate := specifier[:idx]
	if strings.ContainsAny(candidate, "/\\.") {
		return "", specifier
	}
	if pipelines == nil || !pipelines.Contains(candidate) {
		return "", specifier
	}
	return candidate, specifier[idx+1:]
}

func (c *Coordinator) reporter() Reporter {
	if c.Reporter == nil {
		return NoopReporter{}
	}
	return c.Reporter
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}
