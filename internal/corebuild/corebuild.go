// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package corebuild wires the external collaborators into the two
// public build requests, AssetGraphRequest and BundleGraphRequest. It
// owns the one RequestTracker, one ActionQueue, one assetgraph.Graph,
// and one symbols.Tracker a build needs — an explicit build context in
// place of global mutable state.
package corebuild

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/atlaspack-go/core/internal/actions"
	"github.com/atlaspack-go/core/internal/assetgraph"
	"github.com/atlaspack-go/core/internal/bundlegraph"
	"github.com/atlaspack-go/core/internal/diag"
	"github.com/atlaspack-go/core/internal/idealgraph"
	"github.com/atlaspack-go/core/internal/reqtrack"
	"github.com/atlaspack-go/core/internal/resolver"
	"github.com/atlaspack-go/core/internal/scheduler"
	"github.com/atlaspack-go/core/internal/symbols"
	"github.com/atlaspack-go/core/internal/transformer"
)

var tracer = otel.Tracer("atlaspack.corebuild")

// Options bundles the external collaborators
// (Resolvers, Transformers, Pipelines, Reporter) with the ambient
// concerns every real build wires up (logging, parallelism bound,
// decision-log sink) even though the hard core is silent on them.
type Options struct {
	ProjectRoot string

	// Env is the default build environment attached to each entry
	// dependency when Targets is empty — the common single-target case.
	Env assetgraph.Env

	// Targets overrides Env: when set, each entry is built once per
	// Target it names instead of once under Env. Entries sharing the
	// same path get one Entry node with one Target child per env; each
	// Target contributes its own seed Dependency and its own VirtualRoot
	// in the Ideal Bundle Builder's dominator pass, so the two builds
	// never merge into the same bundle.
	Targets []assetgraph.Target

	Resolvers    resolver.Chain
	Transformers transformer.Registry
	Pipelines    transformer.PipelineRegistry
	Reporter     actions.Reporter

	Logger *slog.Logger

	// Parallelism bounds the ActionQueue. Zero means
	// runtime.GOMAXPROCS(0) when unset.
	Parallelism int

	// DecisionSink receives the ideal bundle builder's per-phase
	// Decisions. Nil means decisions are recorded into a throwaway log
	// nobody reads.
	DecisionSink idealgraph.Sink
}

func (o Options) parallelism() int {
	if o.Parallelism > 0 {
		return o.Parallelism
	}
	return runtime.GOMAXPROCS(0)
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// resolveTargets returns the (entry, env) pairs to seed: Targets if the
// caller set it explicitly, otherwise one Target per entry path under
// the shared Env.
func (o Options) resolveTargets(entries []string) []assetgraph.Target {
	if len(o.Targets) > 0 {
		return o.Targets
	}
	targets := make([]assetgraph.Target, 0, len(entries))
	for _, e := range entries {
		targets = append(targets, assetgraph.Target{Env: o.Env, Entry: e})
	}
	return targets
}

func hashTargets(prefix, projectRoot string, targets []assetgraph.Target) string {
	h := sha256.New()
	fmt.Fprintf(h, "root=%s\x00", projectRoot)
	for _, t := range targets {
		fmt.Fprintf(h, "entry=%s\x00env=%s\x00", t.Entry, t.Env.Key())
	}
	return prefix + hex.EncodeToString(h.Sum(nil))[:32]
}

// AssetGraphRequest seeds one entry Dependency per entry path, drives
// PathAction/AssetAction resolution to quiescence, and validates the
// graph's invariants before handing it back.
type AssetGraphRequest struct {
	Entries []string
	Options Options
}

// ID is a deterministic hash of every input that can change the
// resulting graph.
func (r AssetGraphRequest) ID() string {
	return hashTargets("asset_graph:", r.Options.ProjectRoot, r.Options.resolveTargets(r.Entries))
}

// Run implements reqtrack.Request.
func (r AssetGraphRequest) Run(ctx context.Context) (*reqtrack.Result, error) {
	ctx, span := tracer.Start(ctx, "corebuild.asset_graph_request")
	defer span.End()

	targets := r.Options.resolveTargets(r.Entries)
	span.SetAttributes(attribute.Int("target_count", len(targets)))

	g := assetgraph.New()
	bag := &diag.Bag{}
	symTracker := symbols.New(g)
	queue := scheduler.New(ctx, r.Options.parallelism(), r.Options.logger())

	coord := &actions.Coordinator{
		Graph:        g,
		Symbols:      symTracker,
		Resolvers:    r.Options.Resolvers,
		Transformers: r.Options.Transformers,
		Pipelines:    r.Options.Pipelines,
		Queue:        queue,
		Reporter:     r.Options.Reporter,
		Diagnostics:  bag,
		Logger:       r.Options.logger(),
		ProjectRoot:  r.Options.ProjectRoot,
	}

	seeds := seedTargets(g, targets)
	for _, depIdx := range seeds {
		depIdx := depIdx
		queue.Enqueue(func(ctx context.Context) error {
			return coord.ResolveDependency(ctx, depIdx)
		})
	}

	if err := queue.Drain(); err != nil {
		d := diag.Wrap(diag.KindInternalInvariant, err, "asset graph construction: action queue drain failed")
		bag.Add(d)
		span.RecordError(d)
		span.SetStatus(codes.Error, d.Error())
	}

	bag.Merge(g.ValidateInvariants())

	res := &reqtrack.Result{Value: g, Diagnostics: bag, Invalidations: coord.Invalidations()}
	if bag.HasFatal() {
		err := fmt.Errorf("asset graph construction: %d diagnostic(s), including a fatal one", bag.Len())
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	return res, nil
}

// seedTargets adds one Root->Entry->Target->Dependency chain per
// target. Targets sharing the same entry path get a single Entry node
// with one Target child per distinct env, so a
// library built for both "browser" and "node" fans out under one Entry
// rather than duplicating it. Returns the seed Dependency NodeIndexes to
// enqueue as PathActions.
func seedTargets(g *assetgraph.Graph, targets []assetgraph.Target) []assetgraph.NodeIndex {
	g.Lock()
	defer g.Unlock()

	entryNodes := make(map[string]assetgraph.NodeIndex)
	seeds := make([]assetgraph.NodeIndex, 0, len(targets))
	for _, target := range targets {
		entryIdx, ok := entryNodes[target.Entry]
		if !ok {
			entryIdx = g.AddEntryLocked(target.Entry)
			entryNodes[target.Entry] = entryIdx
		}
		targetIdx := g.AddTargetLocked(entryIdx, target)
		depIdx := g.AddDependencyLocked(targetIdx, &assetgraph.Dependency{
			Specifier:       target.Entry,
			Env:             target.Env,
			Priority:        assetgraph.PrioritySync,
			IsEntry:         true,
			NeedsStableName: true,
			SourcePath:      target.Entry,
		})
		seeds = append(seeds, depIdx)
	}
	return seeds
}

// BundleGraphRequest is the top-level build request: it runs an
// AssetGraphRequest and hands the completed asset graph to the ideal
// bundle builder. Tracker is the shared RequestTracker the nested
// AssetGraphRequest call runs through, so a build has exactly one
// request cache.
type BundleGraphRequest struct {
	Entries []string
	Options Options
	Tracker *reqtrack.Tracker
}

func (r BundleGraphRequest) ID() string {
	return hashTargets("bundle_graph:", r.Options.ProjectRoot, r.Options.resolveTargets(r.Entries))
}

func (r BundleGraphRequest) Run(ctx context.Context) (*reqtrack.Result, error) {
	ctx, span := tracer.Start(ctx, "corebuild.bundle_graph_request")
	defer span.End()

	agRes, err := r.Tracker.Run(ctx, AssetGraphRequest{Entries: r.Entries, Options: r.Options})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return agRes, err
	}
	g := agRes.Value.(*assetgraph.Graph)

	bg, stats, err := idealgraph.Build(g, r.Options.DecisionSink)
	if err != nil {
		d := diag.Wrap(diag.KindInternalInvariant, err, "ideal bundle builder failed")
		agRes.Diagnostics.Add(d)
		span.RecordError(d)
		span.SetStatus(codes.Error, d.Error())
		return agRes, d
	}
	span.SetAttributes(
		attribute.Int("bundle_count", len(bg.Bundles)),
		attribute.Int("asset_count", stats.Assets),
		attribute.Int("dependency_count", stats.Deps),
	)
	// The bundle graph depends on exactly the inputs the asset graph did:
	// invalidating a watched file must drop both cached requests.
	return &reqtrack.Result{Value: bg, Diagnostics: agRes.Diagnostics, Invalidations: agRes.Invalidations}, nil
}

// Run executes a full build: it wires a fresh RequestTracker, runs a
// BundleGraphRequest through it, and returns both graphs (the asset
// graph is useful to callers inspecting why a bundle decision was made
// even once bundling is done).
func Run(ctx context.Context, entries []string, options Options) (*bundlegraph.BundleGraph, *assetgraph.Graph, error) {
	t := reqtrack.New(options.logger())
	res, err := t.Run(ctx, BundleGraphRequest{Entries: entries, Options: options, Tracker: t})

	// The tracker already ran (and cached) this exact request inside
	// BundleGraphRequest.Run; this call is a cache hit that just recovers
	// the asset graph value for the caller so one build returns both
	// graphs.
	var g *assetgraph.Graph
	if agRes, _ := t.Run(ctx, AssetGraphRequest{Entries: entries, Options: options}); agRes != nil {
		if gv, ok := agRes.Value.(*assetgraph.Graph); ok {
			g = gv
		}
	}

	if err != nil {
		return nil, g, err
	}
	return res.Value.(*bundlegraph.BundleGraph), g, nil
}

// RunAssetGraph runs only the asset-graph stage, for callers that only
// need dependency resolution and symbol propagation (e.g. a lint tool)
// without paying for the ideal bundle builder.
func RunAssetGraph(ctx context.Context, entries []string, options Options) (*assetgraph.Graph, *diag.Bag, error) {
	t := reqtrack.New(options.logger())
	res, err := t.Run(ctx, AssetGraphRequest{Entries: entries, Options: options})
	if res == nil {
		return nil, &diag.Bag{}, err
	}
	return res.Value.(*assetgraph.Graph), res.Diagnostics, err
}
