// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlaspack-go/core/internal/assetgraph"
	"github.com/atlaspack-go/core/internal/diag"
	"github.com/atlaspack-go/core/internal/resolver"
	"github.com/atlaspack-go/core/internal/scheduler"
	"github.com/atlaspack-go/core/internal/symbols"
	"github.com/atlaspack-go/core/internal/transformer"
)

// fixtureFile describes what the fake resolver/transformer pair serve for
// one path.
type fixtureFile struct {
	sideEffects  bool
	canDefer     bool
	exports      []assetgraph.Symbol
	deps         []*assetgraph.Dependency
	transformErr error
}

type fixtureResolver struct {
	files      map[string]*fixtureFile
	nonAbsFor  string // specifier to answer with a relative path
}

func (r fixtureResolver) Name() string { return "fixture" }

func (r fixtureResolver) Resolve(_ context.Context, rctx resolver.Context) (resolver.Outcome, resolver.Resolution, error) {
	if rctx.Specifier == r.nonAbsFor {
		return resolver.OutcomeResolved, resolver.Resolution{FilePath: "relative/path.ts", SideEffects: true}, nil
	}
	f, ok := r.files[rctx.Specifier]
	if !ok {
		return resolver.OutcomeUnresolved, resolver.Resolution{}, nil
	}
	return resolver.OutcomeResolved, resolver.Resolution{
		FilePath:    rctx.Specifier,
		SideEffects: f.sideEffects,
		CanDefer:    f.canDefer,
	}, nil
}

type fixtureTransformer struct {
	files map[string]*fixtureFile
}

func (t fixtureTransformer) Name() string { return "fixture" }

func (t fixtureTransformer) Transform(_ context.Context, actx transformer.AssetContext) (transformer.Result, error) {
	f := t.files[actx.Request.FilePath]
	if f.transformErr != nil {
		return transformer.Result{}, f.transformErr
	}
	deps := make([]*assetgraph.Dependency, len(f.deps))
	for i, d := range f.deps {
		cp := *d
		deps[i] = &cp
	}
	return transformer.Result{
		Asset:   &assetgraph.Asset{FileType: assetgraph.FileTypeTS, SideEffects: f.sideEffects, IsBundleSplittable: true, Symbols: f.exports},
		Dependencies: deps,
	}, nil
}

// testCoordinator wires a Coordinator over an empty graph plus a seed
// Dependency for each given specifier, parented under a Target so the
// shape matches what corebuild produces.
func testCoordinator(t *testing.T, files map[string]*fixtureFile, seedSpecs ...string) (*Coordinator, []assetgraph.NodeIndex) {
	t.Helper()
	g := assetgraph.New()
	c := &Coordinator{
		Graph:       g,
		Symbols:     symbols.New(g),
		Resolvers:   resolver.Chain{fixtureResolver{files: files}},
		Transformers: transformer.MapRegistry{
			string(assetgraph.FileTypeTS): fixtureTransformer{files: files},
			string(assetgraph.FileTypeJS): fixtureTransformer{files: files},
		},
		Queue:       scheduler.New(context.Background(), 16, nil),
		Diagnostics: &diag.Bag{},
	}

	var seeds []assetgraph.NodeIndex
	g.Lock()
	entry := g.AddEntryLocked("/entry")
	target := g.AddTargetLocked(entry, assetgraph.Target{Entry: "/entry"})
	for _, spec := range seedSpecs {
		seeds = append(seeds, g.AddDependencyLocked(target, &assetgraph.Dependency{Specifier: spec, IsEntry: true}))
	}
	g.Unlock()
	return c, seeds
}

func TestSplitPipeline(t *testing.T) {
	pipelines := transformer.StaticPipelines{"url": {}}

	pipeline, rest := splitPipeline("url:./logo.svg", pipelines)
	assert.Equal(t, "url", pipeline)
	assert.Equal(t, "./logo.svg", rest)

	// Unregistered scheme: specifier passes through untouched.
	pipeline, rest = splitPipeline("data:text/plain", pipelines)
	assert.Empty(t, pipeline)
	assert.Equal(t, "data:text/plain", rest)

	// Path separators and dots disqualify the candidate.
	pipeline, rest = splitPipeline("./relative:odd", pipelines)
	assert.Empty(t, pipeline)
	assert.Equal(t, "./relative:odd", rest)

	// Nil registry never matches.
	pipeline, rest = splitPipeline("url:x", nil)
	assert.Empty(t, pipeline)
	assert.Equal(t, "url:x", rest)
}

func TestResolveDependencyHappyPath(t *testing.T) {
	files := map[string]*fixtureFile{
		"/src/index.ts": {sideEffects: true},
	}
	c, seeds := testCoordinator(t, files, "/src/index.ts")

	c.Queue.Enqueue(func(ctx context.Context) error { return c.ResolveDependency(ctx, seeds[0]) })
	require.NoError(t, c.Queue.Drain())

	dep := c.Graph.Node(seeds[0]).Dependency
	assert.Equal(t, assetgraph.DependencyStateResolved, dep.State)
	assert.Empty(t, c.Diagnostics.All())
	assert.Empty(t, c.Graph.ValidateInvariants().All())
}

func TestResolveDependencyUnresolvedRequiredFails(t *testing.T) {
	c, seeds := testCoordinator(t, map[string]*fixtureFile{}, "/missing.ts")

	c.Queue.Enqueue(func(ctx context.Context) error { return c.ResolveDependency(ctx, seeds[0]) })
	require.NoError(t, c.Queue.Drain())

	dep := c.Graph.Node(seeds[0]).Dependency
	assert.Equal(t, assetgraph.DependencyStateExcluded, dep.State)

	all := c.Diagnostics.All()
	require.Len(t, all, 1)
	assert.Equal(t, diag.KindNotFound, all[0].Kind)
}

func TestResolveDependencyUnresolvedOptionalExcludesQuietly(t *testing.T) {
	c, _ := testCoordinator(t, map[string]*fixtureFile{})

	c.Graph.Lock()
	depIdx := c.Graph.AddDependencyLocked(1, &assetgraph.Dependency{Specifier: "/nope.ts", IsOptional: true})
	c.Graph.Unlock()

	c.Queue.Enqueue(func(ctx context.Context) error { return c.ResolveDependency(ctx, depIdx) })
	require.NoError(t, c.Queue.Drain())

	assert.Equal(t, assetgraph.DependencyStateExcluded, c.Graph.Node(depIdx).Dependency.State)
	assert.Empty(t, c.Diagnostics.All())
}

func TestResolveDependencyRejectsRelativeFilePath(t *testing.T) {
	files := map[string]*fixtureFile{}
	c, _ := testCoordinator(t, files)
	c.Resolvers = resolver.Chain{fixtureResolver{files: files, nonAbsFor: "bad"}}

	c.Graph.Lock()
	depIdx := c.Graph.AddDependencyLocked(1, &assetgraph.Dependency{Specifier: "bad"})
	c.Graph.Unlock()

	c.Queue.Enqueue(func(ctx context.Context) error { return c.ResolveDependency(ctx, depIdx) })
	require.NoError(t, c.Queue.Drain())

	assert.Equal(t, assetgraph.DependencyStateExcluded, c.Graph.Node(depIdx).Dependency.State)
	all := c.Diagnostics.All()
	require.Len(t, all, 1)
	assert.Equal(t, diag.KindInvalidSpecifier, all[0].Kind)
}

func TestIdenticalAssetRequestsCollapseOntoOneAsset(t *testing.T) {
	files := map[string]*fixtureFile{
		"/src/a.ts": {sideEffects: true, deps: []*assetgraph.Dependency{{Specifier: "/src/shared.ts"}}},
		"/src/b.ts": {sideEffects: true, deps: []*assetgraph.Dependency{{Specifier: "/src/shared.ts"}}},
		"/src/shared.ts": {sideEffects: true},
	}
	c, seeds := testCoordinator(t, files, "/src/a.ts", "/src/b.ts")

	for _, s := range seeds {
		s := s
		c.Queue.Enqueue(func(ctx context.Context) error { return c.ResolveDependency(ctx, s) })
	}
	require.NoError(t, c.Queue.Drain())

	// Exactly one Asset node for shared.ts despite two dependencies on it.
	sharedCount := 0
	for _, n := range c.Graph.Nodes() {
		if n.Kind == assetgraph.NodeKindAsset && n.Asset.FilePath == "/src/shared.ts" {
			sharedCount++
		}
	}
	assert.Equal(t, 1, sharedCount)
	assert.Empty(t, c.Graph.ValidateInvariants().All())
}

func TestSideEffectFreeUnusedDependencyDefers(t *testing.T) {
	files := map[string]*fixtureFile{
		"/src/app.ts": {sideEffects: true, deps: []*assetgraph.Dependency{{
			Specifier: "/src/heavy.ts",
			Symbols:   []assetgraph.Symbol{}, // declared imports, none requested
		}}},
		"/src/heavy.ts": {sideEffects: false, canDefer: true, exports: []assetgraph.Symbol{{Local: "x", Exported: "x"}}},
	}
	c, seeds := testCoordinator(t, files, "/src/app.ts")

	c.Queue.Enqueue(func(ctx context.Context) error { return c.ResolveDependency(ctx, seeds[0]) })
	require.NoError(t, c.Queue.Drain())

	heavyDep := findDependency(t, c, "/src/heavy.ts")
	assert.Equal(t, assetgraph.DependencyStateDeferred, c.Graph.Node(heavyDep).Dependency.State)

	// heavy.ts itself was never transformed.
	for _, n := range c.Graph.Nodes() {
		if n.Kind == assetgraph.NodeKindAsset {
			assert.NotEqual(t, "/src/heavy.ts", n.Asset.FilePath)
		}
	}
	assert.Empty(t, c.Graph.ValidateInvariants().All())
}

func TestDeferredDependencyReopensWhenSymbolsRequested(t *testing.T) {
	files := map[string]*fixtureFile{
		"/src/app.ts": {sideEffects: true, deps: []*assetgraph.Dependency{{
			Specifier: "/src/heavy.ts",
			Symbols:   []assetgraph.Symbol{},
		}}},
		"/src/heavy.ts": {sideEffects: false, canDefer: true, exports: []assetgraph.Symbol{{Local: "x", Exported: "x"}}},
	}
	c, seeds := testCoordinator(t, files, "/src/app.ts")

	c.Queue.Enqueue(func(ctx context.Context) error { return c.ResolveDependency(ctx, seeds[0]) })
	require.NoError(t, c.Queue.Drain())

	heavyDep := findDependency(t, c, "/src/heavy.ts")
	require.Equal(t, assetgraph.DependencyStateDeferred, c.Graph.Node(heavyDep).Dependency.State)

	appID := assetIDByPath(t, c, "/src/app.ts")
	require.NoError(t, c.growAndMaybeReopen(context.Background(), heavyDep, appID, "/src/heavy.ts", []string{"x"}))
	require.NoError(t, c.Queue.Drain())

	dep := c.Graph.Node(heavyDep).Dependency
	assert.Equal(t, assetgraph.DependencyStateResolved, dep.State)
	assert.Contains(t, dep.RequestedSymbols, "x")

	// The re-opened dependency transformed its target and resolved the
	// requested symbol to its provider.
	heavyID := assetIDByPath(t, c, "/src/heavy.ts")
	resolved := c.Symbols.Resolved(appID, "/src/heavy.ts")
	require.Contains(t, resolved, "x")
	assert.Equal(t, heavyID, resolved["x"].AssetID)
	assert.True(t, resolved["x"].SideEffectFree)
}

func TestTransformerFailureAbandonsPendingDependencies(t *testing.T) {
	files := map[string]*fixtureFile{
		"/src/broken.ts": {sideEffects: true, transformErr: errors.New("syntax error")},
	}
	c, seeds := testCoordinator(t, files, "/src/broken.ts")

	c.Queue.Enqueue(func(ctx context.Context) error { return c.ResolveDependency(ctx, seeds[0]) })
	require.NoError(t, c.Queue.Drain())

	assert.Equal(t, assetgraph.DependencyStateExcluded, c.Graph.Node(seeds[0]).Dependency.State)
	all := c.Diagnostics.All()
	require.Len(t, all, 1)
	assert.Equal(t, diag.KindTransformerFailed, all[0].Kind)
	assert.Empty(t, c.Graph.ValidateInvariants().All())
}

// findDependency locates the Dependency node with the given specifier.
func findDependency(t *testing.T, c *Coordinator, specifier string) assetgraph.NodeIndex {
	t.Helper()
	for i, n := range c.Graph.Nodes() {
		if n.Kind == assetgraph.NodeKindDependency && n.Dependency.Specifier == specifier {
			return assetgraph.NodeIndex(i)
		}
	}
	t.Fatalf("no dependency with specifier %q", specifier)
	return assetgraph.InvalidNodeIndex
}

func assetIDByPath(t *testing.T, c *Coordinator, path string) assetgraph.AssetID {
	t.Helper()
	for _, n := range c.Graph.Nodes() {
		if n.Kind == assetgraph.NodeKindAsset && n.Asset.FilePath == path {
			return n.Asset.ID
		}
	}
	t.Fatalf("no asset with path %q", path)
	return ""
}
