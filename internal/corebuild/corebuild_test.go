// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// End-to-end scenario tests: tiny in-memory fixtures stand in for a
// real resolver/transformer pair and each test asserts the resulting
// BundleGraph's shape directly.
package corebuild

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlaspack-go/core/internal/assetgraph"
	"github.com/atlaspack-go/core/internal/bundlegraph"
	"github.com/atlaspack-go/core/internal/reqtrack"
	"github.com/atlaspack-go/core/internal/resolver"
	"github.com/atlaspack-go/core/internal/transformer"
)

const projectRoot = "/repo"

// depFixture is one dependency a fileFixture declares.
type depFixture struct {
	specifier      string
	priority       assetgraph.Priority
	bundleBehavior assetgraph.BundleBehavior
	optional       bool
}

// fileFixture is one file in a fake source tree: its own properties plus
// the dependencies it declares.
type fileFixture struct {
	fileType     assetgraph.FileType
	sideEffects  bool
	exports      []assetgraph.Symbol
	dependencies []depFixture
}

// fakeResolver resolves a dependency's specifier directly to a fixture
// file at that same path, exactly as declared — no node_modules walking,
// no extension sniffing.
type fakeResolver struct {
	files map[string]*fileFixture
}

func (r fakeResolver) Name() string { return "fake" }

func (r fakeResolver) Resolve(ctx context.Context, rctx resolver.Context) (resolver.Outcome, resolver.Resolution, error) {
	f, ok := r.files[rctx.Specifier]
	if !ok {
		return resolver.OutcomeUnresolved, resolver.Resolution{}, nil
	}
	return resolver.OutcomeResolved, resolver.Resolution{
		FilePath:      rctx.Specifier,
		SideEffects:   f.sideEffects,
		Invalidations: []string{rctx.Specifier},
	}, nil
}

// fakeTransformer turns a resolved file path back into the Asset and
// Dependencies its fileFixture declared.
type fakeTransformer struct {
	files map[string]*fileFixture
}

func (t fakeTransformer) Name() string { return "fake" }

func (t fakeTransformer) Transform(ctx context.Context, actx transformer.AssetContext) (transformer.Result, error) {
	f := t.files[actx.Request.FilePath]

	asset := &assetgraph.Asset{
		FileType:           f.fileType,
		SideEffects:        f.sideEffects,
		IsBundleSplittable: true,
		Symbols:            f.exports,
	}

	var deps []*assetgraph.Dependency
	for _, d := range f.dependencies {
		deps = append(deps, &assetgraph.Dependency{
			Specifier:      d.specifier,
			Priority:       d.priority,
			BundleBehavior: d.bundleBehavior,
			IsOptional:     d.optional,
		})
	}

	return transformer.Result{Asset: asset, Dependencies: deps}, nil
}

// harness bundles a fileFixture set into ready-to-run corebuild Options
// and an assetID helper that predicts the content-addressed id a given
// fixture path will receive, so tests can compute expected BundleIDs
// without re-deriving the hash by hand.
type harness struct {
	files map[string]*fileFixture
}

func newHarness(files map[string]*fileFixture) harness {
	return harness{files: files}
}

func (h harness) options() Options {
	return Options{
		ProjectRoot:  projectRoot,
		Resolvers:    resolver.Chain{fakeResolver{files: h.files}},
		Transformers: transformer.MapRegistry{
			string(assetgraph.FileTypeJS):   fakeTransformer{files: h.files},
			string(assetgraph.FileTypeTS):   fakeTransformer{files: h.files},
			string(assetgraph.FileTypeCSS):  fakeTransformer{files: h.files},
			string(assetgraph.FileTypeHTML): fakeTransformer{files: h.files},
		},
		Parallelism: 4,
	}
}

// assetID predicts the AssetID TransformAsset will assign to path, which
// must match the (Env{}, Pipeline "", Query "", SideEffects) the entry
// dependency and fakeResolver produce for every fixture in this package.
func (h harness) assetID(path string) assetgraph.AssetID {
	return assetgraph.CanonicalAssetRequest{
		FilePath:    path,
		Env:         assetgraph.Env{},
		ProjectRoot: projectRoot,
		SideEffects: h.files[path].sideEffects,
	}.ID()
}

func (h harness) entryBundle(path string) bundlegraph.BundleID {
	return bundlegraph.EntryBundleID(h.assetID(path))
}

// assetIDForEnv is assetID generalized to an explicit Env, for fixtures
// where the same entry path is built under more than one Target.
func (h harness) assetIDForEnv(path string, env assetgraph.Env) assetgraph.AssetID {
	return assetgraph.CanonicalAssetRequest{
		FilePath:    path,
		Env:         env,
		ProjectRoot: projectRoot,
		SideEffects: h.files[path].sideEffects,
	}.ID()
}

func hasEdge(bg *bundlegraph.BundleGraph, from, to bundlegraph.BundleID, kind bundlegraph.EdgeKind) bool {
	for _, e := range bg.Edges {
		if e.From == from && e.To == to && e.Kind == kind {
			return true
		}
	}
	return false
}

// S1: a single entry with no dependencies produces one bundle containing
// just that entry, rooted directly off the synthetic Root.
func TestScenarioSingleEntryNoDependencies(t *testing.T) {
	h := newHarness(map[string]*fileFixture{
		"/src/index.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true},
	})

	bg, g, err := Run(context.Background(), []string{"/src/index.ts"}, h.options())
	require.NoError(t, err)
	require.NotNil(t, g)

	indexBundle := h.entryBundle("/src/index.ts")
	require.Contains(t, bg.Bundles, indexBundle)
	assert.Equal(t, []assetgraph.AssetID{h.assetID("/src/index.ts")}, bg.Bundles[indexBundle].Assets)
	assert.Len(t, bg.Bundles, 1)
	assert.True(t, hasEdge(bg, "", indexBundle, bundlegraph.RootEntryOf))
}

// S2: a synchronous require chain a -> b -> c collapses into a single
// bundle; no boundary is crossed anywhere in the chain.
func TestScenarioSyncChainCollapsesIntoOneBundle(t *testing.T) {
	h := newHarness(map[string]*fileFixture{
		"/src/a.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true, dependencies: []depFixture{
			{specifier: "/src/b.ts", priority: assetgraph.PrioritySync},
		}},
		"/src/b.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true, dependencies: []depFixture{
			{specifier: "/src/c.ts", priority: assetgraph.PrioritySync},
		}},
		"/src/c.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true},
	})

	bg, _, err := Run(context.Background(), []string{"/src/a.ts"}, h.options())
	require.NoError(t, err)

	aBundle := h.entryBundle("/src/a.ts")
	require.Len(t, bg.Bundles, 1)
	assert.ElementsMatch(t, []assetgraph.AssetID{
		h.assetID("/src/a.ts"), h.assetID("/src/b.ts"), h.assetID("/src/c.ts"),
	}, bg.Bundles[aBundle].Assets)
}

// S3: a lazily-imported dependency opens a second bundle, connected to
// the first by an async edge, and is not internalized back into it
// because nothing else makes it synchronously reachable.
func TestScenarioAsyncDependencyCreatesSecondBundle(t *testing.T) {
	h := newHarness(map[string]*fileFixture{
		"/src/index.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true, dependencies: []depFixture{
			{specifier: "/src/dep.ts", priority: assetgraph.PriorityLazy},
		}},
		"/src/dep.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true},
	})

	bg, _, err := Run(context.Background(), []string{"/src/index.ts"}, h.options())
	require.NoError(t, err)

	indexBundle := h.entryBundle("/src/index.ts")
	depBundle := h.entryBundle("/src/dep.ts")
	require.Len(t, bg.Bundles, 2)
	assert.Equal(t, []assetgraph.AssetID{h.assetID("/src/index.ts")}, bg.Bundles[indexBundle].Assets)
	assert.Equal(t, []assetgraph.AssetID{h.assetID("/src/dep.ts")}, bg.Bundles[depBundle].Assets)
	assert.True(t, hasEdge(bg, indexBundle, depBundle, bundlegraph.BundleAsyncLoads))
	assert.True(t, hasEdge(bg, "", depBundle, bundlegraph.RootAsyncBundleOf))
}

// S4a: two independent entries that both synchronously import the same
// util module each get their own copy of it — no shared bundle, because
// both reaching roots are themselves entries (entry-like).
func TestScenarioTwoEntriesDuplicateSharedSyncDependency(t *testing.T) {
	h := newHarness(map[string]*fileFixture{
		"/src/a.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true, dependencies: []depFixture{
			{specifier: "/src/util.ts", priority: assetgraph.PrioritySync},
		}},
		"/src/b.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true, dependencies: []depFixture{
			{specifier: "/src/util.ts", priority: assetgraph.PrioritySync},
		}},
		"/src/util.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true},
	})

	bg, _, err := Run(context.Background(), []string{"/src/a.ts", "/src/b.ts"}, h.options())
	require.NoError(t, err)

	aBundle := h.entryBundle("/src/a.ts")
	bBundle := h.entryBundle("/src/b.ts")
	util := h.assetID("/src/util.ts")

	require.Len(t, bg.Bundles, 2)
	assert.Contains(t, bg.Bundles[aBundle].Assets, util)
	assert.Contains(t, bg.Bundles[bBundle].Assets, util)
	for _, id := range bg.Order {
		assert.False(t, bg.Bundles[id].IsShared, "no shared bundle expected when both reaching roots are entries")
	}
}

// S4b: two sibling async bundles that both synchronously import the same
// util module get it extracted into a shared bundle instead of each
// duplicating it.
func TestScenarioSiblingAsyncBundlesShareSyncDependency(t *testing.T) {
	h := newHarness(map[string]*fileFixture{
		"/src/index.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true, dependencies: []depFixture{
			{specifier: "/src/a.ts", priority: assetgraph.PriorityLazy},
			{specifier: "/src/b.ts", priority: assetgraph.PriorityLazy},
		}},
		"/src/a.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true, dependencies: []depFixture{
			{specifier: "/src/util.ts", priority: assetgraph.PrioritySync},
		}},
		"/src/b.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true, dependencies: []depFixture{
			{specifier: "/src/util.ts", priority: assetgraph.PrioritySync},
		}},
		"/src/util.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true},
	})

	bg, _, err := Run(context.Background(), []string{"/src/index.ts"}, h.options())
	require.NoError(t, err)

	aBundle := h.entryBundle("/src/a.ts")
	bBundle := h.entryBundle("/src/b.ts")
	util := h.assetID("/src/util.ts")
	sharedID := bundlegraph.SharedBundleID([]assetgraph.AssetID{h.assetID("/src/a.ts"), h.assetID("/src/b.ts")})

	require.Contains(t, bg.Bundles, sharedID)
	shared := bg.Bundles[sharedID]
	assert.True(t, shared.IsShared)
	assert.Equal(t, []assetgraph.AssetID{util}, shared.Assets)
	assert.NotContains(t, bg.Bundles[aBundle].Assets, util)
	assert.NotContains(t, bg.Bundles[bBundle].Assets, util)
	assert.True(t, hasEdge(bg, aBundle, sharedID, bundlegraph.BundleSyncLoads))
	assert.True(t, hasEdge(bg, bBundle, sharedID, bundlegraph.BundleSyncLoads))
	assert.True(t, hasEdge(bg, "", sharedID, bundlegraph.RootSharedBundleOf))
}

// S5: a sync import cycle (foo <-> bar) reachable only from one entry
// collapses into that entry's bundle instead of hanging the builder.
func TestScenarioSyncCycleCollapsesIntoEntryBundle(t *testing.T) {
	h := newHarness(map[string]*fileFixture{
		"/src/baz.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true, dependencies: []depFixture{
			{specifier: "/src/foo.ts", priority: assetgraph.PrioritySync},
			{specifier: "/src/bar.ts", priority: assetgraph.PrioritySync},
		}},
		"/src/foo.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true, dependencies: []depFixture{
			{specifier: "/src/bar.ts", priority: assetgraph.PrioritySync},
		}},
		"/src/bar.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true, dependencies: []depFixture{
			{specifier: "/src/foo.ts", priority: assetgraph.PrioritySync},
		}},
	})

	bg, _, err := Run(context.Background(), []string{"/src/baz.ts"}, h.options())
	require.NoError(t, err)

	bazBundle := h.entryBundle("/src/baz.ts")
	require.Len(t, bg.Bundles, 1)
	assert.ElementsMatch(t, []assetgraph.AssetID{
		h.assetID("/src/baz.ts"), h.assetID("/src/foo.ts"), h.assetID("/src/bar.ts"),
	}, bg.Bundles[bazBundle].Assets)
}

// The same module imported lazily twice from one entry still opens
// exactly one async bundle, with exactly one async edge — repeated
// discovery of an identical dependency must not duplicate bundle-graph
// state. (Nothing sync-reaches dep here, so it is not internalized; see
// the scenario below for that.)
func TestScenarioRepeatedLazyImportCollapsesIntoOneAsyncBundle(t *testing.T) {
	h := newHarness(map[string]*fileFixture{
		"/src/index.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true, dependencies: []depFixture{
			{specifier: "/src/dep.ts", priority: assetgraph.PriorityLazy},
			{specifier: "/src/dep.ts", priority: assetgraph.PriorityLazy},
		}},
		"/src/dep.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true},
	})

	bg, _, err := Run(context.Background(), []string{"/src/index.ts"}, h.options())
	require.NoError(t, err)

	indexBundle := h.entryBundle("/src/index.ts")
	depBundle := h.entryBundle("/src/dep.ts")

	require.Len(t, bg.Bundles, 2)
	assert.Equal(t, []assetgraph.AssetID{h.assetID("/src/dep.ts")}, bg.Bundles[depBundle].Assets)
	edgeCount := 0
	for _, e := range bg.Edges {
		if e.From == indexBundle && e.To == depBundle && e.Kind == bundlegraph.BundleAsyncLoads {
			edgeCount++
		}
	}
	assert.Equal(t, 1, edgeCount, "AddEdge must deduplicate the repeated (index, dep, async) edge")
}

// S6: a dependency both synchronously and lazily imported from the same
// entry gets its would-be async bundle internalized — the payload is
// already sync-reachable from the parent's root, so a single bundle
// remains and no async root edge survives.
func TestScenarioAsyncBundleInternalizedWhenSyncReachable(t *testing.T) {
	h := newHarness(map[string]*fileFixture{
		"/src/index.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true, dependencies: []depFixture{
			{specifier: "/src/dep.ts", priority: assetgraph.PrioritySync},
			{specifier: "/src/dep.ts", priority: assetgraph.PriorityLazy},
		}},
		"/src/dep.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true},
	})

	bg, _, err := Run(context.Background(), []string{"/src/index.ts"}, h.options())
	require.NoError(t, err)

	indexBundle := h.entryBundle("/src/index.ts")
	require.Len(t, bg.Bundles, 1)
	assert.ElementsMatch(t, []assetgraph.AssetID{
		h.assetID("/src/index.ts"), h.assetID("/src/dep.ts"),
	}, bg.Bundles[indexBundle].Assets)
	for _, e := range bg.Edges {
		assert.NotEqual(t, bundlegraph.RootAsyncBundleOf, e.Kind,
			"the internalized bundle's async root edge must be gone")
	}
}

// Supplemented feature #4: the same entry path built for two declared
// Targets (envs) produces two independent bundles, each keyed off its
// own env-qualified AssetID, rather than merging into one.
func TestMultiTargetIndependentBundles(t *testing.T) {
	h := newHarness(map[string]*fileFixture{
		"/src/lib.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true},
	})

	browserEnv := assetgraph.Env{Context: "browser"}
	nodeEnv := assetgraph.Env{Context: "node"}

	opts := h.options()
	opts.Targets = []assetgraph.Target{
		{Entry: "/src/lib.ts", Env: browserEnv},
		{Entry: "/src/lib.ts", Env: nodeEnv},
	}

	bg, g, err := Run(context.Background(), nil, opts)
	require.NoError(t, err)
	require.NotNil(t, g)

	browserID := h.assetIDForEnv("/src/lib.ts", browserEnv)
	nodeID := h.assetIDForEnv("/src/lib.ts", nodeEnv)
	require.NotEqual(t, browserID, nodeID, "distinct envs must yield distinct AssetIDs")

	browserBundle := bundlegraph.EntryBundleID(browserID)
	nodeBundle := bundlegraph.EntryBundleID(nodeID)

	require.Len(t, bg.Bundles, 2)
	assert.Equal(t, []assetgraph.AssetID{browserID}, bg.Bundles[browserBundle].Assets)
	assert.Equal(t, []assetgraph.AssetID{nodeID}, bg.Bundles[nodeBundle].Assets)
}

// Resolver-reported invalidations surface on the request result, and a
// matching Invalidate call through a shared tracker drops both the asset
// graph and bundle graph caches so a watch-mode rebuild re-runs them.
func TestResolverInvalidationsSurfaceAndDropCaches(t *testing.T) {
	h := newHarness(map[string]*fileFixture{
		"/src/index.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true, dependencies: []depFixture{
			{specifier: "/src/util.ts", priority: assetgraph.PrioritySync},
		}},
		"/src/util.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true},
	})

	tr := reqtrack.New(nil)
	res, err := tr.Run(context.Background(), BundleGraphRequest{
		Entries: []string{"/src/index.ts"},
		Options: h.options(),
		Tracker: tr,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Invalidations, "/src/util.ts")
	require.Equal(t, 2, tr.Len()) // asset graph + bundle graph requests

	// Both cached requests listed util.ts as an input.
	assert.Equal(t, 2, tr.Invalidate("/src/util.ts"))
	assert.Equal(t, 0, tr.Len())
}

// Universal invariants: the asset graph of a build with a lazy and an
// optional missing dependency has no fatal diagnostic and passes
// ValidateInvariants (every dependency in a terminal state).
func TestScenarioRunsProduceValidatedAssetGraphs(t *testing.T) {
	h := newHarness(map[string]*fileFixture{
		"/src/index.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true, dependencies: []depFixture{
			{specifier: "/src/dep.ts", priority: assetgraph.PriorityLazy},
			{specifier: "/src/missing.ts", priority: assetgraph.PrioritySync, optional: true},
		}},
		"/src/dep.ts": {fileType: assetgraph.FileTypeTS, sideEffects: true},
	})

	g, bag, err := RunAssetGraph(context.Background(), []string{"/src/index.ts"}, h.options())
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.False(t, bag.HasFatal())
	assert.Empty(t, g.ValidateInvariants().All())
}
