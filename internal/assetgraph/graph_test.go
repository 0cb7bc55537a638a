// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package assetgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalAssetRequestIDIsDeterministic(t *testing.T) {
	req := CanonicalAssetRequest{
		FilePath:    "/src/a.ts",
		Env:         Env{Context: "browser", SourceType: "module"},
		Pipeline:    "url",
		Query:       "?inline",
		ProjectRoot: "/repo",
	}
	assert.Equal(t, req.ID(), req.ID())
	assert.Equal(t, string(req.ID()), req.RequestID())
}

func TestCanonicalAssetRequestIDVariesWithEachInput(t *testing.T) {
	base := CanonicalAssetRequest{FilePath: "/src/a.ts", ProjectRoot: "/repo"}
	ids := map[AssetID]string{base.ID(): "base"}

	variants := []CanonicalAssetRequest{
		{FilePath: "/src/b.ts", ProjectRoot: "/repo"},
		{FilePath: "/src/a.ts", ProjectRoot: "/other"},
		{FilePath: "/src/a.ts", ProjectRoot: "/repo", Pipeline: "url"},
		{FilePath: "/src/a.ts", ProjectRoot: "/repo", Query: "?raw"},
		{FilePath: "/src/a.ts", ProjectRoot: "/repo", Env: Env{Context: "node"}},
	}
	code := "inline"
	withCode := base
	withCode.Code = &code
	variants = append(variants, withCode)

	for _, v := range variants {
		id := v.ID()
		_, clash := ids[id]
		assert.False(t, clash, "variant %+v collided", v)
		ids[id] = "variant"
	}
}

func TestDependencyStateLifecycle(t *testing.T) {
	assert.True(t, DependencyStateNew.CanAdvanceTo(DependencyStateResolving))
	assert.True(t, DependencyStateNew.CanAdvanceTo(DependencyStateDeferred))
	assert.True(t, DependencyStateResolving.CanAdvanceTo(DependencyStateResolved))
	assert.True(t, DependencyStateResolving.CanAdvanceTo(DependencyStateExcluded))

	// The sole permitted re-open.
	assert.True(t, DependencyStateDeferred.CanAdvanceTo(DependencyStateResolving))

	assert.False(t, DependencyStateResolved.CanAdvanceTo(DependencyStateResolving))
	assert.False(t, DependencyStateResolved.CanAdvanceTo(DependencyStateDeferred))
	assert.False(t, DependencyStateExcluded.CanAdvanceTo(DependencyStateResolving))
	assert.False(t, DependencyStateDeferred.CanAdvanceTo(DependencyStateResolved))
}

func TestCanDefer(t *testing.T) {
	none := map[string]struct{}{}
	requested := map[string]struct{}{"x": {}}

	assert.True(t, CanDefer(false, true, none, true))
	assert.False(t, CanDefer(true, true, none, true), "side effects block deferral")
	assert.False(t, CanDefer(false, false, none, true), "resolver veto blocks deferral")
	assert.False(t, CanDefer(false, true, requested, true), "requested symbols block deferral")
	assert.False(t, CanDefer(false, true, none, false), "unknown import set blocks deferral")
}

func TestGrowRequestedSymbols(t *testing.T) {
	d := &Dependency{}
	assert.True(t, d.GrowRequestedSymbols("a", "b"))
	assert.False(t, d.GrowRequestedSymbols("a"))
	assert.True(t, d.GrowRequestedSymbols("c"))
	assert.Len(t, d.RequestedSymbols, 3)
}

func TestStrongestBundleBehavior(t *testing.T) {
	assert.Equal(t, BundleBehaviorIsolated,
		Strongest(BundleBehaviorNone, BundleBehaviorInlineIsolated, BundleBehaviorIsolated))
	assert.Equal(t, BundleBehaviorInlineIsolated,
		Strongest(BundleBehaviorInlineIsolated, BundleBehaviorNone))
	assert.Equal(t, BundleBehaviorNone, Strongest())
}

func TestFileTypeFromPath(t *testing.T) {
	assert.Equal(t, FileTypeTS, FileTypeFromPath("/src/a.ts"))
	assert.Equal(t, FileTypeTS, FileTypeFromPath("/src/a.TSX"))
	assert.Equal(t, FileTypeCSS, FileTypeFromPath("/styles/site.css"))
	assert.Equal(t, FileTypeHTML, FileTypeFromPath("/index.html"))
	assert.Equal(t, FileTypeJS, FileTypeFromPath("/src/a.js"))
	assert.Equal(t, FileTypeJS, FileTypeFromPath("/src/weird.wasm"), "unknown extensions default to JS")
}

func TestIsPureBarrelFile(t *testing.T) {
	x := Symbol{Local: "x", Exported: "x"}

	barrel := &Asset{
		Symbols: []Symbol{x},
		SymbolInfo: SymbolInfo{ReExports: []ReExport{
			{FromSpecifier: "./impl", Named: &x},
		}},
	}
	assert.True(t, barrel.IsPureBarrelFile())

	local := &Asset{Symbols: []Symbol{x}}
	assert.False(t, local.IsPureBarrelFile(), "a locally-defined export is not a barrel")

	empty := &Asset{}
	assert.False(t, empty.IsPureBarrelFile(), "no exports means nothing re-exported")

	namespaceOnly := &Asset{
		Symbols: []Symbol{x},
		SymbolInfo: SymbolInfo{ReExports: []ReExport{
			{FromSpecifier: "./impl", IsNamespace: true},
		}},
	}
	assert.True(t, namespaceOnly.IsPureBarrelFile())
}

func buildSmallGraph(t *testing.T) (*Graph, NodeIndex, NodeIndex) {
	t.Helper()
	g := New()
	g.Lock()
	defer g.Unlock()

	entry := g.AddEntryLocked("/src/index.ts")
	target := g.AddTargetLocked(entry, Target{Entry: "/src/index.ts"})
	dep := g.AddDependencyLocked(target, &Dependency{Specifier: "/src/index.ts", IsEntry: true})
	asset := g.AddAssetLocked(&Asset{ID: "asset-1", FilePath: "/src/index.ts", FileType: FileTypeTS})
	require.NoError(t, g.ConnectDependencyToAssetLocked(dep, asset))
	return g, dep, asset
}

func TestGraphStructureAndLookup(t *testing.T) {
	g, dep, asset := buildSmallGraph(t)

	assert.Equal(t, NodeIndex(0), g.Root())
	assert.Equal(t, 5, g.NodeCount()) // Root, Entry, Target, Dependency, Asset

	n := g.Node(dep)
	require.Equal(t, NodeKindDependency, n.Kind)
	assert.Equal(t, DependencyStateResolved, n.Dependency.State)
	assert.Equal(t, []NodeIndex{asset}, n.Out)

	got, ok := g.AssetByID("asset-1")
	require.True(t, ok)
	assert.Equal(t, "/src/index.ts", got.FilePath)

	_, ok = g.AssetByID("missing")
	assert.False(t, ok)
}

func TestResolveSpecifierFollowsDependencyEdge(t *testing.T) {
	g, _, assetIdx := buildSmallGraph(t)

	owner := g.Node(assetIdx).Asset

	g.Lock()
	depIdx := g.AddDependencyLocked(assetIdx, &Dependency{Specifier: "./util"})
	owner.Dependencies = append(owner.Dependencies, depIdx)
	utilIdx := g.AddAssetLocked(&Asset{ID: "asset-util", FilePath: "/src/util.ts"})
	require.NoError(t, g.ConnectDependencyToAssetLocked(depIdx, utilIdx))
	g.Unlock()

	id, ok := g.ResolveSpecifier("asset-1", "./util")
	require.True(t, ok)
	assert.Equal(t, AssetID("asset-util"), id)

	_, ok = g.ResolveSpecifier("asset-1", "./other")
	assert.False(t, ok)
	_, ok = g.ResolveSpecifier("unknown-asset", "./util")
	assert.False(t, ok)
}

func TestValidateInvariantsAcceptsTerminalStates(t *testing.T) {
	g, _, _ := buildSmallGraph(t)

	g.Lock()
	// Deferred with no edges and excluded with no edges are both legal.
	g.AddDependencyLocked(1, &Dependency{Specifier: "x", State: DependencyStateDeferred})
	g.AddDependencyLocked(1, &Dependency{Specifier: "y", State: DependencyStateExcluded})
	g.Unlock()

	assert.Empty(t, g.ValidateInvariants().All())
}

func TestValidateInvariantsFlagsNonTerminalAndMalformed(t *testing.T) {
	g, _, _ := buildSmallGraph(t)

	g.Lock()
	// Still New at the end of a build: invariant violation.
	g.AddDependencyLocked(1, &Dependency{Specifier: "stuck"})
	// Resolved but never connected to an asset: also a violation.
	g.AddDependencyLocked(1, &Dependency{Specifier: "dangling", State: DependencyStateResolved})
	g.Unlock()

	bag := g.ValidateInvariants()
	assert.Equal(t, 2, bag.Len())
	assert.True(t, bag.HasFatal())
}

func TestConnectDependencyRejectsNonDependencyNode(t *testing.T) {
	g, _, asset := buildSmallGraph(t)
	g.Lock()
	defer g.Unlock()
	err := g.ConnectDependencyToAssetLocked(asset, asset)
	assert.Error(t, err)
}
