// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package bundlegraph defines the public output of the ideal bundle
// builder: a BundleGraph of Root/Bundle nodes and the typed edges
// between them. internal/idealgraph is the only producer;
// this package holds no construction logic so callers (internal/corebuild,
// the packager a future surface would add) can depend on the shape
// without pulling in the builder.
package bundlegraph

import (
	"sort"

	"github.com/atlaspack-go/core/internal/assetgraph"
)

// BundleID is a deterministic bundle identifier: `bundle(entry=<asset id>)` for an entry/boundary root, or
// `@@shared:<sorted root ids>` for a shared bundle.
type BundleID string

// EdgeKind discriminates how one bundle relates to another in the
// BundleGraph.
type EdgeKind int

const (
	RootEntryOf EdgeKind = iota
	RootAsyncBundleOf
	RootTypeChangeBundleOf
	RootSharedBundleOf
	BundleSyncLoads
	BundleAsyncLoads
)

func (k EdgeKind) String() string {
	switch k {
	case RootEntryOf:
		return "root_entry_of"
	case RootAsyncBundleOf:
		return "root_async_bundle_of"
	case RootTypeChangeBundleOf:
		return "root_type_change_bundle_of"
	case RootSharedBundleOf:
		return "root_shared_bundle_of"
	case BundleSyncLoads:
		return "bundle_sync_loads"
	case BundleAsyncLoads:
		return "bundle_async_loads"
	default:
		return "unknown"
	}
}

// Bundle is one IdealBundle.
type Bundle struct {
	ID   BundleID
	Root assetgraph.AssetID // "" for a pure shared bundle with no single root asset
	// Assets is every asset placed in this bundle, sorted by AssetID for
	// deterministic output.
	Assets []assetgraph.AssetID

	FileType assetgraph.FileType
	Env      assetgraph.Env
	Behavior assetgraph.BundleBehavior

	IsEntry          bool
	IsBoundary       bool
	IsSplittable     bool
	NeedsStableName  bool
	IsShared         bool
	SourceRootsForID []assetgraph.AssetID // the roots a shared bundle's id was derived from
}

// AddAsset inserts id into b.Assets, keeping it sorted and deduplicated.
func (b *Bundle) AddAsset(id assetgraph.AssetID) {
	for _, existing := range b.Assets {
		if existing == id {
			return
		}
	}
	b.Assets = append(b.Assets, id)
	sort.Slice(b.Assets, func(i, j int) bool { return b.Assets[i] < b.Assets[j] })
}

// Edge is one directed BundleGraph edge. From is "" for the synthetic Root.
type Edge struct {
	From BundleID
	To   BundleID
	Kind EdgeKind
}

// BundleGraph is the output of run_bundle_graph_request.
type BundleGraph struct {
	Bundles map[BundleID]*Bundle
	Edges   []Edge
	// AssetToBundles maps an asset to every bundle it was placed in.
	// Duplication into entry-like bundles means an asset can map to more
	// than one bundle.
	AssetToBundles map[assetgraph.AssetID][]BundleID
	// Order lists bundle ids in deterministic creation order.
	Order []BundleID
}

// New creates an empty BundleGraph.
func New() *BundleGraph {
	return &BundleGraph{
		Bundles:        make(map[BundleID]*Bundle),
		AssetToBundles: make(map[assetgraph.AssetID][]BundleID),
	}
}

// AddBundle registers b, appending its id to Order if not already present.
func (bg *BundleGraph) AddBundle(b *Bundle) {
	if _, exists := bg.Bundles[b.ID]; !exists {
		bg.Order = append(bg.Order, b.ID)
	}
	bg.Bundles[b.ID] = b
}

// Place records that asset belongs to bundle, both on the Bundle itself
// and in the reverse index.
func (bg *BundleGraph) Place(bundleID BundleID, asset assetgraph.AssetID) {
	b, ok := bg.Bundles[bundleID]
	if !ok {
		return
	}
	b.AddAsset(asset)
	for _, existing := range bg.AssetToBundles[asset] {
		if existing == bundleID {
			return
		}
	}
	bg.AssetToBundles[asset] = append(bg.AssetToBundles[asset], bundleID)
}

// AddEdge records a directed, deduplicated BundleGraph edge.
func (bg *BundleGraph) AddEdge(from, to BundleID, kind EdgeKind) {
	for _, e := range bg.Edges {
		if e.From == from && e.To == to && e.Kind == kind {
			return
		}
	}
	bg.Edges = append(bg.Edges, Edge{From: from, To: to, Kind: kind})
}

// EntryBundleID is the deterministic id for an entry or boundary root:
// `bundle(entry=<asset id>)`.
func EntryBundleID(root assetgraph.AssetID) BundleID {
	return BundleID("bundle(entry=" + string(root) + ")")
}

// SharedBundleID is the deterministic id for a shared bundle, derived from
// its sorted source root ids.
func SharedBundleID(roots []assetgraph.AssetID) BundleID {
	sorted := append([]assetgraph.AssetID{}, roots...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	id := "@@shared:"
	for i, r := range sorted {
		if i > 0 {
			id += ","
		}
		id += string(r)
	}
	return BundleID(id)
}
