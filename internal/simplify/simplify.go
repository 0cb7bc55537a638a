// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package simplify collapses a completed asset graph down to the
// nodes/edges bundling actually cares about: Root and Asset nodes only,
// with Dependency nodes flattened into a classified
// edge, then condenses any cycle into a single Cycle node so the result
// is a DAG. No other package of this module calls Build: internal/idealgraph
// builds its own sync-only graph for internal/dominator.
//
// The SCC pass is iterative (an explicit stack instead of a recursive
// strongConnect) so condensation cannot stack-overflow on a large,
// accidentally-cyclic dependency graph.
package simplify

import (
	"sort"

	"github.com/atlaspack-go/core/internal/assetgraph"
	"github.com/atlaspack-go/core/internal/graphutil"
)

// EdgeKind classifies one simplified-graph edge. EdgeAsyncRoot is never
// emitted: Build labels a non-sync edge between assets of the same file
// type EdgeAssetAsyncDependency, and no later pass relabels it.
type EdgeKind int

const (
	EdgeEntryAssetRoot EdgeKind = iota
	EdgeAsyncRoot
	EdgeTypeChangeRoot
	EdgeAssetDependency
	EdgeAssetAsyncDependency
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeEntryAssetRoot:
		return "entry_asset_root"
	case EdgeAsyncRoot:
		return "async_root"
	case EdgeTypeChangeRoot:
		return "type_change_root"
	case EdgeAssetDependency:
		return "asset_dependency"
	case EdgeAssetAsyncDependency:
		return "asset_async_dependency"
	default:
		return "unknown"
	}
}

// NodeKind discriminates the three simplified-graph node variants.
type NodeKind int

const (
	NodeRoot NodeKind = iota
	NodeAsset
	NodeCycle
)

// Node is one simplified-graph vertex. For NodeAsset, Assets holds exactly
// one id; for NodeCycle, Assets holds every asset folded into that SCC, in
// deterministic (sorted) order.
type Node struct {
	Kind   NodeKind
	Assets []assetgraph.AssetID
}

// Edge is a directed, classified edge between two simplified-graph nodes,
// identified by their representative asset id (or "" for Root).
type Edge struct {
	From assetgraph.AssetID
	To   assetgraph.AssetID
	Kind EdgeKind
	Dep  *assetgraph.Dependency
}

// Graph is the flattened, then SCC-condensed, acyclic asset graph.
type Graph struct {
	// ByAsset maps every asset id folded into the graph to the
	// representative id used for edges: itself if it is a singleton Asset
	// node, or its Cycle node's representative (the lexicographically
	// smallest member) if it was folded into an SCC.
	ByAsset map[assetgraph.AssetID]assetgraph.AssetID
	// Nodes maps a representative id to its Node.
	Nodes map[assetgraph.AssetID]*Node
	// Edges is every classified edge, deduplicated and with self-loops
	// (both endpoints in the same Cycle node) dropped.
	Edges []Edge
	// Order lists representative ids in deterministic (sorted) order, for
	// callers that need stable iteration.
	Order []assetgraph.AssetID
}

// Build flattens g's Asset/Dependency subgraph starting from every Entry
// node into edges, classifies each, then condenses cycles
// via Tarjan SCC.
func Build(g *assetgraph.Graph) *Graph {
	flat := flatten(g)
	return condense(flat)
}

type flatEdge struct {
	from assetgraph.AssetID // "" means Root
	to   assetgraph.AssetID
	kind EdgeKind
	dep  *assetgraph.Dependency
}

// flatten walks every Asset node's outgoing Dependency edges and every
// Entry's reachable first asset, producing one flatEdge per
// Dependency→Asset connection (a Dependency that never resolved to an
// Asset — Deferred or Excluded — contributes no edge).
func flatten(g *assetgraph.Graph) []flatEdge {
	nodes := g.Nodes()
	var edges []flatEdge

	assetIDOf := func(idx assetgraph.NodeIndex) (assetgraph.AssetID, bool) {
		if nodes[idx].Kind != assetgraph.NodeKindAsset {
			return "", false
		}
		return nodes[idx].Asset.ID, true
	}

	walkDependency := func(fromAsset assetgraph.AssetID, isEntry bool, depIdx assetgraph.NodeIndex) {
		depNode := nodes[depIdx]
		if depNode.Kind != assetgraph.NodeKindDependency {
			return
		}
		for _, out := range depNode.Out {
			toID, ok := assetIDOf(out)
			if !ok {
				continue
			}
			edges = append(edges, flatEdge{from: fromAsset, to: toID, kind: classify(nodes, fromAsset, isEntry, depNode.Dependency, toID)})
		}
	}

	for i, n := range nodes {
		switch n.Kind {
		case assetgraph.NodeKindEntry:
			for _, targetIdx := range n.Out {
				target := nodes[targetIdx]
				if target.Kind != assetgraph.NodeKindTarget {
					continue
				}
				for _, depIdx := range target.Out {
					walkDependency("", true, depIdx)
				}
			}
		case assetgraph.NodeKindAsset:
			for _, depIdx := range n.Asset.Dependencies {
				walkDependency(n.Asset.ID, false, depIdx)
			}
			_ = i
		}
	}
	return edges
}

// classify assigns an EdgeKind: an edge from an Entry is always
// EdgeEntryAssetRoot; otherwise type-change beats priority — "is this a
// hard boundary" wins over "is this merely async".
func classify(nodes []assetgraph.Node, fromAsset assetgraph.AssetID, isEntry bool, dep *assetgraph.Dependency, toID assetgraph.AssetID) EdgeKind {
	if isEntry {
		return EdgeEntryAssetRoot
	}
	fromType, toType := fileTypeOf(nodes, fromAsset), fileTypeOf(nodes, toID)
	if fromType != toType {
		return EdgeTypeChangeRoot
	}
	if dep.Priority != assetgraph.PrioritySync {
		return EdgeAssetAsyncDependency
	}
	return EdgeAssetDependency
}

func fileTypeOf(nodes []assetgraph.Node, id assetgraph.AssetID) assetgraph.FileType {
	for _, n := range nodes {
		if n.Kind == assetgraph.NodeKindAsset && n.Asset.ID == id {
			return n.Asset.FileType
		}
	}
	return ""
}

// condense runs iterative Tarjan SCC over the flattened edge list and
// folds every non-trivial component into a single Cycle node.
func condense(flat []flatEdge) *Graph {
	adj := make(map[assetgraph.AssetID][]assetgraph.AssetID)
	nodeSet := make(map[assetgraph.AssetID]struct{})
	var rootTargets []assetgraph.AssetID

	for _, e := range flat {
		nodeSet[e.to] = struct{}{}
		if e.from == "" {
			rootTargets = append(rootTargets, e.to)
			continue
		}
		nodeSet[e.from] = struct{}{}
		adj[e.from] = append(adj[e.from], e.to)
	}

	order := graphutil.TarjanSCC(nodeSet, adj)

	out := &Graph{
		ByAsset: make(map[assetgraph.AssetID]assetgraph.AssetID),
		Nodes:   make(map[assetgraph.AssetID]*Node),
	}
	for _, members := range order {
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		rep := members[0]
		out.Order = append(out.Order, rep)
		for _, m := range members {
			out.ByAsset[m] = rep
		}
		if len(members) == 1 {
			out.Nodes[rep] = &Node{Kind: NodeAsset, Assets: members}
		} else {
			out.Nodes[rep] = &Node{Kind: NodeCycle, Assets: members}
		}
	}

	seen := make(map[Edge]struct{})
	addEdge := func(e Edge) {
		if e.From == e.To {
			return // self-loop folded into a Cycle node
		}
		if _, dup := seen[e]; dup {
			return
		}
		seen[e] = struct{}{}
		out.Edges = append(out.Edges, e)
	}

	for _, rt := range rootTargets {
		addEdge(Edge{From: "", To: out.ByAsset[rt], Kind: EdgeEntryAssetRoot})
	}
	for _, e := range flat {
		if e.from == "" {
			continue
		}
		addEdge(Edge{From: out.ByAsset[e.from], To: out.ByAsset[e.to], Kind: e.kind, Dep: e.dep})
	}

	sort.Slice(out.Edges, func(i, j int) bool {
		if out.Edges[i].From != out.Edges[j].From {
			return out.Edges[i].From < out.Edges[j].From
		}
		return out.Edges[i].To < out.Edges[j].To
	})
	return out
}
