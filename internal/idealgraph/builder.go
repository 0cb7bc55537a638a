// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package idealgraph implements the multi-phase ideal bundle builder:
// it takes a completed, quiescent assetgraph.Graph and produces a
// bundlegraph.BundleGraph via dominator-tree reachability, bitset
// availability propagation, shared-bundle extraction, and async-bundle
// internalization.
//
// Every phase records a Decision (decisionlog.go) so a caller — a test,
// or cmd/decisionview's live stream — can see exactly why an asset ended
// up where it did.
package idealgraph

import (
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/atlaspack-go/core/internal/assetgraph"
	"github.com/atlaspack-go/core/internal/bundlegraph"
	"github.com/atlaspack-go/core/internal/dominator"
	"github.com/atlaspack-go/core/internal/graphutil"
)

var phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "idealgraph_phase_duration_seconds",
	Help: "Wall time spent in each ideal bundle builder phase.",
}, []string{"phase"})

// timePhase records the duration of one named phase segment.
func timePhase(phase string) func() {
	start := time.Now()
	return func() { phaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds()) }
}

type assetEdge struct {
	from    assetgraph.AssetID // "" for an entry edge out of the synthetic Root
	isEntry bool
	to      assetgraph.AssetID
	dep     *assetgraph.Dependency
}

// Build runs the full pipeline. sink may be nil, in which case decisions
// are recorded into a throwaway internal Log (the caller simply doesn't
// get to inspect it).
func Build(g *assetgraph.Graph, sink Sink) (*bundlegraph.BundleGraph, Stats, error) {
	if sink == nil {
		sink = NewLog()
	}

	assets := g.Assets() // map[NodeIndex]*Asset — keyed by node, not id
	byID := make(map[assetgraph.AssetID]*assetgraph.Asset, len(assets))
	for _, a := range assets {
		byID[a.ID] = a
	}
	edges := collectEdges(g)

	// Phase 0 — intern & stats.
	endIntern := timePhase("intern")
	ids := make([]assetgraph.AssetID, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	interner := NewInterner(ids)
	endIntern()

	// Phase 1 — boundaries (and, trivially, entries).
	endBoundaries := timePhase("boundaries")
	entrySet := make(map[assetgraph.AssetID]struct{})
	boundarySet := make(map[assetgraph.AssetID]struct{})
	// boundaryKind remembers why each boundary exists, for the Root->bundle
	// edge Phase 4 emits: type-change outranks async, and an isolated-only
	// boundary has no Root relation of its own.
	boundaryKind := make(map[assetgraph.AssetID]bundlegraph.EdgeKind)
	for _, e := range edges {
		if e.isEntry {
			entrySet[e.to] = struct{}{}
			continue
		}
		from, to := byID[e.from], byID[e.to]
		if from == nil || to == nil {
			continue
		}
		if isBoundaryEdge(from, to, e.dep) {
			if _, already := boundarySet[e.to]; !already {
				boundarySet[e.to] = struct{}{}
				sink.Record(Decision{Phase: 1, Kind: DecisionBoundaryFound, Asset: e.to,
					Detail: "boundary at " + string(e.to)})
			}
			kind, has := boundaryKind[e.to]
			switch {
			case from.FileType != to.FileType:
				boundaryKind[e.to] = bundlegraph.RootTypeChangeBundleOf
			case e.dep.Priority != assetgraph.PrioritySync:
				if !has || kind != bundlegraph.RootTypeChangeBundleOf {
					boundaryKind[e.to] = bundlegraph.RootAsyncBundleOf
				}
			}
		}
	}

	rootSet := make(map[assetgraph.AssetID]struct{}, len(entrySet)+len(boundarySet))
	for id := range entrySet {
		rootSet[id] = struct{}{}
	}
	for id := range boundarySet {
		rootSet[id] = struct{}{}
	}
	var roots []assetgraph.AssetID
	for id := range rootSet {
		roots = append(roots, id)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	endBoundaries()

	// Phase 2 — sync graph: only sync, non-isolated edges that do not
	// cross into a boundary target.
	var domEdges []dominator.Edge
	for _, e := range edges {
		if e.isEntry || e.from == "" {
			continue
		}
		if _, isBoundary := boundarySet[e.to]; isBoundary {
			continue
		}
		from, to := byID[e.from], byID[e.to]
		if from == nil || to == nil || e.dep.Priority != assetgraph.PrioritySync {
			continue
		}
		if assetgraph.Strongest(e.dep.BundleBehavior, from.BundleBehavior, to.BundleBehavior) != assetgraph.BundleBehaviorNone {
			continue
		}
		domEdges = append(domEdges, dominator.Edge{From: e.from, To: e.to})
	}

	// Phase 3 — dominators over the sync graph rooted at VirtualRoot.
	endDominators := timePhase("dominators")
	tree := dominator.Build(domEdges, roots)
	endDominators()

	// Phase 4 — bundle root shells.
	bg := bundlegraph.New()
	entryLike := make(map[assetgraph.AssetID]bool, len(roots))
	for _, root := range roots {
		a := byID[root]
		if a == nil {
			continue
		}
		_, isEntry := entrySet[root]
		needsStableName := isEntry
		for _, e := range edges {
			if e.to == root && e.dep != nil && e.dep.NeedsStableName {
				needsStableName = true
			}
		}

		behaviorStrong := a.BundleBehavior != assetgraph.BundleBehaviorNone
		isEntryLike := isEntry || !a.IsBundleSplittable || behaviorStrong || needsStableName
		entryLike[root] = isEntryLike

		_, isBoundary := boundarySet[root]
		id := bundlegraph.EntryBundleID(root)
		b := &bundlegraph.Bundle{
			ID:              id,
			Root:            root,
			FileType:        a.FileType,
			Env:             a.Env,
			Behavior:        a.BundleBehavior,
			IsEntry:         isEntry,
			IsBoundary:      isBoundary,
			IsSplittable:    !isEntryLike,
			NeedsStableName: needsStableName,
		}
		bg.AddBundle(b)
		bg.Place(id, root)

		if isEntry {
			bg.AddEdge("", id, bundlegraph.RootEntryOf)
		} else if kind, ok := boundaryKind[root]; ok {
			bg.AddEdge("", id, kind)
		}
		sink.Record(Decision{Phase: 4, Kind: DecisionRootCreated, Asset: root, Bundle: id,
			Detail: "root created, entry_like=" + boolStr(isEntryLike)})
	}

	// Phase 5 — bundle edges between roots (see DESIGN.md for the scope
	// decision restricting this phase to root-to-root edges; non-root
	// dependency edges are instead resolved through dominator reachability
	// in Phases 6-7).
	for _, e := range edges {
		if e.isEntry || e.from == "" {
			continue
		}
		_, fromIsRoot := rootSet[e.from]
		_, toIsRoot := rootSet[e.to]
		if !fromIsRoot || !toIsRoot {
			continue
		}
		fromB, toB := bundlegraph.EntryBundleID(e.from), bundlegraph.EntryBundleID(e.to)
		// Bundle-to-bundle edges are labeled by the dependency's priority
		// alone; why the target became a root is the Root edge's concern.
		kind := bundlegraph.BundleSyncLoads
		if e.dep.Priority != assetgraph.PrioritySync {
			kind = bundlegraph.BundleAsyncLoads
		}
		bg.AddEdge(fromB, toB, kind)
	}

	// Phase 6/7 — reachability and single-root placement.
	endPlacement := timePhase("placement")
	var multiRoot []assetgraph.AssetID
	for _, node := range tree.PostOrder {
		if node == dominator.VirtualRoot {
			continue
		}
		if _, isRoot := rootSet[node]; isRoot {
			continue
		}
		reaching := reachingRoots(tree, domEdges, rootSet, node)
		if len(reaching) == 0 {
			continue
		}

		var entryLikeReaching, splittableReaching []assetgraph.AssetID
		for _, r := range reaching {
			if entryLike[r] {
				entryLikeReaching = append(entryLikeReaching, r)
			} else {
				splittableReaching = append(splittableReaching, r)
			}
		}
		for _, r := range entryLikeReaching {
			bg.Place(bundlegraph.EntryBundleID(r), node)
			sink.Record(Decision{Phase: 7, Kind: DecisionPlacedDuplicate, Asset: node, Bundle: bundlegraph.EntryBundleID(r)})
		}
		switch len(splittableReaching) {
		case 0:
			// nothing further
		case 1:
			bg.Place(bundlegraph.EntryBundleID(splittableReaching[0]), node)
			sink.Record(Decision{Phase: 7, Kind: DecisionPlacedCanonical, Asset: node, Bundle: bundlegraph.EntryBundleID(splittableReaching[0])})
		default:
			multiRoot = append(multiRoot, node)
		}
	}

	endPlacement()

	// Phase 8a — availability propagation (first pass).
	endAvail := timePhase("availability")
	_, available := computeAvailability(bg, interner)
	endAvail()

	// Phase 8b — shared bundles.
	endShared := timePhase("shared_bundles")
	type groupKey string
	groups := make(map[groupKey][]assetgraph.AssetID)
	groupRoots := make(map[groupKey][]assetgraph.AssetID)
	sort.Slice(multiRoot, func(i, j int) bool { return multiRoot[i] < multiRoot[j] })
	for _, x := range multiRoot {
		reaching := reachingRoots(tree, domEdges, rootSet, x)
		var eligible []assetgraph.AssetID
		for _, r := range reaching {
			if entryLike[r] {
				continue
			}
			if avail := available[bundlegraph.EntryBundleID(r)]; avail != nil && avail.Has(interner.Key(x)) {
				continue
			}
			eligible = append(eligible, r)
		}
		switch len(eligible) {
		case 0:
			// already available everywhere it would land
		case 1:
			bg.Place(bundlegraph.EntryBundleID(eligible[0]), x)
			sink.Record(Decision{Phase: 8, Kind: DecisionPlacedCanonical, Asset: x, Bundle: bundlegraph.EntryBundleID(eligible[0])})
		default:
			sort.Slice(eligible, func(i, j int) bool { return eligible[i] < eligible[j] })
			key := groupKey(bundlegraph.SharedBundleID(eligible))
			groups[key] = append(groups[key], x)
			groupRoots[key] = eligible
		}
	}

	for key, assetsInGroup := range groups {
		roots := groupRoots[key]
		sharedID := bundlegraph.BundleID(key)
		needsStableName := false
		for _, r := range roots {
			if b := bg.Bundles[bundlegraph.EntryBundleID(r)]; b != nil && b.NeedsStableName {
				needsStableName = true
			}
		}
		shared := &bundlegraph.Bundle{
			ID:               sharedID,
			FileType:         byID[assetsInGroup[0]].FileType,
			IsShared:         true,
			IsSplittable:     true,
			NeedsStableName:  needsStableName,
			SourceRootsForID: roots,
		}
		bg.AddBundle(shared)
		for _, a := range assetsInGroup {
			bg.Place(sharedID, a)
		}
		bg.AddEdge("", sharedID, bundlegraph.RootSharedBundleOf)
		for _, r := range roots {
			bg.AddEdge(bundlegraph.EntryBundleID(r), sharedID, bundlegraph.BundleSyncLoads)
		}
		sink.Record(Decision{Phase: 8, Kind: DecisionSharedBundleCreated, Bundle: sharedID,
			Detail: "shared bundle for " + string(sharedID)})
	}

	endShared()

	// Phase 9 — availability, again, now covering shared bundles.
	endAvail = timePhase("availability")
	_, available = computeAvailability(bg, interner)
	endAvail()

	// Phase 10 — internalize async bundles. Reachability here runs over
	// the original asset graph's sync edges, NOT the boundary-filtered
	// Phase 2 view: an async root that is also plain-sync-imported from
	// its parent must still be discoverable, and Phase 2 drops every edge
	// into a boundary target by construction.
	endInternalize := timePhase("internalize")
	fullSyncAdj := make(map[assetgraph.AssetID][]assetgraph.AssetID)
	for _, e := range edges {
		if e.isEntry || e.from == "" || e.dep.Priority != assetgraph.PrioritySync {
			continue
		}
		fullSyncAdj[e.from] = append(fullSyncAdj[e.from], e.to)
	}
	internalizeAsyncBundles(bg, available, fullSyncAdj, interner, sink)
	endInternalize()

	depCount := 0
	for _, a := range byID {
		depCount += len(a.Dependencies)
	}
	stats := Stats{Assets: len(ids), Deps: depCount, Entries: len(entrySet)}

	return bg, stats, nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// collectEdges flattens every Entry->Target->Dependency->Asset chain and
// every Asset->Dependency->Asset chain in g into assetEdges.
func collectEdges(g *assetgraph.Graph) []assetEdge {
	nodes := g.Nodes()
	var edges []assetEdge

	walkDep := func(from assetgraph.AssetID, isEntry bool, depIdx assetgraph.NodeIndex) {
		dn := nodes[depIdx]
		if dn.Kind != assetgraph.NodeKindDependency {
			return
		}
		for _, out := range dn.Out {
			if nodes[out].Kind == assetgraph.NodeKindAsset {
				edges = append(edges, assetEdge{from: from, isEntry: isEntry, to: nodes[out].Asset.ID, dep: dn.Dependency})
			}
		}
	}

	for _, n := range nodes {
		switch n.Kind {
		case assetgraph.NodeKindEntry:
			for _, targetIdx := range n.Out {
				target := nodes[targetIdx]
				if target.Kind != assetgraph.NodeKindTarget {
					continue
				}
				for _, depIdx := range target.Out {
					walkDep("", true, depIdx)
				}
			}
		case assetgraph.NodeKindAsset:
			for _, depIdx := range n.Asset.Dependencies {
				walkDep(n.Asset.ID, false, depIdx)
			}
		}
	}
	return edges
}

// isBoundaryEdge reports whether the dependency edge from one asset to
// another forces the target into its own bundle.
func isBoundaryEdge(from, to *assetgraph.Asset, dep *assetgraph.Dependency) bool {
	if dep.Priority != assetgraph.PrioritySync {
		return true
	}
	if from.FileType != to.FileType {
		return true
	}
	return assetgraph.Strongest(dep.BundleBehavior, from.BundleBehavior, to.BundleBehavior) != assetgraph.BundleBehaviorNone
}

// reachingRoots collects the bundle roots from which x is sync-reachable:
// a single root when x's idom chain hits one before VirtualRoot, otherwise
// a reverse walk of the sync graph stopping at bundle roots.
func reachingRoots(tree *dominator.Tree, domEdges []dominator.Edge, rootSet map[assetgraph.AssetID]struct{}, x assetgraph.AssetID) []assetgraph.AssetID {
	cur, ok := tree.IDom[x]
	for ok && cur != dominator.VirtualRoot {
		if _, isRoot := rootSet[cur]; isRoot {
			return []assetgraph.AssetID{cur}
		}
		cur, ok = tree.IDom[cur]
	}
	if !ok {
		return nil // unreachable in the sync graph
	}
	return dominator.ReachingRoots(domEdges, rootSet, x)
}

// computeAvailability computes each bundle's ancestor-asset set via
// topological (DAG) or SCC-condensed propagation, unified
// by exporting a cyclic SCC's member union to every external consumer.
func computeAvailability(bg *bundlegraph.BundleGraph, interner *Interner) (ancestor, available map[bundlegraph.BundleID]*AssetSet) {
	nodeSet := make(map[bundlegraph.BundleID]struct{}, len(bg.Bundles))
	parentOf := make(map[bundlegraph.BundleID][]bundlegraph.BundleID)
	childOf := make(map[bundlegraph.BundleID][]bundlegraph.BundleID)
	for id := range bg.Bundles {
		nodeSet[id] = struct{}{}
	}
	for _, e := range bg.Edges {
		if e.From == "" {
			continue
		}
		childOf[e.From] = append(childOf[e.From], e.To)
		parentOf[e.To] = append(parentOf[e.To], e.From)
	}

	sccs := graphutil.TarjanSCC(nodeSet, childOf)
	// graphutil.TarjanSCC emits components in reverse topological order
	// w.r.t. edge direction (sinks first); reverse it so parents precede
	// children.
	for i, j := 0, len(sccs)-1; i < j; i, j = i+1, j-1 {
		sccs[i], sccs[j] = sccs[j], sccs[i]
	}

	own := make(map[bundlegraph.BundleID]*AssetSet, len(bg.Bundles))
	for id, b := range bg.Bundles {
		s := NewAssetSet(interner.Len())
		for _, a := range b.Assets {
			s.Add(interner.Key(a))
		}
		own[id] = s
	}

	ancestor = make(map[bundlegraph.BundleID]*AssetSet, len(bg.Bundles))
	available = make(map[bundlegraph.BundleID]*AssetSet, len(bg.Bundles))
	effective := make(map[bundlegraph.BundleID]*AssetSet, len(bg.Bundles))

	for _, group := range sccs {
		inGroup := make(map[bundlegraph.BundleID]struct{}, len(group))
		for _, m := range group {
			inGroup[m] = struct{}{}
		}

		var groupAncestor *AssetSet
		first := true
		for _, m := range group {
			for _, p := range parentOf[m] {
				if _, internal := inGroup[p]; internal {
					continue
				}
				pe := effective[p]
				if pe == nil {
					pe = NewAssetSet(interner.Len())
				}
				if first {
					groupAncestor = pe.Clone()
					first = false
				} else {
					groupAncestor = groupAncestor.Intersect(pe)
				}
			}
		}
		if groupAncestor == nil {
			groupAncestor = NewAssetSet(interner.Len())
		}

		exportSet := NewAssetSet(interner.Len())
		for _, m := range group {
			memberAncestor := groupAncestor
			// An isolated bundle loads in a clean context: nothing from its
			// parents can be assumed present.
			if b := bg.Bundles[m]; b != nil && b.Behavior != assetgraph.BundleBehaviorNone {
				memberAncestor = NewAssetSet(interner.Len())
			}
			ancestor[m] = memberAncestor
			avail := own[m].Union(memberAncestor)
			available[m] = avail
			exportSet.UnionInPlace(avail)
		}
		for _, m := range group {
			effective[m] = exportSet
		}
	}
	return ancestor, available
}

// internalizeAsyncBundles deletes every async bundle whose payload is
// already guaranteed loaded by each of its parents, merging its assets
// into those parents. syncAdj must be the original asset graph's
// unfiltered sync-edge adjacency — not Phase 2's boundary-filtered view,
// which by construction can never reach an async root.
func internalizeAsyncBundles(bg *bundlegraph.BundleGraph, available map[bundlegraph.BundleID]*AssetSet, syncAdj map[assetgraph.AssetID][]assetgraph.AssetID, interner *Interner, sink Sink) {
	parentOf := make(map[bundlegraph.BundleID][]bundlegraph.BundleID)
	for _, e := range bg.Edges {
		if e.From != "" && e.Kind == bundlegraph.BundleAsyncLoads {
			parentOf[e.To] = append(parentOf[e.To], e.From)
		}
	}

	toDelete := make(map[bundlegraph.BundleID]struct{})
	for childID, parents := range parentOf {
		child := bg.Bundles[childID]
		if child == nil || child.Root == "" {
			continue
		}
		allCovered := true
		for _, pID := range parents {
			parent := bg.Bundles[pID]
			if parent == nil {
				allCovered = false
				break
			}
			avail := available[pID]
			if avail != nil && avail.Has(interner.Key(child.Root)) {
				continue
			}
			if syncReachable(syncAdj, parent.Root, child.Root) {
				continue
			}
			allCovered = false
			break
		}
		if !allCovered {
			continue
		}
		for _, pID := range parents {
			for _, a := range child.Assets {
				bg.Place(pID, a)
			}
		}
		toDelete[childID] = struct{}{}
		sink.Record(Decision{Phase: 10, Kind: DecisionBundleInternalized, Bundle: childID,
			Detail: "internalized into " + joinBundleIDs(parents)})
	}

	if len(toDelete) == 0 {
		return
	}
	var keptOrder []bundlegraph.BundleID
	for _, id := range bg.Order {
		if _, gone := toDelete[id]; gone {
			delete(bg.Bundles, id)
			continue
		}
		keptOrder = append(keptOrder, id)
	}
	bg.Order = keptOrder

	var keptEdges []bundlegraph.Edge
	for _, e := range bg.Edges {
		if _, gone := toDelete[e.To]; gone {
			continue
		}
		if _, gone := toDelete[e.From]; gone {
			continue
		}
		keptEdges = append(keptEdges, e)
	}
	bg.Edges = keptEdges
}

func syncReachable(adj map[assetgraph.AssetID][]assetgraph.AssetID, from, to assetgraph.AssetID) bool {
	if from == to {
		return true
	}
	visited := map[assetgraph.AssetID]bool{from: true}
	queue := []assetgraph.AssetID{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

func joinBundleIDs(ids []bundlegraph.BundleID) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += string(id)
	}
	return out
}
