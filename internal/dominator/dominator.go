// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package dominator computes the immediate-dominator tree over a graph of
// asset ids rooted at VirtualRoot (internal/idealgraph passes its Phase 2
// sync-only graph, which may contain cycles), using
// the Cooper-Harvey-Kennedy iterative fixpoint — it reaches the same
// result as Lengauer-Tarjan without the semi-dominator bookkeeping.
//
// The fixpoint iterates a postorder-numbered worklist in reverse
// postorder; the input graph is not already a tree (and may be cyclic), so a
// genuine ordering pass is required before intersection converges.
package dominator

import (
	"sort"

	"github.com/atlaspack-go/core/internal/assetgraph"
)

// VirtualRoot is the synthetic predecessor of every entry and boundary
// asset; it has no AssetID counterpart, so it is
// represented by the zero value of assetgraph.AssetID.
const VirtualRoot assetgraph.AssetID = ""

// Edge is a plain directed edge between two asset (or cycle-representative)
// ids; callers project whatever graph they hold — internal/simplify's
// condensed graph, or internal/idealgraph's Phase 2 sync-only subgraph —
// down to this shape before calling Build.
type Edge struct {
	From assetgraph.AssetID
	To   assetgraph.AssetID
}

// Tree is the immediate-dominator tree.
type Tree struct {
	// IDom maps a reachable node to its immediate dominator. VirtualRoot
	// has no entry.
	IDom map[assetgraph.AssetID]assetgraph.AssetID
	// Children maps a node to its dominator-tree children, sorted by id
	// for deterministic subtree traversal.
	Children map[assetgraph.AssetID][]assetgraph.AssetID
	// PostOrder lists every reachable node (including VirtualRoot) in
	// postorder, the order the fixpoint computation used.
	PostOrder []assetgraph.AssetID
}

// Build computes the dominator tree of the graph described by edges,
// reachable from VirtualRoot via roots (VirtualRoot's synthetic
// successors — every entry and boundary asset).
func Build(edges []Edge, roots []assetgraph.AssetID) *Tree {
	succ := make(map[assetgraph.AssetID][]assetgraph.AssetID)
	pred := make(map[assetgraph.AssetID][]assetgraph.AssetID)
	for _, e := range edges {
		if e.From == "" {
			continue // Root edges are superseded by the explicit VirtualRoot roots param
		}
		succ[e.From] = append(succ[e.From], e.To)
		pred[e.To] = append(pred[e.To], e.From)
	}
	sortedRoots := append([]assetgraph.AssetID{}, roots...)
	sort.Slice(sortedRoots, func(i, j int) bool { return sortedRoots[i] < sortedRoots[j] })
	succ[VirtualRoot] = sortedRoots
	for _, r := range sortedRoots {
		pred[r] = append(pred[r], VirtualRoot)
	}
	for id := range succ {
		sort.Slice(succ[id], func(i, j int) bool { return succ[id][i] < succ[id][j] })
	}

	postOrder, postIdx := postorderDFS(VirtualRoot, succ)

	idom := make(map[assetgraph.AssetID]assetgraph.AssetID, len(postOrder))
	idom[VirtualRoot] = VirtualRoot

	changed := true
	for changed {
		changed = false
		for i := len(postOrder) - 2; i >= 0; i-- { // reverse postorder, skipping VirtualRoot
			node := postOrder[i]
			var newIdom assetgraph.AssetID
			found := false
			for _, p := range pred[node] {
				if _, ok := idom[p]; !ok {
					continue
				}
				if !found {
					newIdom = p
					found = true
					continue
				}
				newIdom = intersect(newIdom, p, idom, postIdx)
			}
			if !found {
				continue
			}
			if cur, ok := idom[node]; !ok || cur != newIdom {
				idom[node] = newIdom
				changed = true
			}
		}
	}
	delete(idom, VirtualRoot)

	children := make(map[assetgraph.AssetID][]assetgraph.AssetID)
	for node, parent := range idom {
		children[parent] = append(children[parent], node)
	}
	for parent := range children {
		sort.Slice(children[parent], func(i, j int) bool { return children[parent][i] < children[parent][j] })
	}

	return &Tree{IDom: idom, Children: children, PostOrder: postOrder}
}

func intersect(a, b assetgraph.AssetID, idom map[assetgraph.AssetID]assetgraph.AssetID, postIdx map[assetgraph.AssetID]int) assetgraph.AssetID {
	for a != b {
		for postIdx[a] < postIdx[b] {
			a = idom[a]
		}
		for postIdx[b] < postIdx[a] {
			b = idom[b]
		}
	}
	return a
}

func postorderDFS(root assetgraph.AssetID, succ map[assetgraph.AssetID][]assetgraph.AssetID) ([]assetgraph.AssetID, map[assetgraph.AssetID]int) {
	visited := make(map[assetgraph.AssetID]bool)
	var order []assetgraph.AssetID

	type frame struct {
		node assetgraph.AssetID
		pos  int
	}
	stack := []*frame{{node: root}}
	visited[root] = true

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.pos < len(succ[top.node]) {
			next := succ[top.node][top.pos]
			top.pos++
			if !visited[next] {
				visited[next] = true
				stack = append(stack, &frame{node: next})
			}
			continue
		}
		order = append(order, top.node)
		stack = stack[:len(stack)-1]
	}

	idx := make(map[assetgraph.AssetID]int, len(order))
	for i, id := range order {
		idx[id] = i
	}
	return order, idx
}

// ReachingRoots reverse-walks succ from x, used by
// internal/idealgraph when a node's immediate dominator is VirtualRoot
// itself (meaning more than one root reaches it with no single common
// dominator below VirtualRoot).
func ReachingRoots(edges []Edge, roots map[assetgraph.AssetID]struct{}, x assetgraph.AssetID) []assetgraph.AssetID {
	pred := make(map[assetgraph.AssetID][]assetgraph.AssetID)
	for _, e := range edges {
		if e.From == "" {
			continue
		}
		pred[e.To] = append(pred[e.To], e.From)
	}

	seen := map[assetgraph.AssetID]struct{}{x: {}}
	found := make(map[assetgraph.AssetID]struct{})
	queue := []assetgraph.AssetID{x}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, isRoot := roots[cur]; isRoot && cur != x {
			found[cur] = struct{}{}
			continue
		}
		for _, p := range pred[cur] {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			queue = append(queue, p)
		}
	}

	out := make([]assetgraph.AssetID, 0, len(found))
	for id := range found {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
