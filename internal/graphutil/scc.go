// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package graphutil holds small graph algorithms shared across the
// bundling pipeline's later stages that are generic over the node id
// type, so internal/idealgraph can condense the bundle graph (keyed by
// bundlegraph.BundleID) with the same algorithm internal/simplify uses to
// condense the asset graph (keyed by assetgraph.AssetID), generalized
// with a type parameter instead of copy-pasted per id type.
package graphutil

import "sort"

// TarjanSCC returns the strongly connected components of the graph
// described by adj (node -> successors), in reverse topological order
// (a component's dependencies appear before it), for every node appearing
// as a key in nodes.
func TarjanSCC[T ~string](nodes map[T]struct{}, adj map[T][]T) [][]T {
	ids := make([]T, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	index := 0
	nodeIdx := make(map[T]int)
	lowlink := make(map[T]int)
	onStack := make(map[T]bool)
	var stack []T
	var sccs [][]T

	push := func(v T) {
		nodeIdx[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true
	}

	type frame struct {
		node     T
		children []T
		pos      int
	}

	for _, root := range ids {
		if _, visited := nodeIdx[root]; visited {
			continue
		}

		push(root)
		work := []*frame{{node: root, children: adj[root]}}

		for len(work) > 0 {
			top := work[len(work)-1]
			if top.pos < len(top.children) {
				w := top.children[top.pos]
				top.pos++
				if _, visited := nodeIdx[w]; !visited {
					push(w)
					work = append(work, &frame{node: w, children: adj[w]})
					continue
				}
				if onStack[w] && nodeIdx[w] < lowlink[top.node] {
					lowlink[top.node] = nodeIdx[w]
				}
				continue
			}

			work = work[:len(work)-1]
			if len(work) > 0 {
				parent := work[len(work)-1]
				if lowlink[top.node] < lowlink[parent.node] {
					lowlink[parent.node] = lowlink[top.node]
				}
			}

			if lowlink[top.node] == nodeIdx[top.node] {
				var scc []T
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					scc = append(scc, w)
					if w == top.node {
						break
					}
				}
				sccs = append(sccs, scc)
			}
		}
	}
	return sccs
}
