// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package assetgraph

import (
	"fmt"
	"sync"

	"github.com/atlaspack-go/core/internal/diag"
)

// NodeKind discriminates the five node variants.
type NodeKind int

const (
	NodeKindRoot NodeKind = iota
	NodeKindEntry
	NodeKindTarget
	NodeKindAsset
	NodeKindDependency
)

// Node is one arena slot. Exactly one of the per-kind payload fields is
// meaningful, selected by Kind — a sum type expressed as a tagged struct
// rather than an interface so the arena can store nodes by value.
type Node struct {
	Kind NodeKind

	Entry      string // NodeKindEntry: absolute entry path
	Target     Target // NodeKindTarget
	Asset      *Asset // NodeKindAsset
	Dependency *Dependency // NodeKindDependency

	// Out is every outgoing edge from this node, in insertion order. Edge
	// ordering is re-sorted to a deterministic key only where bundling
	// requires it (AssetKey, target id); general graph edges preserve
	// discovery order; only outcomes, not internal iteration, must be
	// order-independent.
	Out []NodeIndex
	In  []NodeIndex
}

// Target is a (env, entry) pair the bundler must produce output for.
type Target struct {
	Env   Env
	Entry string
}

// Graph is the asset graph: an arena of Nodes addressed by NodeIndex, with
// a single write lock guarding mutation.
//
// Thread Safety: Node, Nodes, AssetByID, ResolveSpecifier and the other
// read helpers take the read lock themselves, so they must not be called
// by a goroutine that holds the write lock (sync.RWMutex is not
// reentrant). Nodes are never removed or mutated in place except for
// Dependency.State/RequestedSymbols and Asset.Dependencies, which are
// guarded by the write lock. The *Locked mutators (AddEntryLocked,
// AddTargetLocked, AddDependencyLocked, AddAssetLocked,
// ConnectDependencyToAssetLocked) require the caller to hold the write
// lock, acquired via Lock/Unlock, for the brief commit phase only — never
// across I/O.
type Graph struct {
	mu    sync.RWMutex
	nodes []Node

	root NodeIndex

	// AssetRequestToAsset maps a pending/completed AssetAction's request id
	// to the NodeIndex of the Asset it produced.
	AssetRequestToAsset map[string]NodeIndex

	// PendingDependencyLinks maps an in-flight AssetAction's request id to
	// the set of Dependency NodeIndexes awaiting that asset to connect to.
	PendingDependencyLinks map[string]map[NodeIndex]struct{}

	// AssetIDToNode maps a completed Asset's id to its NodeIndex, used by
	// ResolveSpecifier to support re-export chain walking.
	AssetIDToNode map[AssetID]NodeIndex
}

// New creates an empty Graph with a single Root node at index 0.
func New() *Graph {
	g := &Graph{
		AssetRequestToAsset:    make(map[string]NodeIndex),
		PendingDependencyLinks: make(map[string]map[NodeIndex]struct{}),
	}
	g.nodes = append(g.nodes, Node{Kind: NodeKindRoot})
	g.root = 0
	return g
}

// Root returns the NodeIndex of the graph's single Root node.
func (g *Graph) Root() NodeIndex { return g.root }

// Lock acquires the write lock for a commit phase. Callers must call
// Unlock, typically via defer, and must not perform I/O or call into a
// resolver/transformer while holding it.
func (g *Graph) Lock()   { g.mu.Lock() }
func (g *Graph) Unlock() { g.mu.Unlock() }

// RLock/RUnlock support read-mostly traversal (dominator/simplify/ideal
// graph phases) running concurrently with the tail end of asset-graph
// construction, though in practice callers run those phases only after
// construction has quiesced.
func (g *Graph) RLock()   { g.mu.RLock() }
func (g *Graph) RUnlock() { g.mu.RUnlock() }

// addNodeLocked appends node and returns its index. Caller must hold the
// write lock.
func (g *Graph) addNodeLocked(n Node) NodeIndex {
	idx := NodeIndex(len(g.nodes))
	g.nodes = append(g.nodes, n)
	return idx
}

// AddEntryLocked adds an Entry node as a child of Root. Caller holds the
// write lock.
func (g *Graph) AddEntryLocked(entryPath string) NodeIndex {
	idx := g.addNodeLocked(Node{Kind: NodeKindEntry, Entry: entryPath})
	g.addEdgeLocked(g.root, idx)
	return idx
}

// AddTargetLocked adds a Target node as a child of entry. Caller holds the
// write lock.
func (g *Graph) AddTargetLocked(entry NodeIndex, target Target) NodeIndex {
	idx := g.addNodeLocked(Node{Kind: NodeKindTarget, Target: target})
	g.addEdgeLocked(entry, idx)
	return idx
}

// AddDependencyLocked adds a new Dependency node (state New) as a child of
// parent, which may be a Target or an Asset. Caller holds the write lock.
func (g *Graph) AddDependencyLocked(parent NodeIndex, dep *Dependency) NodeIndex {
	idx := g.addNodeLocked(Node{Kind: NodeKindDependency, Dependency: dep})
	g.addEdgeLocked(parent, idx)
	return idx
}

// AddAssetLocked adds a new Asset node and records it in AssetIDToNode.
// Caller holds the write lock.
func (g *Graph) AddAssetLocked(asset *Asset) NodeIndex {
	idx := g.addNodeLocked(Node{Kind: NodeKindAsset, Asset: asset})
	if g.AssetIDToNode == nil {
		g.AssetIDToNode = make(map[AssetID]NodeIndex)
	}
	g.AssetIDToNode[asset.ID] = idx
	return idx
}

// ResolveSpecifier implements symbols.SpecifierResolver: given the asset
// that declared a dependency on specifier, find the Dependency child with
// a matching Specifier and, if it has resolved to an Asset, return that
// Asset's id. Used to follow `export * from "./x"` / `export {a} from
// "./x"` re-export chains.
func (g *Graph) ResolveSpecifier(fromAsset AssetID, specifier string) (AssetID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	fromIdx, ok := g.AssetIDToNode[fromAsset]
	if !ok {
		return "", false
	}
	for _, depIdx := range g.nodes[fromIdx].Out {
		depNode := &g.nodes[depIdx]
		if depNode.Kind != NodeKindDependency || depNode.Dependency.Specifier != specifier {
			continue
		}
		for _, out := range depNode.Out {
			if g.nodes[out].Kind == NodeKindAsset {
				return g.nodes[out].Asset.ID, true
			}
		}
	}
	return "", false
}

// AssetByID returns the Asset registered under id, if its AssetAction has
// completed.
func (g *Graph) AssetByID(id AssetID) (*Asset, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.AssetIDToNode[id]
	if !ok {
		return nil, false
	}
	return g.nodes[idx].Asset, true
}

// addEdgeLocked records a directed edge; caller holds the write lock.
func (g *Graph) addEdgeLocked(from, to NodeIndex) {
	g.nodes[from].Out = append(g.nodes[from].Out, to)
	g.nodes[to].In = append(g.nodes[to].In, from)
}

// ConnectDependencyToAssetLocked records the Dependency→Asset edge and
// advances the dependency to Resolved.
// Caller holds the write lock.
func (g *Graph) ConnectDependencyToAssetLocked(dep NodeIndex, asset NodeIndex) error {
	depNode := &g.nodes[dep]
	if depNode.Kind != NodeKindDependency {
		return diag.New(diag.KindInternalInvariant, "ConnectDependencyToAssetLocked: node %d is not a Dependency", dep)
	}
	if depNode.Dependency.State != DependencyStateResolved {
		if !depNode.Dependency.State.CanAdvanceTo(DependencyStateResolved) {
			return diag.New(diag.KindInternalInvariant,
				"dependency %d: illegal transition %s -> resolved", dep, depNode.Dependency.State)
		}
		depNode.Dependency.State = DependencyStateResolved
	}
	g.addEdgeLocked(dep, asset)
	return nil
}

// Node returns a copy of the node's *metadata* accessors; the underlying
// Asset/Dependency pointers are shared.
func (g *Graph) Node(idx NodeIndex) Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[idx]
}

// NodeCount reports the number of nodes in the arena, including Root.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Nodes returns a snapshot slice of every node, for read-only passes
// (simplify, dominator, ideal graph) that run after construction has
// quiesced. The returned slice shares node payload pointers but the slice
// header itself is a copy, so later AddNode calls do not reallocate out
// from under an in-progress read pass.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Assets returns every Asset node's index and payload, for callers that
// only care about the asset subgraph (e.g. internal/simplify).
func (g *Graph) Assets() map[NodeIndex]*Asset {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[NodeIndex]*Asset)
	for i, n := range g.nodes {
		if n.Kind == NodeKindAsset {
			out[NodeIndex(i)] = n.Asset
		}
	}
	return out
}

// ValidateInvariants checks the graph's terminal invariants: every
// dependency ends in {Resolved, Deferred, Excluded}, every
// Resolved dependency has exactly one outgoing Asset edge, and every
// Deferred dependency has zero. Intended for use at the end of
// AssetGraphRequest and in tests.
func (g *Graph) ValidateInvariants() *diag.Bag {
	g.mu.RLock()
	defer g.mu.RUnlock()

	bag := &diag.Bag{}
	for i, n := range g.nodes {
		if n.Kind != NodeKindDependency {
			continue
		}
		dep := n.Dependency
		switch dep.State {
		case DependencyStateResolved:
			assetEdges := 0
			for _, out := range n.Out {
				if g.nodes[out].Kind == NodeKindAsset {
					assetEdges++
				}
			}
			if assetEdges != 1 {
				bag.Add(diag.New(diag.KindInternalInvariant,
					"resolved dependency %d has %d outgoing asset edges, want 1", i, assetEdges).
					WithOrigin(fmt.Sprintf("dependency:%d", i)))
			}
		case DependencyStateDeferred:
			if len(n.Out) != 0 {
				bag.Add(diag.New(diag.KindInternalInvariant,
					"deferred dependency %d has %d outgoing edges, want 0", i, len(n.Out)).
					WithOrigin(fmt.Sprintf("dependency:%d", i)))
			}
		case DependencyStateExcluded:
			// no edge requirement
		default:
			bag.Add(diag.New(diag.KindInternalInvariant,
				"dependency %d ended in state %s, want Resolved/Deferred/Excluded", i, dep.State).
				WithOrigin(fmt.Sprintf("dependency:%d", i)))
		}
	}
	return bag
}
