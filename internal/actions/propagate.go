// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package actions

import (
	"context"

	"github.com/atlaspack-go/core/internal/assetgraph"
	"github.com/atlaspack-go/core/internal/diag"
)

// propagateRequestedSymbols is invoked once a Dependency gets a
// confirmed Asset edge — whether because that Asset had
// already completed when the Dependency resolved, or because an
// AssetAction just produced it. It asks the SymbolTracker to resolve
// whatever names are pending against the target asset, records any
// resulting diagnostics, and follows re-export chains one hop at a time so
// that a barrel file's own dependencies grow their requested_symbols (and,
// if Deferred, re-open) to match what is now demanded through them.
func (c *Coordinator) propagateRequestedSymbols(ctx context.Context, depIdx assetgraph.NodeIndex, targetAsset assetgraph.AssetID) error {
	ctx, span := actionsTracer.Start(ctx, "actions.propagate_requested_symbols")
	defer span.End()

	node := c.Graph.Node(depIdx)
	if node.Kind != assetgraph.NodeKindDependency {
		return diag.New(diag.KindInternalInvariant, "propagateRequestedSymbols: node %d is not a Dependency", depIdx).WithOrigin("propagate")
	}
	dep := node.Dependency

	fromAsset, ok := c.owningAsset(depIdx)
	if !ok {
		// A dependency hanging directly off an Entry/Target node (no
		// owning asset) has nothing to propagate against.
		return nil
	}

	resolvedNames, errs := c.Symbols.TryResolve(fromAsset, dep.Specifier, targetAsset)
	for _, e := range errs {
		c.Diagnostics.Add(e)
	}
	if len(resolvedNames) == 0 {
		return nil
	}

	targetAssetObj, ok := c.Graph.AssetByID(targetAsset)
	if !ok {
		return nil
	}
	return c.reopenThroughReExports(ctx, targetAssetObj, resolvedNames)
}

// owningAsset walks depIdx's incoming edges for its parent Asset node. A
// Dependency's parent is either a Target or an Asset; only
// the latter has symbols to propagate against.
func (c *Coordinator) owningAsset(depIdx assetgraph.NodeIndex) (assetgraph.AssetID, bool) {
	node := c.Graph.Node(depIdx)
	for _, in := range node.In {
		if p := c.Graph.Node(in); p.Kind == assetgraph.NodeKindAsset {
			return p.Asset.ID, true
		}
	}
	return "", false
}

// reopenThroughReExports finds, for each of asset's re-export statements,
// whether any of the just-resolved names could only have come through
// that re-export, and if so grows the corresponding downstream
// Dependency's requested_symbols (re-opening it if it was Deferred).
func (c *Coordinator) reopenThroughReExports(ctx context.Context, asset *assetgraph.Asset, names []string) error {
	if len(asset.SymbolInfo.ReExports) == 0 {
		return nil
	}
	needed := make(map[string]struct{}, len(names))
	for _, n := range names {
		needed[n] = struct{}{}
	}

	for _, re := range asset.SymbolInfo.ReExports {
		var want []string
		switch {
		case re.IsNamespace:
			for n := range needed {
				want = append(want, n)
			}
		case re.Named != nil:
			if _, ok := needed[re.Named.Exported]; ok {
				want = []string{re.Named.Local}
			}
		}
		if len(want) == 0 {
			continue
		}

		depIdx, ok := c.findDependencyBySpecifier(asset, re.FromSpecifier)
		if !ok {
			continue
		}
		if err := c.growAndMaybeReopen(ctx, depIdx, asset.ID, re.FromSpecifier, want); err != nil {
			return err
		}
	}
	return nil
}

// findDependencyBySpecifier scans asset's own Dependency children for one
// matching specifier — the dependency a re-export statement refers to.
func (c *Coordinator) findDependencyBySpecifier(asset *assetgraph.Asset, specifier string) (assetgraph.NodeIndex, bool) {
	for _, depIdx := range asset.Dependencies {
		if c.Graph.Node(depIdx).Dependency.Specifier == specifier {
			return depIdx, true
		}
	}
	return assetgraph.InvalidNodeIndex, false
}

// growAndMaybeReopen records names as newly requested against
// (fromAsset, specifier) and, if that grows the dependency's
// requested_symbols set, advances a Deferred dependency back to Resolving
// and re-enqueues its PathAction. If
// the dependency is already Resolved, the propagation continues one hop
// further into its own target asset; the SymbolTracker's per-name
// resolved/pending bookkeeping guarantees this terminates,
// since a name that is already resolved is filtered out by RequestSymbols
// before it reaches here again.
func (c *Coordinator) growAndMaybeReopen(ctx context.Context, depIdx assetgraph.NodeIndex, fromAsset assetgraph.AssetID, specifier string, names []string) error {
	fresh := c.Symbols.RequestSymbols(fromAsset, specifier, names)
	if len(fresh) == 0 {
		return nil
	}

	dep := c.Graph.Node(depIdx).Dependency

	c.Graph.Lock()
	grew := dep.GrowRequestedSymbols(fresh...)
	reopen := grew && dep.State == assetgraph.DependencyStateDeferred
	if reopen {
		dep.State = assetgraph.DependencyStateResolving
	}
	state := dep.State
	c.Graph.Unlock()

	if reopen {
		c.Queue.Enqueue(func(ctx context.Context) error {
			return c.ResolveDependency(ctx, depIdx)
		})
		return nil
	}

	if state != assetgraph.DependencyStateResolved {
		return nil
	}
	for _, out := range c.Graph.Node(depIdx).Out {
		if n := c.Graph.Node(out); n.Kind == assetgraph.NodeKindAsset {
			return c.propagateRequestedSymbols(ctx, depIdx, n.Asset.ID)
		}
	}
	return nil
}
