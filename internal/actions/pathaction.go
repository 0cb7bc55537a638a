// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package actions

import (
	"context"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/atlaspack-go/core/internal/assetgraph"
	"github.com/atlaspack-go/core/internal/diag"
	"github.com/atlaspack-go/core/internal/resolver"
)

// ResolveDependency is the path action: it resolves depIdx's specifier
// to a file, then commits the outcome to the graph
// (Excluded, Deferred, or Resolved-and-enqueue-AssetAction) under the
// graph's write lock.
func (c *Coordinator) ResolveDependency(ctx context.Context, depIdx assetgraph.NodeIndex) error {
	ctx, span := actionsTracer.Start(ctx, "actions.resolve_dependency")
	defer span.End()

	node := c.Graph.Node(depIdx)
	if node.Kind != assetgraph.NodeKindDependency {
		return diag.New(diag.KindInternalInvariant, "ResolveDependency: node %d is not a Dependency", depIdx).WithOrigin("path_action")
	}
	dep := node.Dependency
	span.SetAttributes(attribute.String("specifier", dep.Specifier))
	c.reporter().Resolving(dep.Specifier)

	pipeline, specifier := splitPipeline(dep.Specifier, c.Pipelines)
	if pipeline == "" {
		pipeline = dep.Pipeline
	}

	outcome, res, resolverName, err := c.Resolvers.Run(ctx, resolver.Context{
		Dependency: dep,
		Pipeline:   pipeline,
		Specifier:  specifier,
	})
	if err != nil {
		// A resolver-level transport error is not one of the three resolver
		// outcomes; treat it like exhausting the chain unresolved so the
		// dependency still reaches a terminal state, with the failure
		// recorded as a diagnostic.
		d := diag.Wrap(diag.KindResolverFailed, err, "resolver %q failed for %q", resolverName, dep.Specifier).WithOrigin(dep.Specifier)
		c.Diagnostics.Add(d)
		span.RecordError(d)
		span.SetStatus(codes.Error, d.Error())
		return c.commitExcluded(depIdx, dep)
	}

	switch outcome {
	case resolver.OutcomeExcluded:
		return c.commitExcluded(depIdx, dep)

	case resolver.OutcomeResolved:
		if !filepath.IsAbs(res.FilePath) {
			d := diag.New(diag.KindInvalidSpecifier, "resolver %q returned non-absolute file_path %q for %q", resolverName, res.FilePath, dep.Specifier).WithOrigin(dep.Specifier)
			c.Diagnostics.Add(d)
			span.RecordError(d)
			span.SetStatus(codes.Error, d.Error())
			return c.commitExcluded(depIdx, dep)
		}
		return c.commitResolved(ctx, depIdx, dep, res)

	default: // OutcomeUnresolved after exhausting the chain
		if dep.IsOptional {
			return c.commitExcluded(depIdx, dep)
		}
		from := dep.ResolveFrom
		if from == "" {
			from = dep.SourcePath
		}
		d := diag.New(diag.KindNotFound, "Failed to resolve %q from %q", dep.Specifier, from).WithOrigin(dep.Specifier)
		c.Diagnostics.Add(d)
		span.RecordError(d)
		span.SetStatus(codes.Error, d.Error())
		return c.commitExcluded(depIdx, dep)
	}
}

// commitExcluded sets dep's state to Excluded under the write lock.
func (c *Coordinator) commitExcluded(depIdx assetgraph.NodeIndex, dep *assetgraph.Dependency) error {
	c.Graph.Lock()
	defer c.Graph.Unlock()
	if dep.State == assetgraph.DependencyStateExcluded {
		return nil
	}
	if !dep.State.CanAdvanceTo(assetgraph.DependencyStateExcluded) {
		return diag.New(diag.KindInternalInvariant, "dependency %d: illegal transition %s -> excluded", depIdx, dep.State)
	}
	dep.State = assetgraph.DependencyStateExcluded
	return nil
}

// commitResolved runs the commit phase once a Resolution is in hand:
// check the defer predicate, then either connect to an
// already-completed asset, join the pending-links set for an in-flight
// one, or enqueue a fresh AssetAction.
func (c *Coordinator) commitResolved(ctx context.Context, depIdx assetgraph.NodeIndex, dep *assetgraph.Dependency, res resolver.Resolution) error {
	c.addInvalidations(res.Invalidations...)

	c.Graph.Lock()

	if assetgraph.CanDefer(res.SideEffects, res.CanDefer, dep.RequestedSymbols, dep.HasSymbols()) {
		if !dep.State.CanAdvanceTo(assetgraph.DependencyStateDeferred) {
			c.Graph.Unlock()
			return diag.New(diag.KindInternalInvariant, "dependency %d: illegal transition %s -> deferred", depIdx, dep.State)
		}
		dep.State = assetgraph.DependencyStateDeferred
		c.Graph.Unlock()
		return nil
	}

	if res.Priority != nil {
		dep.Priority = *res.Priority
	}

	req := assetgraph.CanonicalAssetRequest{
		FilePath:    res.FilePath,
		Code:        res.Code,
		Env:         dep.Env,
		Pipeline:    res.Pipeline,
		Query:       res.Query,
		SideEffects: res.SideEffects,
		ProjectRoot: c.ProjectRoot,
	}
	id := req.RequestID()

	if existing, ok := c.Graph.AssetRequestToAsset[id]; ok {
		if err := c.Graph.ConnectDependencyToAssetLocked(depIdx, existing); err != nil {
			c.Graph.Unlock()
			return err
		}
		c.Graph.Unlock()
		targetAsset := c.Graph.Node(existing).Asset
		return c.propagateRequestedSymbols(ctx, depIdx, targetAsset.ID)
	}

	// Stay in Resolving until the AssetAction actually connects the edge:
	// Resolved implies exactly one outgoing Asset edge, and a transformer
	// failure must still be able to move this dependency to Excluded.
	if dep.State != assetgraph.DependencyStateResolving {
		if !dep.State.CanAdvanceTo(assetgraph.DependencyStateResolving) {
			c.Graph.Unlock()
			return diag.New(diag.KindInternalInvariant, "dependency %d: illegal transition %s -> resolving", depIdx, dep.State)
		}
		dep.State = assetgraph.DependencyStateResolving
	}
	links, inFlight := c.Graph.PendingDependencyLinks[id]
	if !inFlight {
		links = make(map[assetgraph.NodeIndex]struct{})
		c.Graph.PendingDependencyLinks[id] = links
	}
	links[depIdx] = struct{}{}
	c.Graph.Unlock()

	// Asset actions are deduplicated by request identity: only the first
	// dependency to register a pending link enqueues the transform; later
	// arrivals just wait for its commit to connect them.
	if !inFlight {
		c.Queue.Enqueue(func(ctx context.Context) error {
			return c.TransformAsset(ctx, req)
		})
	}
	return nil
}
