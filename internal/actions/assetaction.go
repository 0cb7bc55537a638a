// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package actions

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/atlaspack-go/core/internal/assetgraph"
	"github.com/atlaspack-go/core/internal/diag"
	"github.com/atlaspack-go/core/internal/transformer"
)

// TransformAsset is the asset action: it runs the transformer pipeline
// for req, then commits the resulting Asset, its
// discovered Dependencies, and any now-satisfiable pending links under the
// graph's write lock, enqueuing a PathAction for each new Dependency.
func (c *Coordinator) TransformAsset(ctx context.Context, req assetgraph.CanonicalAssetRequest) error {
	ctx, span := actionsTracer.Start(ctx, "actions.transform_asset")
	defer span.End()
	span.SetAttributes(attribute.String("file_path", req.FilePath))
	c.reporter().Transforming(req.FilePath)

	fileType := assetgraph.FileTypeFromPath(req.FilePath)
	t, ok := c.Transformers.Select(fileType, req.Pipeline)
	if !ok {
		d := diag.New(diag.KindTransformerFailed, "no transformer registered for file type %q (pipeline %q): %s", fileType, req.Pipeline, req.FilePath).WithOrigin(req.FilePath)
		c.Diagnostics.Add(d)
		span.RecordError(d)
		span.SetStatus(codes.Error, d.Error())
		return c.abandonPending(req)
	}

	result, err := t.Transform(ctx, transformer.AssetContext{Request: req})
	if err != nil {
		d := diag.Wrap(diag.KindTransformerFailed, err, "transformer %q failed for %s", t.Name(), req.FilePath).WithOrigin(req.FilePath)
		c.Diagnostics.Add(d)
		span.RecordError(d)
		span.SetStatus(codes.Error, d.Error())
		return c.abandonPending(req)
	}

	c.addInvalidations(result.InvalidateOnChange...)

	asset := result.Asset
	asset.ID = req.ID()
	asset.FilePath = req.FilePath
	asset.Env = req.Env

	// Symbol requests are recorded before taking the graph write lock: the
	// symbol tracker holds its own mutex while calling ResolveSpecifier,
	// which takes the graph read lock, so the two must not nest the other way.
	freshSymbols := make(map[*assetgraph.Dependency][]string)
	for _, dep := range result.Dependencies {
		if names := result.SymbolInfo.SymbolRequests[dep.Specifier]; len(names) > 0 {
			freshSymbols[dep] = c.Symbols.RequestSymbols(asset.ID, dep.Specifier, names)
		}
	}

	c.Graph.Lock()
	assetIdx := c.Graph.AddAssetLocked(asset)
	c.Graph.AssetRequestToAsset[req.RequestID()] = assetIdx

	var newDeps []assetgraph.NodeIndex
	for _, dep := range result.Dependencies {
		depIdx := c.Graph.AddDependencyLocked(assetIdx, dep)
		asset.Dependencies = append(asset.Dependencies, depIdx)
		newDeps = append(newDeps, depIdx)

		if fresh, ok := freshSymbols[dep]; ok {
			dep.GrowRequestedSymbols(fresh...)
		}
	}

	pending := c.Graph.PendingDependencyLinks[req.RequestID()]
	delete(c.Graph.PendingDependencyLinks, req.RequestID())
	var toPropagate []assetgraph.NodeIndex
	for depIdx := range pending {
		if err := c.Graph.ConnectDependencyToAssetLocked(depIdx, assetIdx); err != nil {
			c.Graph.Unlock()
			return err
		}
		toPropagate = append(toPropagate, depIdx)
	}
	c.Graph.Unlock()

	c.Symbols.RegisterAsset(asset)

	for _, depIdx := range newDeps {
		c.Queue.Enqueue(func(ctx context.Context) error {
			return c.ResolveDependency(ctx, depIdx)
		})
	}

	for _, depIdx := range toPropagate {
		if err := c.propagateRequestedSymbols(ctx, depIdx, asset.ID); err != nil {
			return err
		}
	}

	return nil
}

// abandonPending marks every Dependency waiting on req as Excluded after
// the AssetAction that would have produced it failed, so they still
// reach a terminal state instead of hanging forever in Resolving with no
// outgoing Asset edge.
func (c *Coordinator) abandonPending(req assetgraph.CanonicalAssetRequest) error {
	c.Graph.Lock()
	pending := c.Graph.PendingDependencyLinks[req.RequestID()]
	delete(c.Graph.PendingDependencyLinks, req.RequestID())
	c.Graph.Unlock()

	for depIdx := range pending {
		dep := c.Graph.Node(depIdx).Dependency
		if err := c.commitExcluded(depIdx, dep); err != nil {
			return err
		}
	}
	return nil
}
