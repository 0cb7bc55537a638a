// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package transformer defines the Transformer plugin contract.
// Individual transformer plugins (JS, TS, CSS, HTML, the CSS-in-JS SWC
// transforms) are opaque external collaborators — this
// package only defines the interface the core calls through and the
// shared result shape every transformer produces.
package transformer

import (
	"context"

	"github.com/atlaspack-go/core/internal/assetgraph"
)

// AssetContext carries the canonical request a Transformer must turn into
// an Asset.
type AssetContext struct {
	Request assetgraph.CanonicalAssetRequest
}

// Result is what a Transformer produces on success.
type Result struct {
	Asset              *assetgraph.Asset
	Dependencies       []*assetgraph.Dependency
	DiscoveredAssets   []*assetgraph.Asset // assets the transformer fully resolved inline
	InvalidateOnChange []string
	CacheBailout       bool
	SymbolInfo         assetgraph.SymbolInfo
}

// Transformer is one named capability record, registered per file type/pipeline by the caller.
type Transformer interface {
	Name() string
	Transform(ctx context.Context, actx AssetContext) (Result, error)
}

// Registry selects a Transformer for a given file type or pipeline name.
// Selection policy (extension sniffing, pipeline override) belongs to the
// caller wiring the registry; the core only needs Select.
type Registry interface {
	Select(fileType assetgraph.FileType, pipeline string) (Transformer, bool)
}

// MapRegistry is the simplest Registry: a static map keyed by "fileType"
// or "pipeline:name" when pipeline is non-empty.
type MapRegistry map[string]Transformer

func (m MapRegistry) Select(fileType assetgraph.FileType, pipeline string) (Transformer, bool) {
	if pipeline != "" {
		if t, ok := m["pipeline:"+pipeline]; ok {
			return t, true
		}
	}
	t, ok := m[string(fileType)]
	return t, ok
}

// PipelineRegistry answers whether a name is a registered named
// pipeline. It is intentionally separate from Registry because a
// pipeline scheme prefix (`name:rest`) can exist without that pipeline
// selecting a distinct Transformer (e.g. `url:` just changes how the
// result is packaged, not which transformer runs).
type PipelineRegistry interface {
	Contains(name string) bool
}

// StaticPipelines is the simplest PipelineRegistry.
type StaticPipelines map[string]struct{}

func (s StaticPipelines) Contains(name string) bool {
	_, ok := s[name]
	return ok
}
