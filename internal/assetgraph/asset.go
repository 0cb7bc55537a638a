// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package assetgraph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// AssetID is the stable content-derived asset identifier: a pure
// function of (file_path, env, pipeline, query, project_root,
// code_override). Two
// AssetActions with identical AssetID collapse onto one Asset node.
type AssetID string

// CanonicalAssetRequest is the input to AssetID's hash, and also doubles
// as the deterministic id for the AssetAction that produces the Asset.
type CanonicalAssetRequest struct {
	FilePath     string
	Code         *string // nil unless the resolver supplied inline code
	Env          Env
	Pipeline     string
	Query        string
	SideEffects  bool
	ProjectRoot  string
}

// ID computes the deterministic AssetID for this request.
func (r CanonicalAssetRequest) ID() AssetID {
	h := sha256.New()
	fmt.Fprintf(h, "path=%s\x00env=%s\x00pipeline=%s\x00query=%s\x00root=%s\x00",
		r.FilePath, r.Env.Key(), r.Pipeline, r.Query, r.ProjectRoot)
	if r.Code != nil {
		fmt.Fprintf(h, "code=%s\x00", *r.Code)
	}
	return AssetID(hex.EncodeToString(h.Sum(nil))[:32])
}

// RequestID is identical to ID: the AssetAction's request id *is* the
// AssetID it will, on success, produce.
func (r CanonicalAssetRequest) RequestID() string { return string(r.ID()) }

// ReExport describes one `export { a as b } from "./x"` or `export * from
// "./x"` statement discovered by the transformer.
type ReExport struct {
	FromSpecifier string
	// Named is nil for a namespace `export *` re-export.
	Named *Symbol
	IsNamespace bool
}

// SymbolInfo is the transformer's report of an asset's exports, the
// symbols its dependencies request, and its re-export statements.
type SymbolInfo struct {
	Exports         []Symbol
	SymbolRequests  map[string][]string // dependency specifier -> requested local names
	ReExports       []ReExport
}

// Asset is a successfully transformed file.
type Asset struct {
	ID               AssetID
	FilePath         string
	FileType         FileType
	Env              Env
	SideEffects      bool
	IsBundleSplittable bool
	BundleBehavior   BundleBehavior
	Symbols          []Symbol
	SymbolInfo       SymbolInfo

	// Dependencies lists the NodeIndex of each Dependency node this asset
	// discovered, mutated only under the owning Graph's write lock.
	Dependencies []NodeIndex
}

// IsPureBarrelFile reports whether a is a barrel file safe to elide from
// side-effect-free re-export chain analysis: every export is a re-export and there is no local code.
// An asset with zero exports is not a barrel file — it has nothing to
// re-export and so cannot be "exclusively re-exports".
func (a *Asset) IsPureBarrelFile() bool {
	if len(a.Symbols) == 0 {
		return false
	}
	reexported := make(map[string]struct{}, len(a.SymbolInfo.ReExports))
	for _, re := range a.SymbolInfo.ReExports {
		if re.IsNamespace {
			continue
		}
		if re.Named != nil {
			reexported[re.Named.Exported] = struct{}{}
		}
	}
	hasNamespaceReexport := false
	for _, re := range a.SymbolInfo.ReExports {
		if re.IsNamespace {
			hasNamespaceReexport = true
		}
	}
	for _, sym := range a.Symbols {
		if _, ok := reexported[sym.Exported]; ok {
			continue
		}
		if hasNamespaceReexport {
			// `export *` may be the provider of this export; without local
			// code the asset can still be a barrel as long as it declares
			// no symbols outside of what re-exports supply.
			continue
		}
		return false
	}
	return true
}
