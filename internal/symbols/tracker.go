// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package symbols implements the demand-driven used-symbols tracker: a
// mapping from (providing asset, exported name) to its ultimate
// provider, a pending-request mapping per dependency, and
// re-export chain walking (including `export *` namespaces) bounded to a
// fixed depth with cycle detection.
package symbols

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"github.com/atlaspack-go/core/internal/assetgraph"
	"github.com/atlaspack-go/core/internal/diag"
)

var symbolsTracer = otel.Tracer("atlaspack.symbols")

var (
	reexportChainDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "symbols_reexport_chain_depth",
		Help:    "Length of re-export chains walked while resolving a symbol.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	})
	circularChains = promauto.NewCounter(prometheus.CounterOpts{
		Name: "symbols_circular_reexport_chains_total",
		Help: "Re-export chains that terminated due to a cycle.",
	})
)

// maxReExportDepth bounds chain-following so a malformed re-export graph
// cannot hang the tracker even before cycle detection kicks in.
const maxReExportDepth = 64

// ProviderInfo identifies the ultimate source of a resolved symbol.
type ProviderInfo struct {
	// AssetID is the asset that actually defines the binding (the end of
	// the re-export chain), not necessarily the asset first imported.
	AssetID assetgraph.AssetID
	// Exported is the name as defined on AssetID (may differ from the
	// importer's local alias).
	Exported string
	// SideEffectFree is true only if every asset in the chain from the
	// original dependency's target down to AssetID is side-effect-free or
	// a pure barrel file.
	SideEffectFree bool
}

// providerKey identifies a (providing asset, exported name) pair.
type providerKey struct {
	asset    assetgraph.AssetID
	exported string
}

// depKey identifies one dependency's pending symbol-request bookkeeping.
type depKey struct {
	fromAsset assetgraph.AssetID
	specifier string
}

// SpecifierResolver maps a re-export's `from "./x"` specifier, as seen
// from the given asset, to the AssetID the asset graph already resolved
// it to. Re-export targets are ordinary dependencies of the asset, so
// the owning asset graph — not the symbol tracker — is the authority on
// specifier resolution. The tracker
// is handed this single-method seam instead of importing the graph
// package directly, keeping the two packages' responsibilities separate:
// symbols owns provider/pending bookkeeping, assetgraph owns node/edge
// identity.
type SpecifierResolver interface {
	ResolveSpecifier(fromAsset assetgraph.AssetID, specifier string) (assetgraph.AssetID, bool)
}

// Tracker records symbol providers, pending symbol requests, and
// re-export chains for every asset in a build.
//
// Thread Safety: Safe for concurrent use; a single mutex guards all maps.
// It is never held across transformer or resolver-plugin calls, but
// TryResolve does hold it while calling SpecifierResolver.ResolveSpecifier.
type Tracker struct {
	mu sync.Mutex

	resolver SpecifierResolver

	// providers maps a (asset, exported name) to the asset's own
	// declaration of that export (not yet chased through re-exports).
	providers map[providerKey]assetgraph.Symbol

	// assets indexes registered SymbolInfo/side-effect metadata by AssetID,
	// needed to walk re-export chains and to answer IsPureBarrelFile.
	assets map[assetgraph.AssetID]*assetMeta

	// pending maps a dependency to the local names it still needs but has
	// no provider for yet.
	pending map[depKey]map[string]struct{}

	// resolved maps a dependency+local name to its resolved provider, once
	// the chain is fully walked.
	resolved map[depKey]map[string]ProviderInfo
}

type assetMeta struct {
	sideEffects  bool
	isPureBarrel bool
	exports      []assetgraph.Symbol
	reExports    []assetgraph.ReExport
}

// New creates an empty Tracker. resolver is used to follow re-export
// specifiers to their target AssetID; see SpecifierResolver.
func New(resolver SpecifierResolver) *Tracker {
	return &Tracker{
		resolver:  resolver,
		providers: make(map[providerKey]assetgraph.Symbol),
		assets:    make(map[assetgraph.AssetID]*assetMeta),
		pending:   make(map[depKey]map[string]struct{}),
		resolved:  make(map[depKey]map[string]ProviderInfo),
	}
}

// RegisterAsset records a freshly transformed asset's exports and
// re-exports so later symbol requests can resolve against it.
func (t *Tracker) RegisterAsset(asset *assetgraph.Asset) {
	t.mu.Lock()
	defer t.mu.Unlock()

	meta := &assetMeta{
		sideEffects:  asset.SideEffects,
		isPureBarrel: asset.IsPureBarrelFile(),
		exports:      asset.Symbols,
		reExports:    asset.SymbolInfo.ReExports,
	}
	t.assets[asset.ID] = meta

	for _, sym := range asset.Symbols {
		t.providers[providerKey{asset: asset.ID, exported: sym.Exported}] = sym
	}
}

// RequestSymbols records that fromAsset's dependency on specifier needs
// the given local names, returning the subset that are newly pending
// (i.e. not already pending and not already resolved) — the set a caller
// should attempt to resolve right away.
func (t *Tracker) RequestSymbols(fromAsset assetgraph.AssetID, specifier string, names []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := depKey{fromAsset: fromAsset, specifier: specifier}
	if t.pending[key] == nil {
		t.pending[key] = make(map[string]struct{})
	}
	already := t.resolved[key]

	var fresh []string
	for _, name := range names {
		if _, done := already[name]; done {
			continue
		}
		if _, isPending := t.pending[key][name]; isPending {
			continue
		}
		t.pending[key][name] = struct{}{}
		fresh = append(fresh, name)
	}
	return fresh
}

// Resolved returns the already-resolved providers for (fromAsset,
// specifier), for callers (e.g. the bundler's scope-hoisting pass) that
// need the final symbol -> provider mapping rather than the propagation
// side effects.
func (t *Tracker) Resolved(fromAsset assetgraph.AssetID, specifier string) map[string]ProviderInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]ProviderInfo, len(t.resolved[depKey{fromAsset: fromAsset, specifier: specifier}]))
	for k, v := range t.resolved[depKey{fromAsset: fromAsset, specifier: specifier}] {
		out[k] = v
	}
	return out
}

// TryResolve attempts to resolve every pending name for (fromAsset,
// specifier) against targetAsset (the asset the dependency was resolved
// to), following re-export chains through SpecifierResolver. Resolved
// names move from pending to resolved; unresolved names remain pending
// (the target may not have transformed yet, or may itself be waiting on a
// further re-export).
//
// Errors returned are *diag.Diagnostic values of Kind SymbolNotFound,
// AmbiguousSymbol, or CircularSymbol — one per name
// that could not be resolved; callers accumulate them into the request's
// diag.Bag rather than treating the first as fatal.
func (t *Tracker) TryResolve(fromAsset assetgraph.AssetID, specifier string, targetAsset assetgraph.AssetID) (resolvedNames []string, errs []*diag.Diagnostic) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := depKey{fromAsset: fromAsset, specifier: specifier}
	pendingSet := t.pending[key]
	if len(pendingSet) == 0 {
		return nil, nil
	}

	for name := range pendingSet {
		info, err := t.resolveChain(targetAsset, name, map[assetgraph.AssetID]struct{}{}, 0)
		if err != nil {
			errs = append(errs, err.WithOrigin(fmt.Sprintf("%s:%s", specifier, name)))
			continue
		}
		if t.resolved[key] == nil {
			t.resolved[key] = make(map[string]ProviderInfo)
		}
		t.resolved[key][name] = *info
		delete(pendingSet, name)
		resolvedNames = append(resolvedNames, name)
	}
	return resolvedNames, errs
}

// resolveChain walks from asset looking for name, following namespace and
// named re-exports through t.resolver up to maxReExportDepth, with
// visited guarding against cycles. Caller holds t.mu.
func (t *Tracker) resolveChain(asset assetgraph.AssetID, name string, visited map[assetgraph.AssetID]struct{}, depth int) (*ProviderInfo, *diag.Diagnostic) {
	depth++
	if depth > maxReExportDepth {
		return nil, diag.New(diag.KindCircularSymbol, "re-export chain for %q exceeded max depth %d", name, maxReExportDepth)
	}
	if _, seen := visited[asset]; seen {
		circularChains.Inc()
		return nil, diag.New(diag.KindCircularSymbol, "circular re-export chain resolving %q through %s", name, asset)
	}
	visited[asset] = struct{}{}

	meta, ok := t.assets[asset]
	if !ok {
		return nil, diag.New(diag.KindSymbolNotFound, "asset %s not yet registered", asset)
	}

	if sym, ok := t.providers[providerKey{asset: asset, exported: name}]; ok {
		reexportChainDepth.Observe(float64(depth))
		return &ProviderInfo{AssetID: asset, Exported: sym.Exported, SideEffectFree: !meta.sideEffects}, nil
	}

	target, nextName, found, ambiguous := t.followReExport(asset, meta.reExports, name)
	if ambiguous {
		return nil, diag.New(diag.KindAmbiguousSymbol, "symbol %q is exported by multiple `export *` sources reachable from %s", name, asset)
	}
	if !found {
		return nil, diag.New(diag.KindSymbolNotFound, "symbol %q not found after full propagation from %s", name, asset)
	}

	info, err := t.resolveChain(target, nextName, visited, depth)
	if err != nil {
		return nil, err
	}
	if meta.sideEffects && !meta.isPureBarrel {
		info = &ProviderInfo{AssetID: info.AssetID, Exported: info.Exported, SideEffectFree: false}
	}
	return info, nil
}

// followReExport locates the re-export (named or namespace) of name among
// reExports, resolving its specifier through t.resolver. A named
// re-export whose Exported is name and whose specifier resolves wins,
// and its Local is the name looked up next. Otherwise every `export *`
// whose target resolves and declares name in its own provider map is a
// candidate: exactly one is followed, two or more are reported as
// ambiguous, none as not found. A name that a namespace target only
// re-exports further (rather than declaring it) is not found here.
func (t *Tracker) followReExport(fromAsset assetgraph.AssetID, reExports []assetgraph.ReExport, name string) (target assetgraph.AssetID, nextName string, found, ambiguous bool) {
	for _, re := range reExports {
		if re.IsNamespace || re.Named == nil || re.Named.Exported != name {
			continue
		}
		if tgt, ok := t.resolver.ResolveSpecifier(fromAsset, re.FromSpecifier); ok {
			return tgt, re.Named.Local, true, false
		}
	}

	var candidates []assetgraph.AssetID
	for _, re := range reExports {
		if !re.IsNamespace {
			continue
		}
		tgt, ok := t.resolver.ResolveSpecifier(fromAsset, re.FromSpecifier)
		if !ok {
			continue
		}
		if _, provides := t.providers[providerKey{asset: tgt, exported: name}]; provides {
			candidates = append(candidates, tgt)
		}
	}
	switch len(candidates) {
	case 0:
		return "", "", false, false
	case 1:
		return candidates[0], name, true, false
	default:
		return "", "", false, true
	}
}
