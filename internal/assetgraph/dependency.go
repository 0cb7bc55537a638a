// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package assetgraph

// DependencyState is the dependency lifecycle:
//
//	New → (Resolving →) {Resolved, Deferred, Excluded}
//
// The sole permitted re-open is Deferred → Resolving, triggered when a
// deferred dependency gains a requested symbol.
type DependencyState int

const (
	DependencyStateNew DependencyState = iota
	DependencyStateResolving
	DependencyStateResolved
	DependencyStateDeferred
	DependencyStateExcluded
)

func (s DependencyState) String() string {
	switch s {
	case DependencyStateNew:
		return "new"
	case DependencyStateResolving:
		return "resolving"
	case DependencyStateResolved:
		return "resolved"
	case DependencyStateDeferred:
		return "deferred"
	case DependencyStateExcluded:
		return "excluded"
	default:
		return "unknown"
	}
}

// CanAdvanceTo reports whether the lifecycle permits moving from s to
// next, enforcing monotonicity so callers cannot accidentally
// regress a dependency's state under concurrent commits.
func (s DependencyState) CanAdvanceTo(next DependencyState) bool {
	switch s {
	case DependencyStateNew:
		return next == DependencyStateResolving || next == DependencyStateResolved ||
			next == DependencyStateDeferred || next == DependencyStateExcluded
	case DependencyStateResolving:
		return next == DependencyStateResolved || next == DependencyStateDeferred ||
			next == DependencyStateExcluded
	case DependencyStateDeferred:
		// The sole allowed re-open.
		return next == DependencyStateResolving
	default:
		return false
	}
}

// Dependency is a directed request from an asset (or the root) to an
// unresolved specifier.
type Dependency struct {
	Specifier        string
	Env              Env
	Priority         Priority
	BundleBehavior   BundleBehavior
	IsEntry          bool
	IsOptional       bool
	NeedsStableName  bool
	SourcePath       string
	ResolveFrom      string
	Symbols          []Symbol // nil means "no symbol tracking requested"
	Pipeline         string

	// State and RequestedSymbols are mutated only under the owning
	// Graph's write lock.
	State            DependencyState
	RequestedSymbols map[string]struct{}
}

// HasSymbols reports whether Symbols was populated by the transformer,
// distinguishing "no symbols requested" from "requested the empty set" for
// the defer predicate in CanDefer.
func (d *Dependency) HasSymbols() bool { return d.Symbols != nil }

// CanDefer reports whether d meets the deferred-dependency predicate:
// no side effects, the resolver allows deferral, no symbols have been
// requested yet, and the dependency declares its imported symbols — i.e.
// nothing currently requires it.
func CanDefer(sideEffects, resolverCanDefer bool, requestedSymbols map[string]struct{}, depHasSymbols bool) bool {
	return !sideEffects && resolverCanDefer && len(requestedSymbols) == 0 && depHasSymbols
}

// GrowRequestedSymbols adds names to d.RequestedSymbols, returning true if
// the set actually grew.
// Callers must hold the owning Graph's write lock.
func (d *Dependency) GrowRequestedSymbols(names ...string) (grew bool) {
	if d.RequestedSymbols == nil {
		d.RequestedSymbols = make(map[string]struct{})
	}
	for _, n := range names {
		if _, ok := d.RequestedSymbols[n]; !ok {
			d.RequestedSymbols[n] = struct{}{}
			grew = true
		}
	}
	return grew
}
