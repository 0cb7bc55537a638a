// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package resolver defines the Resolver plugin contract. The module
// resolver itself — package.json/tsconfig path resolution, node_modules
// walking, browser field remapping — is treated as an external
// collaborator and is explicitly out of scope; this package only
// defines the interface the core calls through.
package resolver

import (
	"context"

	"github.com/atlaspack-go/core/internal/assetgraph"
)

// Outcome discriminates a Resolver's three possible answers.
type Outcome int

const (
	OutcomeUnresolved Outcome = iota // try the next resolver in the chain
	OutcomeExcluded                  // the dependency is dropped
	OutcomeResolved                  // file_path etc. populated below
)

// Resolution is the resolver's answer when Outcome is OutcomeResolved.
type Resolution struct {
	CanDefer      bool
	Code          *string
	FilePath      string // MUST be absolute
	Meta          map[string]any
	Pipeline      string
	Priority      *assetgraph.Priority
	Query         string
	SideEffects   bool
	Invalidations []string
}

// Context carries one dependency resolution request to a Resolver.
type Context struct {
	Dependency  *assetgraph.Dependency
	Pipeline    string
	Specifier   string
}

// Resolver is one named capability record in the ordered resolver chain.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, rctx Context) (Outcome, Resolution, error)
}

// Chain runs resolvers in order; the first Resolved outcome wins.
type Chain []Resolver

// Run iterates the chain, stopping at the first non-Unresolved outcome.
func (c Chain) Run(ctx context.Context, rctx Context) (Outcome, Resolution, string, error) {
	for _, r := range c {
		outcome, res, err := r.Resolve(ctx, rctx)
		if err != nil {
			return OutcomeUnresolved, Resolution{}, r.Name(), err
		}
		if outcome != OutcomeUnresolved {
			return outcome, res, r.Name(), nil
		}
	}
	return OutcomeUnresolved, Resolution{}, "", nil
}
