// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package plugins ships the default resolver and transformer pair
// cmd/atlaspack-core and cmd/decisionview wire into a build when the
// caller has not registered their own. They are deliberately small: a
// relative-path filesystem resolver with extension and index probing,
// and a line-scanning transformer that extracts import/export statements
// without parsing. Production-grade resolution (node_modules walking,
// package.json "browser" remapping, tsconfig paths) belongs to a real
// resolver plugin.
package plugins

import (
	"context"
	"os"
	"path/filepath"

	"github.com/atlaspack-go/core/internal/resolver"
)

// probeExtensions is the order in which an extensionless specifier is
// tried against the filesystem.
var probeExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".css", ".html"}

// FSResolver resolves relative and absolute specifiers against the
// filesystem rooted at ProjectRoot. Bare specifiers ("react") are left
// Unresolved for the next resolver in the chain; a chain that ends with
// only this resolver will therefore fail them, or exclude them when the
// dependency is optional.
type FSResolver struct {
	ProjectRoot string
}

func (r FSResolver) Name() string { return "fs" }

// Resolve probes the specifier against the filesystem: the exact path
// first, then known extensions, then index files inside a directory.
func (r FSResolver) Resolve(_ context.Context, rctx resolver.Context) (resolver.Outcome, resolver.Resolution, error) {
	spec := rctx.Specifier
	var base string
	switch {
	case filepath.IsAbs(spec):
		base = spec
	case len(spec) > 0 && spec[0] == '.':
		dir := r.ProjectRoot
		if from := rctx.Dependency.ResolveFrom; from != "" {
			dir = filepath.Dir(from)
		} else if from := rctx.Dependency.SourcePath; from != "" {
			dir = filepath.Dir(from)
		}
		base = filepath.Join(dir, spec)
	default:
		// Bare specifier: node_modules resolution is a different
		// resolver's job.
		return resolver.OutcomeUnresolved, resolver.Resolution{}, nil
	}

	path, ok := r.probe(base)
	if !ok {
		return resolver.OutcomeUnresolved, resolver.Resolution{}, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return resolver.OutcomeUnresolved, resolver.Resolution{}, err
	}
	return resolver.OutcomeResolved, resolver.Resolution{
		FilePath:      abs,
		SideEffects:   true,
		Invalidations: []string{abs},
	}, nil
}

func (r FSResolver) probe(base string) (string, bool) {
	if info, err := os.Stat(base); err == nil && !info.IsDir() {
		return base, true
	}
	for _, ext := range probeExtensions {
		if info, err := os.Stat(base + ext); err == nil && !info.IsDir() {
			return base + ext, true
		}
	}
	if info, err := os.Stat(base); err == nil && info.IsDir() {
		for _, ext := range probeExtensions {
			candidate := filepath.Join(base, "index"+ext)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, true
			}
		}
	}
	return "", false
}

// MemoryResolver resolves specifiers against an in-memory file set,
// keyed by absolute path. It backs tests and cmd/decisionview's demo
// mode, where a build should run without touching the real filesystem.
type MemoryResolver struct {
	// Files maps an absolute path to its source. The path must already
	// include its extension; no probing happens.
	Files map[string]string

	// SideEffectFree lists paths whose resolution reports
	// side_effects=false and can_defer=true, for exercising deferral.
	SideEffectFree map[string]bool
}

func (r MemoryResolver) Name() string { return "memory" }

func (r MemoryResolver) Resolve(_ context.Context, rctx resolver.Context) (resolver.Outcome, resolver.Resolution, error) {
	spec := rctx.Specifier
	if !filepath.IsAbs(spec) {
		from := rctx.Dependency.ResolveFrom
		if from == "" {
			from = rctx.Dependency.SourcePath
		}
		spec = filepath.Join(filepath.Dir(from), spec)
	}
	code, ok := r.Files[spec]
	if !ok {
		return resolver.OutcomeUnresolved, resolver.Resolution{}, nil
	}
	sideEffects := !r.SideEffectFree[spec]
	return resolver.OutcomeResolved, resolver.Resolution{
		FilePath:    spec,
		Code:        &code,
		SideEffects: sideEffects,
		CanDefer:    !sideEffects,
	}, nil
}

var _ resolver.Resolver = FSResolver{}
var _ resolver.Resolver = MemoryResolver{}
