// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package assetgraph implements the rooted directed build graph: nodes
// Root, Entry, Target, Asset, and Dependency, with edges running
// Root→Entry→Target→Dependency→Asset→Dependency→…
//
// The graph is an arena of nodes addressed by integer index — every
// cross-reference is a NodeIndex, not a pointer, so the graph can be
// copied and condensed cheaply by internal/simplify and
// internal/dominator without aliasing concerns.
package assetgraph

import (
	"fmt"
	"path/filepath"
	"strings"
)

// NodeIndex is a stable arena index into a Graph's node slice. It is the
// only way node variants reference each other.
type NodeIndex int

// InvalidNodeIndex marks the absence of a node reference.
const InvalidNodeIndex NodeIndex = -1

// Priority is a Dependency's scheduling priority.
type Priority int

const (
	PrioritySync Priority = iota
	PriorityParallel
	PriorityLazy
	PriorityConditional
)

func (p Priority) String() string {
	switch p {
	case PrioritySync:
		return "sync"
	case PriorityParallel:
		return "parallel"
	case PriorityLazy:
		return "lazy"
	case PriorityConditional:
		return "conditional"
	default:
		return "unknown"
	}
}

// BundleBehavior overrides default bundle placement for a Dependency or
// Asset.
type BundleBehavior int

const (
	BundleBehaviorNone BundleBehavior = iota
	BundleBehaviorIsolated
	BundleBehaviorInlineIsolated
)

func (b BundleBehavior) String() string {
	switch b {
	case BundleBehaviorNone:
		return "none"
	case BundleBehaviorIsolated:
		return "isolated"
	case BundleBehaviorInlineIsolated:
		return "inline_isolated"
	default:
		return "unknown"
	}
}

// Stronger reports whether b takes precedence over other when a
// dependency and its target asset disagree on bundle behavior. Isolated
// is the most restrictive, then InlineIsolated, then None.
func (b BundleBehavior) Stronger(other BundleBehavior) bool {
	rank := func(x BundleBehavior) int {
		switch x {
		case BundleBehaviorIsolated:
			return 2
		case BundleBehaviorInlineIsolated:
			return 1
		default:
			return 0
		}
	}
	return rank(b) > rank(other)
}

// Strongest returns whichever of the given behaviors ranks highest.
func Strongest(behaviors ...BundleBehavior) BundleBehavior {
	strongest := BundleBehaviorNone
	for _, b := range behaviors {
		if b.Stronger(strongest) {
			strongest = b
		}
	}
	return strongest
}

// Env is a build environment: context, supported engines, and module
// source type. Config *interpretation* (package.json, browserslist) is
// an external collaborator's job; Env is just the resulting shape the
// core reasons about.
type Env struct {
	Context     string // e.g. "browser", "node", "electron-main"
	SourceType  string // "module" | "script"
	Engines     map[string]string
	ShouldScopeHoist bool
}

// Key returns a value suitable for hashing Env into a deterministic id.
func (e Env) Key() string {
	return fmt.Sprintf("%s|%s|%v|%t", e.Context, e.SourceType, e.Engines, e.ShouldScopeHoist)
}

// FileType identifies the transformed output kind of an Asset.
type FileType string

const (
	FileTypeJS   FileType = "js"
	FileTypeTS   FileType = "ts"
	FileTypeCSS  FileType = "css"
	FileTypeHTML FileType = "html"
)

// FileTypeFromPath sniffs a FileType from a file extension. Unknown
// extensions default to JS.
func FileTypeFromPath(path string) FileType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".tsx", ".mts", ".cts":
		return FileTypeTS
	case ".css":
		return FileTypeCSS
	case ".html", ".htm":
		return FileTypeHTML
	default:
		return FileTypeJS
	}
}

// Symbol names a single imported or exported binding.
type Symbol struct {
	Local              string
	Exported           string
	IsWeak             bool
	IsESMExport        bool
	SelfReferenced     bool
	IsStaticBindingSafe bool
}
