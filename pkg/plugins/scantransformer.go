// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package plugins

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/atlaspack-go/core/internal/assetgraph"
	"github.com/atlaspack-go/core/internal/diag"
	"github.com/atlaspack-go/core/internal/transformer"
)

var (
	// import defaultName from "./x" | import { a, b as c } from "./x" |
	// import * as ns from "./x" | import "./x"
	reImportFrom = regexp.MustCompile(`(?m)^\s*import\s+(?:([\w$]+|\*\s+as\s+[\w$]+|\{[^}]*\})\s+from\s+)?["']([^"']+)["']`)
	// await import("./x") / import("./x")
	reDynamicImport = regexp.MustCompile(`import\s*\(\s*["']([^"']+)["']\s*\)`)
	// require("./x")
	reRequire = regexp.MustCompile(`require\s*\(\s*["']([^"']+)["']\s*\)`)
	// export { a, b as c } from "./x" | export * from "./x"
	reExportFrom = regexp.MustCompile(`(?m)^\s*export\s+(\*|\{[^}]*\})\s+from\s+["']([^"']+)["']`)
	// export const x / export function f / export class C / export default
	reExportDecl = regexp.MustCompile(`(?m)^\s*export\s+(?:default\b|(?:const|let|var|function|async\s+function|class)\s+([\w$]+))`)
	// export { a, b as c }   (no from-clause)
	reExportNames = regexp.MustCompile(`(?m)^\s*export\s+\{([^}]*)\}\s*(?:;|$)`)
	// @import "x"; / @import url("x");
	reCSSImport = regexp.MustCompile(`@import\s+(?:url\(\s*)?["']([^"']+)["']`)
	// <script src="x"> and <link href="x">
	reHTMLScript = regexp.MustCompile(`<script[^>]*\bsrc=["']([^"']+)["']`)
	reHTMLLink   = regexp.MustCompile(`<link[^>]*\bhref=["']([^"']+)["']`)
)

// ScanTransformer extracts dependencies and symbols from JS/TS, CSS, and
// HTML sources by line scanning, not parsing. It misses anything a real
// parser would need (template-literal specifiers, conditional requires,
// comments containing import-shaped text) but is enough to drive the
// full pipeline — resolution, deferral, symbol propagation, bundling —
// over real files.
type ScanTransformer struct{}

func (t ScanTransformer) Name() string { return "scan" }

// Transform reads the source (inline Code if the resolver supplied it,
// the file at FilePath otherwise) and scans it for the file type's
// dependency and export syntax.
func (t ScanTransformer) Transform(_ context.Context, actx transformer.AssetContext) (transformer.Result, error) {
	req := actx.Request
	var source string
	if req.Code != nil {
		source = *req.Code
	} else {
		data, err := os.ReadFile(req.FilePath)
		if err != nil {
			return transformer.Result{}, diag.Wrap(diag.KindTransformerFailed, err, "read %s", req.FilePath)
		}
		source = string(data)
	}

	fileType := assetgraph.FileTypeFromPath(req.FilePath)
	asset := &assetgraph.Asset{
		ID:                 req.ID(),
		FilePath:           req.FilePath,
		FileType:           fileType,
		Env:                req.Env,
		SideEffects:        req.SideEffects,
		IsBundleSplittable: true,
	}

	var deps []*assetgraph.Dependency
	info := assetgraph.SymbolInfo{SymbolRequests: map[string][]string{}}

	switch fileType {
	case assetgraph.FileTypeCSS:
		deps = scanCSS(source, req)
	case assetgraph.FileTypeHTML:
		deps = scanHTML(source, req)
	default:
		deps, info = scanScript(source, req)
	}

	asset.Symbols = info.Exports
	asset.SymbolInfo = info
	return transformer.Result{
		Asset:              asset,
		Dependencies:       deps,
		InvalidateOnChange: []string{req.FilePath},
		SymbolInfo:         info,
	}, nil
}

func newDep(req assetgraph.CanonicalAssetRequest, specifier string, priority assetgraph.Priority) *assetgraph.Dependency {
	return &assetgraph.Dependency{
		Specifier:   specifier,
		Env:         req.Env,
		Priority:    priority,
		SourcePath:  req.FilePath,
		ResolveFrom: req.FilePath,
	}
}

// scanScript handles JS and TS sources.
func scanScript(source string, req assetgraph.CanonicalAssetRequest) ([]*assetgraph.Dependency, assetgraph.SymbolInfo) {
	info := assetgraph.SymbolInfo{SymbolRequests: map[string][]string{}}
	bydep := map[string]*assetgraph.Dependency{}
	var order []string

	dep := func(specifier string, priority assetgraph.Priority) *assetgraph.Dependency {
		if d, ok := bydep[specifier]; ok {
			// A specifier imported both statically and dynamically keeps
			// the stronger (sync) priority.
			if priority < d.Priority {
				d.Priority = priority
			}
			return d
		}
		d := newDep(req, specifier, priority)
		bydep[specifier] = d
		order = append(order, specifier)
		return d
	}

	for _, m := range reImportFrom.FindAllStringSubmatch(source, -1) {
		clause, specifier := m[1], m[2]
		d := dep(specifier, assetgraph.PrioritySync)
		for _, sym := range importedSymbols(clause) {
			d.Symbols = append(d.Symbols, sym)
			info.SymbolRequests[specifier] = append(info.SymbolRequests[specifier], sym.Local)
		}
	}
	for _, m := range reDynamicImport.FindAllStringSubmatch(source, -1) {
		dep(m[1], assetgraph.PriorityLazy)
	}
	for _, m := range reRequire.FindAllStringSubmatch(source, -1) {
		dep(m[1], assetgraph.PrioritySync)
	}
	for _, m := range reExportFrom.FindAllStringSubmatch(source, -1) {
		clause, specifier := m[1], m[2]
		dep(specifier, assetgraph.PrioritySync)
		if clause == "*" {
			info.ReExports = append(info.ReExports, assetgraph.ReExport{
				FromSpecifier: specifier,
				IsNamespace:   true,
			})
			continue
		}
		for _, sym := range namedBindings(clause) {
			sym := sym
			// In `export { a as b } from`, b is the name this asset
			// exports and a the name looked up in the target.
			sym.Local, sym.Exported = sym.Exported, sym.Local
			sym.IsWeak = true
			info.ReExports = append(info.ReExports, assetgraph.ReExport{
				FromSpecifier: specifier,
				Named:         &sym,
			})
			info.Exports = append(info.Exports, sym)
		}
	}
	for _, m := range reExportDecl.FindAllStringSubmatch(source, -1) {
		name := m[1]
		if name == "" {
			name = "default"
		}
		info.Exports = append(info.Exports, assetgraph.Symbol{
			Local: name, Exported: name, IsESMExport: true, IsStaticBindingSafe: true,
		})
	}
	for _, m := range reExportNames.FindAllStringSubmatch(source, -1) {
		for _, sym := range namedBindings("{" + m[1] + "}") {
			// In `export { a as b }`, b is the exported name and a the local one.
			sym.Local, sym.Exported = sym.Exported, sym.Local
			sym.IsESMExport = true
			info.Exports = append(info.Exports, sym)
		}
	}

	deps := make([]*assetgraph.Dependency, 0, len(order))
	for _, specifier := range order {
		deps = append(deps, bydep[specifier])
	}
	return deps, info
}

func scanCSS(source string, req assetgraph.CanonicalAssetRequest) []*assetgraph.Dependency {
	var deps []*assetgraph.Dependency
	for _, m := range reCSSImport.FindAllStringSubmatch(source, -1) {
		deps = append(deps, newDep(req, m[1], assetgraph.PrioritySync))
	}
	return deps
}

func scanHTML(source string, req assetgraph.CanonicalAssetRequest) []*assetgraph.Dependency {
	var deps []*assetgraph.Dependency
	for _, m := range reHTMLScript.FindAllStringSubmatch(source, -1) {
		d := newDep(req, m[1], assetgraph.PriorityParallel)
		d.NeedsStableName = true
		deps = append(deps, d)
	}
	for _, m := range reHTMLLink.FindAllStringSubmatch(source, -1) {
		d := newDep(req, m[1], assetgraph.PriorityParallel)
		d.NeedsStableName = true
		deps = append(deps, d)
	}
	return deps
}

// importedSymbols converts an import clause — `x`, `* as ns`, or
// `{ a, b as c }` — into Symbols with Local set to the binding name the
// importing module sees.
func importedSymbols(clause string) []assetgraph.Symbol {
	clause = strings.TrimSpace(clause)
	switch {
	case clause == "":
		return nil
	case strings.HasPrefix(clause, "{"):
		return namedBindings(clause)
	case strings.HasPrefix(clause, "*"):
		name := strings.TrimSpace(strings.TrimPrefix(clause, "*"))
		name = strings.TrimSpace(strings.TrimPrefix(name, "as"))
		return []assetgraph.Symbol{{Local: name, Exported: "*"}}
	default:
		return []assetgraph.Symbol{{Local: clause, Exported: "default"}}
	}
}

// namedBindings parses `{ a, b as c, type T }` into Symbols. TypeScript
// `type` bindings are kept; erasing them is an optimizing transformer's
// concern, not a scanning one's.
func namedBindings(clause string) []assetgraph.Symbol {
	clause = strings.Trim(clause, "{} \t\n")
	if clause == "" {
		return nil
	}
	var syms []assetgraph.Symbol
	for _, part := range strings.Split(clause, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		part = strings.TrimSpace(strings.TrimPrefix(part, "type "))
		exported, local := part, part
		if idx := strings.Index(part, " as "); idx >= 0 {
			exported = strings.TrimSpace(part[:idx])
			local = strings.TrimSpace(part[idx+len(" as "):])
		}
		syms = append(syms, assetgraph.Symbol{Local: local, Exported: exported, IsStaticBindingSafe: true})
	}
	return syms
}

// DefaultRegistry maps every file type the scanner understands to the
// one ScanTransformer.
func DefaultRegistry() transformer.MapRegistry {
	scan := ScanTransformer{}
	return transformer.MapRegistry{
		string(assetgraph.FileTypeJS):   scan,
		string(assetgraph.FileTypeTS):   scan,
		string(assetgraph.FileTypeCSS):  scan,
		string(assetgraph.FileTypeHTML): scan,
	}
}

var _ transformer.Transformer = ScanTransformer{}
