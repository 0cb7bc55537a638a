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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlaspack-go/core/internal/assetgraph"
	"github.com/atlaspack-go/core/internal/resolver"
	"github.com/atlaspack-go/core/internal/transformer"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFSResolverResolvesRelativeSpecifier(t *testing.T) {
	dir := t.TempDir()
	from := writeFile(t, dir, "src/app.ts", "")
	util := writeFile(t, dir, "src/util.ts", "")

	r := FSResolver{ProjectRoot: dir}
	outcome, res, err := r.Resolve(context.Background(), resolver.Context{
		Specifier:  "./util",
		Dependency: &assetgraph.Dependency{ResolveFrom: from},
	})
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeResolved, outcome)
	assert.Equal(t, util, res.FilePath)
	assert.True(t, filepath.IsAbs(res.FilePath))
	assert.Contains(t, res.Invalidations, util)
}

func TestFSResolverProbesIndexFile(t *testing.T) {
	dir := t.TempDir()
	from := writeFile(t, dir, "src/app.ts", "")
	index := writeFile(t, dir, "src/lib/index.ts", "")

	r := FSResolver{ProjectRoot: dir}
	outcome, res, err := r.Resolve(context.Background(), resolver.Context{
		Specifier:  "./lib",
		Dependency: &assetgraph.Dependency{ResolveFrom: from},
	})
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeResolved, outcome)
	assert.Equal(t, index, res.FilePath)
}

func TestFSResolverLeavesBareSpecifiersUnresolved(t *testing.T) {
	r := FSResolver{ProjectRoot: t.TempDir()}
	outcome, _, err := r.Resolve(context.Background(), resolver.Context{
		Specifier:  "react",
		Dependency: &assetgraph.Dependency{},
	})
	require.NoError(t, err)
	assert.Equal(t, resolver.OutcomeUnresolved, outcome)
}

func TestFSResolverMissingFileUnresolved(t *testing.T) {
	dir := t.TempDir()
	from := writeFile(t, dir, "src/app.ts", "")

	r := FSResolver{ProjectRoot: dir}
	outcome, _, err := r.Resolve(context.Background(), resolver.Context{
		Specifier:  "./ghost",
		Dependency: &assetgraph.Dependency{ResolveFrom: from},
	})
	require.NoError(t, err)
	assert.Equal(t, resolver.OutcomeUnresolved, outcome)
}

func TestMemoryResolverServesInlineCode(t *testing.T) {
	r := MemoryResolver{
		Files:          map[string]string{"/app/util.ts": "export const x = 1;"},
		SideEffectFree: map[string]bool{"/app/util.ts": true},
	}
	outcome, res, err := r.Resolve(context.Background(), resolver.Context{
		Specifier:  "./util.ts",
		Dependency: &assetgraph.Dependency{ResolveFrom: "/app/main.ts"},
	})
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeResolved, outcome)
	require.NotNil(t, res.Code)
	assert.Equal(t, "export const x = 1;", *res.Code)
	assert.False(t, res.SideEffects)
	assert.True(t, res.CanDefer)
}

func transformSource(t *testing.T, path, source string) transformer.Result {
	t.Helper()
	res, err := ScanTransformer{}.Transform(context.Background(), transformer.AssetContext{
		Request: assetgraph.CanonicalAssetRequest{FilePath: path, Code: &source},
	})
	require.NoError(t, err)
	return res
}

func depBySpecifier(res transformer.Result, spec string) *assetgraph.Dependency {
	for _, d := range res.Dependencies {
		if d.Specifier == spec {
			return d
		}
	}
	return nil
}

func TestScanTransformerExtractsImports(t *testing.T) {
	res := transformSource(t, "/src/app.ts", `
import defaultThing from "./default";
import { a, b as c } from "./named";
import * as ns from "./namespace";
import "./bare";
const lazy = import("./lazy");
const legacy = require("./legacy");
`)

	require.Len(t, res.Dependencies, 6)

	named := depBySpecifier(res, "./named")
	require.NotNil(t, named)
	assert.Equal(t, assetgraph.PrioritySync, named.Priority)
	require.Len(t, named.Symbols, 2)
	assert.Equal(t, "a", named.Symbols[0].Local)
	assert.Equal(t, "c", named.Symbols[1].Local)
	assert.Equal(t, "b", named.Symbols[1].Exported)

	def := depBySpecifier(res, "./default")
	require.NotNil(t, def)
	require.Len(t, def.Symbols, 1)
	assert.Equal(t, "default", def.Symbols[0].Exported)

	lazy := depBySpecifier(res, "./lazy")
	require.NotNil(t, lazy)
	assert.Equal(t, assetgraph.PriorityLazy, lazy.Priority)

	legacy := depBySpecifier(res, "./legacy")
	require.NotNil(t, legacy)
	assert.Equal(t, assetgraph.PrioritySync, legacy.Priority)

	assert.Contains(t, res.SymbolInfo.SymbolRequests, "./named")
}

func TestScanTransformerSyncWinsOverLazyForSameSpecifier(t *testing.T) {
	res := transformSource(t, "/src/app.ts", `
import { x } from "./dep";
const again = import("./dep");
`)
	require.Len(t, res.Dependencies, 1)
	assert.Equal(t, assetgraph.PrioritySync, res.Dependencies[0].Priority)
}

func TestScanTransformerExtractsExports(t *testing.T) {
	res := transformSource(t, "/src/lib.ts", `
export const one = 1;
export function two() {}
export class Three {}
export default four;
export { five, six as seven };
`)

	var names []string
	for _, s := range res.Asset.Symbols {
		names = append(names, s.Exported)
	}
	assert.ElementsMatch(t, []string{"one", "two", "Three", "default", "five", "seven"}, names)
}

func TestScanTransformerExtractsReExports(t *testing.T) {
	res := transformSource(t, "/src/barrel.ts", `
export { impl as api } from "./impl";
export * from "./everything";
`)

	require.Len(t, res.Dependencies, 2)
	require.Len(t, res.SymbolInfo.ReExports, 2)

	named := res.SymbolInfo.ReExports[0]
	assert.Equal(t, "./impl", named.FromSpecifier)
	require.NotNil(t, named.Named)
	assert.Equal(t, "api", named.Named.Exported)
	assert.Equal(t, "impl", named.Named.Local)
	assert.True(t, named.Named.IsWeak)

	ns := res.SymbolInfo.ReExports[1]
	assert.True(t, ns.IsNamespace)
	assert.Equal(t, "./everything", ns.FromSpecifier)
}

func TestScanTransformerCSSImports(t *testing.T) {
	res := transformSource(t, "/styles/site.css", `
@import "./reset.css";
@import url("./theme.css");
`)
	require.Len(t, res.Dependencies, 2)
	assert.Equal(t, "./reset.css", res.Dependencies[0].Specifier)
	assert.Equal(t, "./theme.css", res.Dependencies[1].Specifier)
	assert.Equal(t, assetgraph.FileTypeCSS, res.Asset.FileType)
}

func TestScanTransformerHTMLReferences(t *testing.T) {
	res := transformSource(t, "/index.html", `
<html><head>
<link rel="stylesheet" href="./site.css">
<script src="./app.js"></script>
</head></html>
`)
	require.Len(t, res.Dependencies, 2)
	for _, d := range res.Dependencies {
		assert.Equal(t, assetgraph.PriorityParallel, d.Priority)
		assert.True(t, d.NeedsStableName)
	}
}

func TestScanTransformerReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "disk.ts", `import "./other";`)

	res, err := ScanTransformer{}.Transform(context.Background(), transformer.AssetContext{
		Request: assetgraph.CanonicalAssetRequest{FilePath: path},
	})
	require.NoError(t, err)
	require.Len(t, res.Dependencies, 1)
	assert.Contains(t, res.InvalidateOnChange, path)
}

func TestScanTransformerMissingFileFails(t *testing.T) {
	_, err := ScanTransformer{}.Transform(context.Background(), transformer.AssetContext{
		Request: assetgraph.CanonicalAssetRequest{FilePath: "/does/not/exist.ts"},
	})
	assert.Error(t, err)
}

func TestDefaultRegistryCoversKnownTypes(t *testing.T) {
	reg := DefaultRegistry()
	for _, ft := range []assetgraph.FileType{assetgraph.FileTypeJS, assetgraph.FileTypeTS, assetgraph.FileTypeCSS, assetgraph.FileTypeHTML} {
		_, ok := reg.Select(ft, "")
		assert.True(t, ok, "no transformer for %s", ft)
	}
}
