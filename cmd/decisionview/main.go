// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// decisionview streams the ideal bundle builder's decision log into an
// interactive terminal view while a build runs, so a developer can see
// exactly why an asset landed in the bundle it did: which edge made it a
// boundary, which roots reached it, and whether a shared bundle or an
// internalization pass moved it.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/atlaspack-go/core/internal/assetgraph"
	"github.com/atlaspack-go/core/internal/config"
	"github.com/atlaspack-go/core/internal/corebuild"
	"github.com/atlaspack-go/core/internal/idealgraph"
	"github.com/atlaspack-go/core/internal/resolver"
	"github.com/atlaspack-go/core/pkg/logging"
	"github.com/atlaspack-go/core/pkg/plugins"
)

var (
	configPath string
	demoMode   bool

	rootCmd = &cobra.Command{
		Use:   "decisionview",
		Short: "Watch the bundler's placement decisions live",
		RunE:  run,
	}
)

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "atlaspack.config.yaml", "path to the build config file")
	rootCmd.Flags().BoolVar(&demoMode, "demo", false, "run against a built-in in-memory fixture instead of a config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	entries, options, err := buildInputs()
	if err != nil {
		return err
	}

	// The sink's channel is generously buffered; ChannelSink drops on a
	// full channel rather than stalling the build, so a burst of
	// decisions while the TUI is repainting is absorbed here instead.
	decisions := make(chan idealgraph.Decision, 1024)
	options.DecisionSink = idealgraph.ChannelSink{Ch: decisions}

	done := make(chan buildDoneMsg, 1)
	go func() {
		bg, _, err := corebuild.Run(context.Background(), entries, options)
		msg := buildDoneMsg{err: err}
		if bg != nil {
			msg.bundleCount = len(bg.Bundles)
		}
		done <- msg
		close(decisions)
	}()

	program := tea.NewProgram(newModel(decisions, done), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("decisionview: %w", err)
	}
	return nil
}

// buildInputs assembles the entries and corebuild options, from the
// config file or the demo fixture.
func buildInputs() ([]string, corebuild.Options, error) {
	if demoMode {
		return demoInputs()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, corebuild.Options{}, fmt.Errorf("reading %s: %w", configPath, err)
	}
	var opts config.BuildOptions
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, corebuild.Options{}, fmt.Errorf("parsing %s: %w", configPath, err)
	}
	if opts.ProjectRoot == "" {
		opts.ProjectRoot = filepath.Dir(configPath)
	}
	if abs, err := filepath.Abs(opts.ProjectRoot); err == nil {
		opts.ProjectRoot = abs
	}
	if err := config.Validate(opts); err != nil {
		return nil, corebuild.Options{}, err
	}

	entries := make([]string, 0, len(opts.Entries))
	for _, e := range opts.Entries {
		if !filepath.IsAbs(e) {
			e = filepath.Join(opts.ProjectRoot, e)
		}
		entries = append(entries, e)
	}
	return entries, corebuild.Options{
		ProjectRoot: opts.ProjectRoot,
		Env: assetgraph.Env{
			Context:          "browser",
			SourceType:       "module",
			Engines:          opts.Package.Engines,
			ShouldScopeHoist: opts.DefaultTargets.ShouldScopeHoist,
		},
		Resolvers:    resolver.Chain{plugins.FSResolver{ProjectRoot: opts.ProjectRoot}},
		Transformers: plugins.DefaultRegistry(),
		Logger:       logging.Discard().Slog(),
		Parallelism:  opts.Parallelism,
	}, nil
}

// demoInputs is a small fixture with an async split point and a shared
// utility, enough for the decision stream to show boundaries, shared
// bundles, and placement all at once.
func demoInputs() ([]string, corebuild.Options, error) {
	files := map[string]string{
		"/demo/index.ts": `import("./a.ts"); import("./b.ts");`,
		"/demo/a.ts":     `import { helper } from "./util.ts"; export const a = helper();`,
		"/demo/b.ts":     `import { helper } from "./util.ts"; export const b = helper();`,
		"/demo/util.ts":  `export function helper() { return 1; }`,
	}
	return []string{"/demo/index.ts"}, corebuild.Options{
		ProjectRoot:  "/demo",
		Env:          assetgraph.Env{Context: "browser", SourceType: "module"},
		Resolvers:    resolver.Chain{plugins.MemoryResolver{Files: files}},
		Transformers: plugins.DefaultRegistry(),
		Logger:       logging.Discard().Slog(),
	}, nil
}
