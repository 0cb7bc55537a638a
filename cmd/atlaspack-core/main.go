// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// atlaspack-core is the command-line surface over corebuild: one-shot
// builds (`atlaspack-core build`) and a rebuilding watch mode
// (`atlaspack-core watch`), both driven by a YAML config file.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/atlaspack-go/core/internal/assetgraph"
	"github.com/atlaspack-go/core/internal/bundlegraph"
	"github.com/atlaspack-go/core/internal/config"
	"github.com/atlaspack-go/core/internal/corebuild"
	"github.com/atlaspack-go/core/internal/resolver"
	"github.com/atlaspack-go/core/pkg/logging"
	"github.com/atlaspack-go/core/pkg/plugins"
)

var (
	configPath  string
	logLevel    string
	jsonLogs    bool
	traceSpans  bool
	parallelism int

	buildOpts config.BuildOptions
	logger    *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "atlaspack-core",
		Short: "Build a bundle graph from a set of entry files",
		Long: `atlaspack-core runs the two-phase bundling pipeline: asset graph
construction (resolve, transform, propagate symbols) followed by the
ideal bundle builder (boundaries, dominators, availability, shared
bundles, internalization).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = newLogger(logLevel, jsonLogs)

			data, err := os.ReadFile(configPath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", configPath, err)
			}
			if err := yaml.Unmarshal(data, &buildOpts); err != nil {
				return fmt.Errorf("parsing %s: %w", configPath, err)
			}
			if buildOpts.ProjectRoot == "" {
				buildOpts.ProjectRoot = filepath.Dir(configPath)
			}
			if abs, err := filepath.Abs(buildOpts.ProjectRoot); err == nil {
				buildOpts.ProjectRoot = abs
			}
			if parallelism > 0 {
				buildOpts.Parallelism = parallelism
			}
			if err := config.Validate(buildOpts); err != nil {
				return err
			}
			logger.Info("configuration loaded",
				"config", configPath,
				"entries", len(buildOpts.Entries),
				"mode", string(buildOpts.Mode))
			return nil
		},
	}

	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Run a single build and print the resulting bundles",
		RunE:  runBuild,
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Build, then rebuild whenever a source file changes",
		RunE:  runWatch,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "atlaspack.config.yaml", "path to the build config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "minimum log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "force JSON log output even on a terminal")
	rootCmd.PersistentFlags().BoolVar(&traceSpans, "trace", false, "export OpenTelemetry spans to stdout")
	rootCmd.PersistentFlags().IntVarP(&parallelism, "parallelism", "j", 0, "action queue parallelism (0 = number of CPUs)")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string, forceJSON bool) *logging.Logger {
	cfg := logging.Config{}
	switch level {
	case "debug":
		cfg.Level = logging.LevelDebug
	case "warn":
		cfg.Level = logging.LevelWarn
	case "error":
		cfg.Level = logging.LevelError
	default:
		cfg.Level = logging.LevelInfo
	}
	if forceJSON {
		t := true
		cfg.JSON = &t
	}
	return logging.New(cfg)
}

// coreOptions assembles corebuild.Options from the decoded config file
// and the default plugin set.
func coreOptions() corebuild.Options {
	env := assetgraph.Env{
		Context:          "browser",
		SourceType:       "module",
		Engines:          buildOpts.Package.Engines,
		ShouldScopeHoist: buildOpts.DefaultTargets.ShouldScopeHoist,
	}
	return corebuild.Options{
		ProjectRoot:  buildOpts.ProjectRoot,
		Env:          env,
		Resolvers:    resolver.Chain{plugins.FSResolver{ProjectRoot: buildOpts.ProjectRoot}},
		Transformers: plugins.DefaultRegistry(),
		Logger:       logger.Slog(),
		Parallelism:  buildOpts.Parallelism,
	}
}

// absEntries resolves each configured entry path against the project root.
func absEntries() []string {
	entries := make([]string, 0, len(buildOpts.Entries))
	for _, e := range buildOpts.Entries {
		if !filepath.IsAbs(e) {
			e = filepath.Join(buildOpts.ProjectRoot, e)
		}
		entries = append(entries, e)
	}
	return entries
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := setupTracing(ctx, traceSpans)
	if err != nil {
		return err
	}
	defer shutdown()

	return buildOnce(ctx)
}

func buildOnce(ctx context.Context) error {
	bg, g, err := corebuild.Run(ctx, absEntries(), coreOptions())
	if err != nil {
		logger.Error("build failed", "error", err)
		return err
	}

	logger.Info("build complete",
		"bundles", len(bg.Bundles),
		"graph_nodes", g.NodeCount())
	printBundles(bg)
	return nil
}

func printBundles(bg *bundlegraph.BundleGraph) {
	for _, id := range bg.Order {
		b := bg.Bundles[id]
		fmt.Printf("%s  (%d assets", id, len(b.Assets))
		if b.IsShared {
			fmt.Printf(", shared")
		}
		if b.IsEntry {
			fmt.Printf(", entry")
		}
		fmt.Println(")")
		for _, asset := range b.Assets {
			fmt.Printf("  %s\n", asset)
		}
	}
}
