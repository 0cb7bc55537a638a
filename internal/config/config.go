// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package config holds the typed BuildOptions/TargetOptions/PackageShape
// shapes the core consumes from a config collaborator, plus the
// github.com/go-playground/validator/v10 struct tags that validate them
// before a build is accepted. Interpreting an actual package.json or
// .browserslistrc is explicitly out of scope; this package only defines
// the resulting shape and checks it is internally consistent.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Mode selects development or production build behavior.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// OutputFormat constrains TargetOptions.OutputFormat to the values the
// core's bundle-behavior and type-change boundary logic actually
// distinguishes between.
type OutputFormat string

const (
	OutputFormatESModule  OutputFormat = "esmodule"
	OutputFormatCommonJS  OutputFormat = "commonjs"
	OutputFormatGlobal    OutputFormat = "global"
)

// TargetOptions is the default per-target configuration, plus the
// per-target override shape a package.json "targets" map declares.
type TargetOptions struct {
	DistDir          string            `yaml:"distDir,omitempty" validate:"required_if=IsLibrary false"`
	Engines          map[string]string `yaml:"engines,omitempty"`
	IsLibrary        bool              `yaml:"isLibrary"`
	OutputFormat     OutputFormat      `yaml:"outputFormat,omitempty" validate:"omitempty,oneof=esmodule commonjs global"`
	PublicURL        string            `yaml:"publicUrl,omitempty" validate:"omitempty,uri"`
	ShouldOptimize   bool              `yaml:"shouldOptimize"`
	ShouldScopeHoist bool              `yaml:"shouldScopeHoist"`
	SourceMaps       bool              `yaml:"sourceMaps"`
}

// SideEffects models package.json's "sideEffects" field, which is either
// a bare bool or an array of glob patterns. Exactly one of the two is
// populated; IsSet distinguishes "absent" (defaults to true, per the
// original's packager) from an explicit `false`.
type SideEffects struct {
	IsSet    bool
	Bool     bool
	Patterns []string
}

// PackageShape is the partial package.json shape the core reads:
// main, module, browser, types, source, targets, browserslist, engines,
// type, sideEffects. Reading the actual file from disk and merging
// browserslist config is the out-of-scope config-loading collaborator's
// job; this struct is just the resulting data the core's Env/Dependency
// construction is built from.
type PackageShape struct {
	Main         string                   `yaml:"main,omitempty"`
	Module       string                   `yaml:"module,omitempty"`
	Browser      string                   `yaml:"browser,omitempty"`
	Types        string                   `yaml:"types,omitempty"`
	Source       string                   `yaml:"source,omitempty"`
	Targets      map[string]TargetOptions `yaml:"targets,omitempty" validate:"omitempty,dive"`
	Browserslist []string                 `yaml:"browserslist,omitempty"`
	Engines      map[string]string        `yaml:"engines,omitempty"`
	Type         string                   `yaml:"type,omitempty" validate:"omitempty,oneof=module commonjs"`
	SideEffects  *SideEffects             `yaml:"-"`
}

// BuildOptions is the top-level shape cmd/atlaspack-core decodes a config
// file into before handing entries and an Env off to corebuild.Run.
type BuildOptions struct {
	Entries        []string      `yaml:"entries" validate:"required,min=1,dive,required"`
	ProjectRoot    string        `yaml:"projectRoot" validate:"required"`
	Mode           Mode          `yaml:"mode" validate:"required,oneof=development production"`
	DefaultTargets TargetOptions `yaml:"defaultTargetOptions"`
	Package        PackageShape  `yaml:"package"`
	Parallelism    int           `yaml:"parallelism" validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks BuildOptions' structural invariants — dist_dir is
// non-empty unless the target is a library, public_url parses as a URL,
// mode and output_format are one of the declared enum values, and so on
// — before a build is accepted.
func Validate(opts BuildOptions) error {
	if err := validate.Struct(opts); err != nil {
		return fmt.Errorf("invalid build options: %w", err)
	}
	return nil
}
