// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package diag implements the structured diagnostic taxonomy the core
// pipeline uses in place of ad-hoc errors. A Diagnostic always carries a
// Kind so callers can branch on failure class without string matching,
// plus optional code frames and hints for human-facing rendering.
//
// Thread Safety: Diagnostic and Kind are immutable once constructed and
// safe to share across goroutines.
package diag

import (
	"errors"
	"fmt"
	"sync"
)

// Kind classifies a Diagnostic for programmatic handling.
type Kind int

const (
	// KindUnknown is the zero value and should never be constructed directly.
	KindUnknown Kind = iota

	// Resolution failures.
	KindNotFound
	KindInvalidPackageTarget
	KindPackagePathNotExported
	KindImportNotDefined
	KindInvalidSpecifier
	KindResolverFailed

	// Transformation failures.
	KindTransformerFailed

	// Symbol resolution failures.
	KindSymbolNotFound
	KindAmbiguousSymbol
	KindCircularSymbol

	// KindInternalInvariant marks an impossible-if-correct condition. It is
	// the only Kind permitted to abort a build outright.
	KindInternalInvariant
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindNotFound:                "not_found",
	KindInvalidPackageTarget:    "invalid_package_target",
	KindPackagePathNotExported:  "package_path_not_exported",
	KindImportNotDefined:        "import_not_defined",
	KindInvalidSpecifier:        "invalid_specifier",
	KindResolverFailed:          "resolver_failed",
	KindTransformerFailed:       "transformer_failed",
	KindSymbolNotFound:          "symbol_not_found",
	KindAmbiguousSymbol:         "ambiguous_symbol",
	KindCircularSymbol:          "circular_symbol",
	KindInternalInvariant:       "internal_invariant",
}

// String returns the wire/log-friendly name of the Kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsFatal reports whether diagnostics of this Kind must abort the entire
// build rather than merely fail the originating request.
func (k Kind) IsFatal() bool {
	return k == KindInternalInvariant
}

// CodeFrame points at a span of source responsible for a Diagnostic.
type CodeFrame struct {
	FilePath string
	Line     int
	Column   int
	Excerpt  string
}

// Diagnostic is the structured error value returned by fallible core
// operations. It implements the error interface so it can
// flow through normal Go error handling, but callers that need to branch
// on failure class should type-assert with errors.As and inspect Kind.
type Diagnostic struct {
	Kind       Kind
	Message    string
	CodeFrames []CodeFrame
	Hints      []string

	// Origin identifies the dependency or asset id this diagnostic is
	// attached to, for grouping in the request-result's error list.
	Origin string

	// Wrapped is the underlying error, if any (e.g. a collaborator's
	// returned error), preserved for errors.Unwrap.
	Wrapped error
}

// New constructs a Diagnostic with the given Kind and message.
func New(kind Kind, format string, args ...any) *Diagnostic {
	return &Diagnostic{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a Diagnostic of the given Kind around an existing error.
func Wrap(kind Kind, err error, format string, args ...any) *Diagnostic {
	d := New(kind, format, args...)
	d.Wrapped = err
	return d
}

// WithOrigin returns a copy of d with Origin set.
func (d *Diagnostic) WithOrigin(origin string) *Diagnostic {
	cp := *d
	cp.Origin = origin
	return &cp
}

// WithHint appends a human-facing suggestion.
func (d *Diagnostic) WithHint(hint string) *Diagnostic {
	cp := *d
	cp.Hints = append(append([]string{}, d.Hints...), hint)
	return &cp
}

// WithCodeFrame appends a source location.
func (d *Diagnostic) WithCodeFrame(frame CodeFrame) *Diagnostic {
	cp := *d
	cp.CodeFrames = append(append([]CodeFrame{}, d.CodeFrames...), frame)
	return &cp
}

func (d *Diagnostic) Error() string {
	if d.Origin != "" {
		return fmt.Sprintf("%s: %s (origin=%s)", d.Kind, d.Message, d.Origin)
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

// Unwrap supports errors.Is/errors.As against the wrapped error.
func (d *Diagnostic) Unwrap() error { return d.Wrapped }

// Is reports whether target is a Diagnostic with the same Kind, satisfying
// errors.Is-style comparisons against a Kind sentinel built with New.
func (d *Diagnostic) Is(target error) bool {
	var other *Diagnostic
	if errors.As(target, &other) {
		return other.Kind == d.Kind
	}
	return false
}

// Bag accumulates Diagnostics across an AssetGraphRequest or BundleGraphRequest
// run. One failed request does not cancel the tracker; each
// sibling's Diagnostics land here instead.
//
// Thread Safety: safe for concurrent use; Add/Merge/All/HasFatal/Len all
// take a short-lived internal lock, never held across a caller's own work.
type Bag struct {
	mu    sync.Mutex
	items []*Diagnostic
}

// Add appends a Diagnostic to the bag. Nil is ignored so call sites can
// unconditionally `bag.Add(maybeErr)`.
func (b *Bag) Add(d *Diagnostic) {
	if d == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, d)
}

// Merge appends every Diagnostic from other into b.
func (b *Bag) Merge(other *Bag) {
	if other == nil {
		return
	}
	other.mu.Lock()
	items := append([]*Diagnostic{}, other.items...)
	other.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, items...)
}

// All returns a snapshot of the accumulated Diagnostics in insertion order.
func (b *Bag) All() []*Diagnostic {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Diagnostic{}, b.items...)
}

// HasFatal reports whether any accumulated Diagnostic is fatal.
func (b *Bag) HasFatal() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.items {
		if d.Kind.IsFatal() {
			return true
		}
	}
	return false
}

// Len reports the number of accumulated diagnostics.
func (b *Bag) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
