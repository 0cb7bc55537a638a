// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package idealgraph

import (
	"sync"

	"github.com/atlaspack-go/core/internal/assetgraph"
	"github.com/atlaspack-go/core/internal/bundlegraph"
)

// DecisionKind names the structured events the Ideal Bundle Builder emits
// as it runs.
type DecisionKind int

const (
	DecisionBoundaryFound DecisionKind = iota
	DecisionRootCreated
	DecisionPlacedDuplicate
	DecisionPlacedCanonical
	DecisionSharedBundleCreated
	DecisionBundleInternalized
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionBoundaryFound:
		return "boundary_found"
	case DecisionRootCreated:
		return "root_created"
	case DecisionPlacedDuplicate:
		return "placed_duplicate"
	case DecisionPlacedCanonical:
		return "placed_canonical"
	case DecisionSharedBundleCreated:
		return "shared_bundle_created"
	case DecisionBundleInternalized:
		return "bundle_internalized"
	default:
		return "unknown"
	}
}

// Decision is one structured log entry. Not every field is meaningful for
// every Kind; Detail carries the human-readable summary always shown in
// cmd/decisionview regardless of which typed fields apply.
type Decision struct {
	Phase  int
	Kind   DecisionKind
	Asset  assetgraph.AssetID
	Bundle bundlegraph.BundleID
	Detail string
}

// Sink receives Decisions as the builder runs. cmd/decisionview's
// ChannelSink streams them live; tests use an in-memory Log directly.
type Sink interface {
	Record(Decision)
}

// Log is an in-memory Sink, safe for concurrent use by a single
// builder run (the phases themselves are sequential, but a Log may
// outlive the run and be inspected from a test goroutine).
type Log struct {
	mu      sync.Mutex
	entries []Decision
}

// NewLog creates an empty in-memory decision log.
func NewLog() *Log { return &Log{} }

func (l *Log) Record(d Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, d)
}

// Entries returns a snapshot of every recorded Decision in order.
func (l *Log) Entries() []Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Decision{}, l.entries...)
}

// ChannelSink forwards every Decision onto Ch, for cmd/decisionview's
// live TUI stream. Record drops the Decision instead of blocking whenever
// Ch cannot take it at once (a full buffer, or an unbuffered channel with
// no waiting reader), so a slow/absent viewer never stalls the build.
type ChannelSink struct {
	Ch chan<- Decision
}

func (s ChannelSink) Record(d Decision) {
	select {
	case s.Ch <- d:
	default:
	}
}

// MultiSink fans a Decision out to every Sink in order.
type MultiSink []Sink

func (m MultiSink) Record(d Decision) {
	for _, s := range m {
		s.Record(d)
	}
}
