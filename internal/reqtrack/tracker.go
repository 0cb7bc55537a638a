// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package reqtrack implements a run-once request memoizer: every named
// Request is executed at most once per build — the second caller for an
// identical request id awaits the first instead of re-running it, and
// completed results are retained for the lifetime of the build so later
// dependents can read them by reference.
//
// Concurrent runs of the same key are collapsed by a
// golang.org/x/sync/singleflight.Group guarding a map of cache entries.
package reqtrack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/atlaspack-go/core/internal/diag"
)

var tracker = otel.Tracer("atlaspack.reqtrack")

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reqtrack_requests_total",
		Help: "Total requests completed by the request tracker, by status.",
	}, []string{"status"})

	requestsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reqtrack_requests_inflight",
		Help: "Number of requests currently running (excludes cache hits).",
	})
)

// Result is whatever a Request produces. Requests of different kinds
// (AssetGraph, BundleGraph, Path, Asset, Target, Entry)
// populate different concrete types; Result is the common envelope so the
// tracker can store them uniformly and share them by reference.
type Result struct {
	// Value is the request-specific payload (e.g. *assetgraph.Entry,
	// a resolved *assetgraph.Target, a completed AssetAction's asset id).
	Value any

	// Diagnostics accumulated while running this request. A non-empty
	// Diagnostics does not necessarily mean Value is unusable; only a
	// fatal Diagnostic (diag.Kind.IsFatal) does.
	Diagnostics *diag.Bag

	// Invalidations lists the external inputs (file paths, env vars) that,
	// if they change, should invalidate this request's cached Result. The
	// request-graph contract stops at recording them; acting on a file
	// change is the caller's job.
	Invalidations []string
}

// Request is implemented by every request kind the tracker runs. ID must
// be a pure, deterministic function of the request's inputs so that two
// logically identical requests collapse onto the same cache entry.
type Request interface {
	ID() string
	Run(ctx context.Context) (*Result, error)
}

// entry is the tracker's bookkeeping for one completed request id.
type entry struct {
	done   chan struct{}
	result *Result
	err    error
}

// Tracker is the run-once memoizer. One Tracker instance backs exactly one
// build.
//
// Thread Safety: Safe for concurrent use. The singleflight.Group collapses
// concurrent calls for the same id into a single Run; the completed-result
// map is guarded by mu, which is held only for the brief insert/lookup, never
// across a Request's Run.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry
	flight  singleflight.Group

	logger    *slog.Logger
	sessionID string
}

// New creates an empty Tracker. logger may be nil, in which case a
// discarding logger is used.
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{
		entries:   make(map[string]*entry),
		logger:    logger.With("component", "reqtrack"),
		sessionID: uuid.NewString(),
	}
}

// SessionID returns the tracker's build-session correlation id. It is not
// used in any content-addressed id; it only tags tracing spans and decision-log
// entries so multiple concurrent builds in one process can be told apart.
func (t *Tracker) SessionID() string { return t.sessionID }

// lookup returns the cached entry for id, if the request has already
// completed.
func (t *Tracker) lookup(id string) (*entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e, ok
}

// Run executes req, or returns its already-completed (or in-flight)
// result. This is the tracker's sole public entry point.
func (t *Tracker) Run(ctx context.Context, req Request) (*Result, error) {
	id := req.ID()

	ctx, span := tracker.Start(ctx, fmt.Sprintf("reqtrack.run/%T", req))
	span.SetAttributes(
		attribute.String("request.id", id),
		attribute.String("session.id", t.sessionID),
	)
	defer span.End()

	if e, ok := t.lookup(id); ok {
		<-e.done
		requestsTotal.WithLabelValues("cache_hit").Inc()
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return e.result, e.err
	}

	requestsInflight.Inc()
	defer requestsInflight.Dec()

	// singleflight collapses concurrent first-callers for the same id;
	// exactly one of them actually invokes req.Run.
	v, err, shared := t.flight.Do(id, func() (any, error) {
		res, runErr := req.Run(ctx)
		e := &entry{done: make(chan struct{}), result: res, err: runErr}
		close(e.done)

		t.mu.Lock()
		t.entries[id] = e
		t.mu.Unlock()

		return res, runErr
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		requestsTotal.WithLabelValues("error").Inc()
		// A request may fail while still having produced a partial Result
		// (e.g. an asset graph with accumulated Diagnostics): preserve it
		// instead of discarding the caller's only
		// way to inspect what happened before the failure.
		res, _ := v.(*Result)
		return res, err
	}

	status := "run"
	if shared {
		status = "shared"
	}
	requestsTotal.WithLabelValues(status).Inc()
	span.SetAttributes(attribute.Bool("shared", shared))

	res, _ := v.(*Result)
	return res, nil
}

// Invalidate drops the cached result for every completed request whose
// Invalidations list contains path. A later Run for that request id will
// re-execute it. This is the boundary of the request-graph contract:
// deciding *when* to call Invalidate (e.g. on an fsnotify event) is a
// caller concern, not the tracker's.
func (t *Tracker) Invalidate(path string) (invalidated int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, e := range t.entries {
		if e.result == nil {
			continue
		}
		for _, p := range e.result.Invalidations {
			if p == path {
				delete(t.entries, id)
				invalidated++
				break
			}
		}
	}
	if invalidated > 0 {
		t.logger.Info("invalidated cached requests", "path", path, "count", invalidated)
	}
	return invalidated
}

// Len reports the number of completed request ids cached; requests still
// running are not counted.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
