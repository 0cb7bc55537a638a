// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package scheduler implements the bounded-parallelism action queue: a
// single-process cooperative scheduler that runs Path and Asset actions
// (and their fan-out continuations) over a shared work queue with
// parallelism capped at P, and exposes drain() semantics so a caller can
// wait for an action and everything it transitively enqueues.
//
// Enqueue never blocks, even from inside a running action: work is held
// in an internal queue and dispatched to at most P worker goroutines.
// Actions recursively enqueue more actions, so a submission path that
// blocked on a full admission semaphore could deadlock a parent action
// against its own children; the unbounded queue trades a little memory
// for making that impossible.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_queue_depth",
		Help: "Number of actions enqueued but not yet started.",
	})

	inflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_inflight",
		Help: "Number of actions currently executing.",
	})

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_actions_total",
		Help: "Total actions executed, by outcome.",
	}, []string{"outcome"})
)

// Action is a unit of work the queue dispatches. An Action may itself call
// Queue.Enqueue to schedule further Actions (e.g. a PathAction's commit
// phase enqueueing an AssetAction) — those children are tracked by the
// same Drain call that is waiting on the parent.
type Action func(ctx context.Context) error

// Queue is the bounded-parallelism action queue.
//
// Thread Safety: Enqueue and Drain are safe for concurrent use. No lock is
// held across an Action's execution; the queue only synchronizes its own
// bookkeeping.
type Queue struct {
	ctx    context.Context
	logger *slog.Logger
	p      int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Action
	pending int // queued + running
	workers int
	firstErr error
}

// New creates a Queue bounded to parallelism P, deriving its actions'
// context from ctx. P should default to runtime.GOMAXPROCS(0) when the
// caller has no stronger preference; New does not pick a default itself
// so callers can make that policy decision once, centrally.
func New(ctx context.Context, p int, logger *slog.Logger) *Queue {
	if p < 1 {
		p = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	q := &Queue{
		ctx:    ctx,
		logger: logger.With("component", "scheduler"),
		p:      p,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue schedules action to run. It never blocks: the action lands in
// the internal queue and a worker goroutine is started if fewer than P
// are already running.
func (q *Queue) Enqueue(action Action) {
	q.mu.Lock()
	q.queue = append(q.queue, action)
	q.pending++
	queueDepth.Set(float64(len(q.queue)))
	if q.workers < q.p {
		q.workers++
		go q.work()
	}
	q.mu.Unlock()
}

// work runs queued actions until the queue is momentarily empty, then
// exits; Enqueue spins up replacements as new work arrives.
func (q *Queue) work() {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.workers--
			q.mu.Unlock()
			return
		}
		action := q.queue[0]
		q.queue = q.queue[1:]
		queueDepth.Set(float64(len(q.queue)))
		q.mu.Unlock()

		inflight.Inc()
		err := action(q.ctx)
		inflight.Dec()

		q.mu.Lock()
		if err != nil {
			actionsTotal.WithLabelValues("error").Inc()
			if q.firstErr == nil {
				q.firstErr = err
			}
			q.logger.Debug("action failed", "error", err)
		} else {
			actionsTotal.WithLabelValues("ok").Inc()
		}
		q.pending--
		if q.pending == 0 {
			q.cond.Broadcast()
		}
		q.mu.Unlock()
	}
}

// Drain blocks until every enqueued Action — and every Action those
// Actions transitively enqueued — has completed, then returns the first
// error encountered (if any). One failed action does not stop siblings;
// nothing is cancelled on error, so callers constructing
// diagnostics-as-values see every sibling's outcome accumulated.
func (q *Queue) Drain() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 {
		q.cond.Wait()
	}
	return q.firstErr
}

// Pending reports the number of actions enqueued but not yet completed,
// for diagnostics and tests.
func (q *Queue) Pending() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(q.pending)
}
