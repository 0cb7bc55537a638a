// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package logging provides the structured logging every atlaspack-go
// component logs through: the request tracker, the action queue, and
// cmd/atlaspack-core itself.
//
// It is a thin layer over the standard library's log/slog: a text
// handler when stderr is a terminal, a JSON handler otherwise (CI logs,
// piped output, a log file), decided once via github.com/mattn/go-isatty
// rather than left to the caller to guess.
//
// # Basic usage
//
//	logger := logging.Default()
//	logger.Info("build started", "entry_count", len(entries))
//
// # Per-component loggers
//
// Every package that logs identifies itself with a "component"
// attribute, attached once via WithComponent rather than repeated on
// every call site:
//
//	logger := logging.Default().WithComponent("reqtrack")
//	logger.Info("request completed", "request_id", id)
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// Level mirrors slog's severity levels under a name local to this
// package, so callers configuring a Logger don't need to import log/slog
// themselves just to pick a level.
type Level = slog.Level

const (
	LevelDebug Level = slog.LevelDebug
	LevelInfo  Level = slog.LevelInfo
	LevelWarn  Level = slog.LevelWarn
	LevelError Level = slog.LevelError
)

// Config configures a Logger. A zero-value Config is a sensible default:
// Info level, auto-detected format, writing to stderr.
type Config struct {
	// Level sets the minimum level a record must meet to be emitted.
	// Default: LevelInfo.
	Level Level

	// Writer is where log records are written. Default: os.Stderr.
	Writer io.Writer

	// JSON forces JSON output regardless of whether Writer is a
	// terminal. Leave unset to auto-detect via go-isatty (human-readable
	// text for an interactive terminal, JSON otherwise — CI logs, a
	// redirected file, a log aggregator's stdin).
	JSON *bool
}

// Logger wraps a *slog.Logger. It exists as its own type, rather than
// handing out *slog.Logger directly, so WithComponent can standardize
// the one attribute every atlaspack-go package's logs carry.
type Logger struct {
	slog *slog.Logger
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// New creates a Logger from config.
func New(config Config) *Logger {
	w := config.Writer
	if w == nil {
		w = os.Stderr
	}

	useJSON := !isTerminal(w)
	if config.JSON != nil {
		useJSON = *config.JSON
	}

	opts := &slog.HandlerOptions{Level: config.Level}
	var handler slog.Handler
	if useJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{slog: slog.New(handler)}
}

// Default returns a Logger at Info level writing to stderr, auto-
// detecting text vs JSON format.
func Default() *Logger {
	return New(Config{Level: LevelInfo})
}

// Discard returns a Logger that drops every record, for call sites
// (tests, library callers with no logging preference) that need a
// non-nil *Logger rather than special-casing nil everywhere.
func Discard() *Logger {
	return &Logger{slog: slog.New(slog.DiscardHandler)}
}

// WithComponent returns a child Logger tagging every record with
// component, the convention every internal/* package's tracker, queue,
// and coordinator constructors use to identify themselves in a build's
// combined log stream.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{slog: l.slog.With("component", component)}
}

// With returns a child Logger with additional attributes attached to
// every subsequent record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// Slog returns the underlying *slog.Logger, for callers (corebuild's
// Options.Logger field, third-party libraries that accept one directly)
// that want log/slog's native type rather than this wrapper.
func (l *Logger) Slog() *slog.Logger { return l.slog }
