// Package telemetry wraps rs/zerolog as queryflux's Telemetry collaborator
// (spec.md §1: "Telemetry (structured logging)" is named as an external
// collaborator; this is the concrete default implementation shipped with
// the module). Log-level discipline mirrors the teacher's hlog usage at
// the HTTP layer: debug for cache hits, info for successful fetches and
// prunes, warn for failures that still have retries left, error for
// exhausted retries and transform failures.
package telemetry

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the subset of zerolog's API queryflux depends on, so call
// sites don't need to import zerolog directly.
type Logger struct {
	zl  zerolog.Logger
	set bool
}

// New wraps an existing zerolog.Logger.
func New(zl zerolog.Logger) Logger {
	return Logger{zl: zl, set: true}
}

// Default returns a Logger writing to stdout with a timestamp, in the
// shape of cmd/api's logger construction.
func Default() Logger {
	return Logger{zl: zerolog.New(os.Stdout).With().Timestamp().Logger(), set: true}
}

// Nop returns a Logger that discards everything, used when no logger is
// configured so the engine never requires a configured sink.
func Nop() Logger {
	return Logger{zl: zerolog.Nop(), set: true}
}

// IsZero reports whether l is an unconstructed zero value (as opposed to
// one built via New, Default, or Nop). zerolog.Logger holds slice-typed
// fields internally, so callers can't compare a Logger with == to detect
// this; use IsZero instead.
func (l Logger) IsZero() bool {
	return !l.set
}

func (l Logger) event(level zerolog.Level, storeID, queryKey string) *zerolog.Event {
	ev := l.zl.WithLevel(level)
	if storeID != "" {
		ev = ev.Str("store_id", storeID)
	}
	if queryKey != "" {
		ev = ev.Str("query_key", queryKey)
	}
	return ev
}

func (l Logger) Debug(storeID, queryKey, msg string) {
	l.event(zerolog.DebugLevel, storeID, queryKey).Msg(msg)
}

func (l Logger) Info(storeID, queryKey, msg string) {
	l.event(zerolog.InfoLevel, storeID, queryKey).Msg(msg)
}

func (l Logger) Warn(storeID, queryKey string, err error, msg string) {
	l.event(zerolog.WarnLevel, storeID, queryKey).Err(err).Msg(msg)
}

func (l Logger) Error(storeID, queryKey string, err error, msg string) {
	l.event(zerolog.ErrorLevel, storeID, queryKey).Err(err).Msg(msg)
}
