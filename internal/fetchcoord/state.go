// Package fetchcoord implements the fetch coordinator state machine of
// spec.md §4.3 — the largest and hardest component of the engine: dedup,
// retry, abort, transform, and cache/state persistence of fetch results.
package fetchcoord

import (
	"time"

	"github.com/colinmarsh/queryflux/internal/cachetable"
)

// Status mirrors spec.md §3's status enum.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusLoading  Status = "loading"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
)

// StatusSnapshot is the derived view returned by GetStatus (spec.md §6).
type StatusSnapshot struct {
	IsError          bool
	IsFetching       bool
	IsIdle           bool
	IsInitialLoading bool
	IsSuccess        bool
}

// DeriveStatus computes StatusSnapshot per spec.md §6:
// isInitialLoading = (status == loading) && !lastFetchedAt.
func DeriveStatus(status Status, hasLastFetchedAt bool) StatusSnapshot {
	return StatusSnapshot{
		IsError:          status == StatusError,
		IsFetching:       status == StatusLoading,
		IsIdle:           status == StatusIdle,
		IsInitialLoading: status == StatusLoading && !hasLastFetchedAt,
		IsSuccess:        status == StatusSuccess,
	}
}

// State is the observable store state S from spec.md §3, generic over the
// transformed data type D.
type State[D any] struct {
	Enabled  bool
	QueryKey string
	Status   Status
	Err      error

	// LastFetchedAt is used only when the cache table is disabled.
	LastFetchedAt    time.Time
	HasLastFetchedAt bool

	// QueryCache is nil when caching is disabled.
	QueryCache cachetable.Table[D]
}

// Clone returns a shallow copy of s with a fresh QueryCache map, so
// SetState updaters never mutate a State value observers still hold a
// reference to.
func (s State[D]) Clone() State[D] {
	next := s
	if s.QueryCache != nil {
		next.QueryCache = make(cachetable.Table[D], len(s.QueryCache))
		for k, v := range s.QueryCache {
			entryCopy := *v
			next.QueryCache[k] = &entryCopy
		}
	}
	return next
}

// FetchOptions is the options bag for Coordinator.Fetch (spec.md §4.3).
type FetchOptions struct {
	Force bool

	StaleTime    time.Duration
	HasStaleTime bool

	CacheTime    time.Duration
	HasCacheTime bool

	SkipStoreUpdates bool
}
