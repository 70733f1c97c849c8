// Package persistence implements the persistence bridge of spec.md §4.6:
// partializing a store's observable state down to a durable slice, and
// rehydrating it back, pruning anything already expired before it is ever
// handed back to a coordinator.
//
// Grounded on the teacher's cache.ReadWriter split (cache/interfaces.go):
// an Adapter is this module's Reader+Writer, generalized from a single
// HTTP-response Entry to an arbitrary-length byte payload keyed by a
// logical "slot" (the teacher's notion of a storage key), since what gets
// persisted here is a whole store's serialized cache table, not one
// response body.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/colinmarsh/queryflux/internal/cachetable"
)

// Adapter is the storage backend a persistence.Bridge writes to and reads
// from. Implementations: FileAdapter, PostgresAdapter, SessionAdapter.
type Adapter interface {
	Load(ctx context.Context, slot string) ([]byte, bool, error)
	Save(ctx context.Context, slot string, data []byte) error
}

// Snapshot is the durable, JSON-serializable projection of a store's state
// (spec.md §4.6/§6: "the persisted projection is {enabled, error,
// lastFetchedAt, queryCache (pruned), queryKey, status} plus the user
// partialize output"). Method entries are never part of this: there is
// nothing here but data.
type Snapshot[D any] struct {
	Version int `json:"version"`

	Enabled          bool      `json:"enabled"`
	QueryKey         string    `json:"query_key"`
	Status           string    `json:"status"`
	HasError         bool      `json:"has_error"`
	Error            string    `json:"error,omitempty"`
	LastFetchedAt    time.Time `json:"last_fetched_at"`
	HasLastFetchedAt bool      `json:"has_last_fetched_at"`

	Entries map[string]SnapshotEntry[D] `json:"entries"`

	// Extra carries whatever Options.PartializeExtra returned, opaque to
	// this package.
	Extra json.RawMessage `json:"extra,omitempty"`
}

// SnapshotEntry is one persisted cache entry.
type SnapshotEntry[D any] struct {
	CacheTime        time.Duration `json:"cache_time"`
	Data             D             `json:"data"`
	LastFetchedAt    time.Time     `json:"last_fetched_at"`
	HasLastFetchedAt bool          `json:"has_last_fetched_at"`
}

const snapshotVersion = 2

// PartializeInput bundles the fields of a Store's observable state that
// feed into a persisted Snapshot. It mirrors fetchcoord.State[D] field for
// field; it is a separate type so this package doesn't need to import
// fetchcoord.
type PartializeInput[D any] struct {
	Enabled          bool
	QueryKey         string
	Status           string
	Err              error
	LastFetchedAt    time.Time
	HasLastFetchedAt bool
	QueryCache       cachetable.Table[D]

	// Extra, when non-nil, is marshaled into Snapshot.Extra (spec.md §6's
	// "user partialize output").
	Extra any
}

// Partialize converts in into its persisted form, dropping cache entries
// that carry an unresolved or exhausted error and any entry whose
// CacheTime has already elapsed as of now.
func Partialize[D any](in PartializeInput[D], now time.Time) (Snapshot[D], error) {
	snap := Snapshot[D]{
		Version:          snapshotVersion,
		Enabled:          in.Enabled,
		QueryKey:         in.QueryKey,
		Status:           in.Status,
		LastFetchedAt:    in.LastFetchedAt,
		HasLastFetchedAt: in.HasLastFetchedAt,
		Entries:          make(map[string]SnapshotEntry[D]),
	}

	if in.Err != nil {
		snap.HasError = true
		snap.Error = in.Err.Error()
	}

	for key, entry := range in.QueryCache {
		if entry.ErrorInfo != nil {
			continue
		}
		if !entry.HasData {
			continue
		}
		if entry.CacheTime > 0 && entry.Expired(now) {
			continue
		}
		snap.Entries[key] = SnapshotEntry[D]{
			CacheTime:        entry.CacheTime,
			Data:             entry.Data,
			LastFetchedAt:    entry.LastFetchedAt,
			HasLastFetchedAt: entry.HasLastFetchedAt,
		}
	}

	if in.Extra != nil {
		b, err := json.Marshal(in.Extra)
		if err != nil {
			return Snapshot[D]{}, err
		}
		snap.Extra = b
	}

	return snap, nil
}

// RehydrateResult is the restored counterpart of PartializeInput, produced
// by Rehydrate and applied to a Store's initial state in Store.New.
type RehydrateResult[D any] struct {
	Enabled          bool
	QueryKey         string
	Status           string
	Err              error
	LastFetchedAt    time.Time
	HasLastFetchedAt bool
	QueryCache       cachetable.Table[D]
	Extra            json.RawMessage
}

// Rehydrate converts a persisted snapshot back into a RehydrateResult,
// pruning any cache entry that has since expired, per spec.md §4.6 ("prune
// on load, not just on save").
func Rehydrate[D any](snap Snapshot[D], now time.Time) RehydrateResult[D] {
	table := make(cachetable.Table[D], len(snap.Entries))
	for key, se := range snap.Entries {
		entry := &cachetable.Entry[D]{
			CacheTime:        se.CacheTime,
			Data:             se.Data,
			HasData:          true,
			LastFetchedAt:    se.LastFetchedAt,
			HasLastFetchedAt: se.HasLastFetchedAt,
		}
		if entry.CacheTime > 0 && entry.Expired(now) {
			continue
		}
		table[key] = entry
	}

	var err error
	if snap.HasError {
		err = errors.New(snap.Error)
	}

	return RehydrateResult[D]{
		Enabled:          snap.Enabled,
		QueryKey:         snap.QueryKey,
		Status:           snap.Status,
		Err:              err,
		LastFetchedAt:    snap.LastFetchedAt,
		HasLastFetchedAt: snap.HasLastFetchedAt,
		QueryCache:       table,
		Extra:            snap.Extra,
	}
}

// Bridge wires an Adapter to a specific store slot and its (de)serialize
// codec, matching spec.md §4.6's "one persistence bridge per store".
type Bridge[D any] struct {
	adapter Adapter
	slot    string
}

// NewBridge constructs a Bridge over adapter for the given slot name
// (typically the store's StoreID).
func NewBridge[D any](adapter Adapter, slot string) *Bridge[D] {
	return &Bridge[D]{adapter: adapter, slot: slot}
}

// Save partializes in and writes it through the adapter.
func (b *Bridge[D]) Save(ctx context.Context, in PartializeInput[D], now time.Time) error {
	snap, err := Partialize(in, now)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return b.adapter.Save(ctx, b.slot, data)
}

// Load reads and rehydrates the persisted state, returning (zero, false,
// nil) when nothing has been persisted yet for this slot.
func (b *Bridge[D]) Load(ctx context.Context, now time.Time) (RehydrateResult[D], bool, error) {
	data, ok, err := b.adapter.Load(ctx, b.slot)
	if err != nil {
		return RehydrateResult[D]{}, false, err
	}
	if !ok {
		return RehydrateResult[D]{}, false, nil
	}
	var snap Snapshot[D]
	if err := json.Unmarshal(data, &snap); err != nil {
		return RehydrateResult[D]{}, false, err
	}
	return Rehydrate(snap, now), true, nil
}
