package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colinmarsh/queryflux/internal/cachetable"
)

func TestPartializeDropsErroredAndExpired(t *testing.T) {
	now := time.Now()
	table := cachetable.Table[string]{
		"fresh": {CacheTime: time.Hour, Data: "ok", HasData: true, LastFetchedAt: now, HasLastFetchedAt: true},
		"stale": {CacheTime: time.Minute, Data: "old", HasData: true, LastFetchedAt: now.Add(-time.Hour), HasLastFetchedAt: true},
		"errored": {
			CacheTime: time.Hour,
			ErrorInfo: &cachetable.ErrorInfo{Err: assert.AnError, LastFailedAt: now, RetryCount: 1},
		},
	}

	snap, err := Partialize(PartializeInput[string]{QueryCache: table}, now)
	require.NoError(t, err)

	assert.Len(t, snap.Entries, 1)
	_, ok := snap.Entries["fresh"]
	assert.True(t, ok)
}

func TestPartializeCarriesFullProjection(t *testing.T) {
	now := time.Now()
	in := PartializeInput[string]{
		Enabled:          true,
		QueryKey:         `["id","1"]`,
		Status:           "success",
		Err:              assert.AnError,
		LastFetchedAt:    now,
		HasLastFetchedAt: true,
		Extra:            map[string]int{"views": 3},
	}

	snap, err := Partialize(in, now)
	require.NoError(t, err)

	assert.True(t, snap.Enabled)
	assert.Equal(t, `["id","1"]`, snap.QueryKey)
	assert.Equal(t, "success", snap.Status)
	assert.True(t, snap.HasError)
	assert.Equal(t, assert.AnError.Error(), snap.Error)
	assert.True(t, snap.HasLastFetchedAt)
	assert.JSONEq(t, `{"views":3}`, string(snap.Extra))
}

func TestRehydrateRoundTrip(t *testing.T) {
	now := time.Now()
	table := cachetable.Table[int]{
		"a": {CacheTime: time.Hour, Data: 42, HasData: true, LastFetchedAt: now, HasLastFetchedAt: true},
	}

	snap, err := Partialize(PartializeInput[int]{
		Enabled:  true,
		QueryKey: "a",
		Status:   "success",

		QueryCache: table,
	}, now)
	require.NoError(t, err)

	rehydrated := Rehydrate(snap, now)

	assert.True(t, rehydrated.Enabled)
	assert.Equal(t, "a", rehydrated.QueryKey)
	assert.Equal(t, "success", rehydrated.Status)
	require.Contains(t, rehydrated.QueryCache, "a")
	assert.Equal(t, 42, rehydrated.QueryCache["a"].Data)
}

func TestRehydrateRestoresError(t *testing.T) {
	now := time.Now()
	snap, err := Partialize(PartializeInput[int]{Status: "error", Err: assert.AnError}, now)
	require.NoError(t, err)

	rehydrated := Rehydrate(snap, now)
	require.Error(t, rehydrated.Err)
	assert.Equal(t, assert.AnError.Error(), rehydrated.Err.Error())
}

func TestRehydratePrunesExpiredOnLoad(t *testing.T) {
	now := time.Now()
	snap := Snapshot[int]{
		Version: snapshotVersion,
		Entries: map[string]SnapshotEntry[int]{
			"a": {CacheTime: time.Minute, Data: 1, LastFetchedAt: now.Add(-time.Hour), HasLastFetchedAt: true},
		},
	}

	rehydrated := Rehydrate(snap, now)
	assert.Empty(t, rehydrated.QueryCache)
}

func TestBridgeSaveLoadThroughFileAdapter(t *testing.T) {
	dir := t.TempDir()
	adapter, err := NewFileAdapter(dir)
	require.NoError(t, err)

	bridge := NewBridge[string](adapter, "my-store")
	now := time.Now()
	table := cachetable.Table[string]{
		"k": {CacheTime: time.Hour, Data: "v", HasData: true, LastFetchedAt: now, HasLastFetchedAt: true},
	}

	in := PartializeInput[string]{
		Enabled:          true,
		QueryKey:         "k",
		Status:           "success",
		LastFetchedAt:    now,
		HasLastFetchedAt: true,
		QueryCache:       table,
	}
	require.NoError(t, bridge.Save(context.Background(), in, now))

	loaded, ok, err := bridge.Load(context.Background(), now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, loaded.Enabled)
	assert.Equal(t, "k", loaded.QueryKey)
	assert.Equal(t, "success", loaded.Status)
	assert.Equal(t, "v", loaded.QueryCache["k"].Data)
}

func TestBridgeLoadMissingSlot(t *testing.T) {
	dir := t.TempDir()
	adapter, err := NewFileAdapter(dir)
	require.NoError(t, err)

	bridge := NewBridge[string](adapter, "absent")
	_, ok, err := bridge.Load(context.Background(), time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

// fakeSessionStore is a minimal in-memory SessionStore, standing in for a
// real alexedwards/scs/v2 backend (e.g. memstore.MemStore) in unit tests.
type fakeSessionStore struct {
	data map[string][]byte
}

func (f *fakeSessionStore) Find(token string) ([]byte, bool, error) {
	b, ok := f.data[token]
	return b, ok, nil
}

func (f *fakeSessionStore) Commit(token string, b []byte, _ time.Time) error {
	if f.data == nil {
		f.data = make(map[string][]byte)
	}
	f.data[token] = b
	return nil
}

func (f *fakeSessionStore) Delete(token string) error {
	delete(f.data, token)
	return nil
}

func TestBridgeSaveLoadThroughSessionAdapter(t *testing.T) {
	store := &fakeSessionStore{}
	adapter := NewSessionAdapter(store, time.Hour)
	bridge := NewBridge[string](adapter, "session-store")

	now := time.Now()
	table := cachetable.Table[string]{
		"k": {CacheTime: time.Hour, Data: "v", HasData: true, LastFetchedAt: now, HasLastFetchedAt: true},
	}

	in := PartializeInput[string]{QueryKey: "k", Status: "success", QueryCache: table}
	require.NoError(t, bridge.Save(context.Background(), in, now))

	loaded, ok, err := bridge.Load(context.Background(), now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", loaded.QueryCache["k"].Data)
}
