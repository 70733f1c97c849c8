package queryflux

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colinmarsh/queryflux/internal/abortctl"
	"github.com/colinmarsh/queryflux/internal/clock"
	"github.com/colinmarsh/queryflux/internal/keygen"
)

func TestStoreFetchCachesAndReportsStatus(t *testing.T) {
	var calls int32
	store := New(Options[string]{
		StoreID: "widgets",
		Fetcher: func(map[string]any, *abortctl.Handle) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "widget-data", nil
		},
		StaleTime:  time.Hour,
		MaxRetries: 3,
	})

	status := store.GetStatus()
	assert.True(t, status.IsIdle)

	future := store.Fetch(nil, false)
	data, ok := future.Wait(context.Background())
	require.True(t, ok)
	assert.Equal(t, "widget-data", data)

	status = store.GetStatus()
	assert.True(t, status.IsSuccess)

	cached, ok := store.GetData()
	assert.True(t, ok)
	assert.Equal(t, "widget-data", cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStoreSubscribeTriggersFirstFetch(t *testing.T) {
	fetched := make(chan struct{}, 1)
	store := New(Options[int]{
		StoreID: "auto",
		Fetcher: func(map[string]any, *abortctl.Handle) (int, error) {
			select {
			case fetched <- struct{}{}:
			default:
			}
			return 42, nil
		},
		StaleTime: time.Hour,
	})

	unsubscribe := store.Subscribe()
	defer unsubscribe()

	select {
	case <-fetched:
	case <-time.After(time.Second):
		t.Fatal("subscribing did not trigger a fetch")
	}
}

func TestStoreResetClearsCacheAndStatus(t *testing.T) {
	store := New(Options[string]{
		StoreID: "resettable",
		Fetcher: func(map[string]any, *abortctl.Handle) (string, error) {
			return "v1", nil
		},
		StaleTime: time.Hour,
	})

	future := store.Fetch(nil, false)
	_, ok := future.Wait(context.Background())
	require.True(t, ok)
	assert.True(t, store.GetStatus().IsSuccess)

	store.Reset()

	assert.True(t, store.GetStatus().IsIdle)
	_, ok = store.GetData()
	assert.False(t, ok)
}

func TestStoreReactiveParamsRerunsFetch(t *testing.T) {
	type cell struct {
		value     atomic.Value
		listeners []func(any)
	}

	idCell := &cell{}
	idCell.value.Store("1")

	subscribeIDCell := func(listener func(any)) func() {
		idCell.listeners = append(idCell.listeners, listener)
		return func() {}
	}

	var gotParams atomic.Value
	store := New(Options[string]{
		StoreID: "reactive",
		Params: map[string]ParamSource{
			"id": ReactiveParam(func() AttachValue {
				return reactiveCellAdapter{get: func() any { return idCell.value.Load() }, sub: subscribeIDCell}
			}),
		},
		Fetcher: func(p map[string]any, _ *abortctl.Handle) (string, error) {
			gotParams.Store(p["id"].(string))
			return "v-" + p["id"].(string), nil
		},
		StaleTime: time.Hour,
	})

	future := store.Fetch(nil, false)
	_, ok := future.Wait(context.Background())
	require.True(t, ok)
	assert.Equal(t, "1", gotParams.Load())

	idCell.value.Store("2")
	for _, l := range idCell.listeners {
		l("2")
	}

	assert.Eventually(t, func() bool {
		v, ok := gotParams.Load().(string)
		return ok && v == "2"
	}, time.Second, 5*time.Millisecond)
}

// reactiveCellAdapter adapts a bare get/subscribe pair to AttachValue for
// tests that don't need the full weight of a real signal implementation.
type reactiveCellAdapter struct {
	get func() any
	sub func(func(any)) func()
}

func (c reactiveCellAdapter) Value() any                               { return c.get() }
func (c reactiveCellAdapter) Subscribe(listener func(any)) func() { return c.sub(listener) }

func TestStoreHonorsCustomClock(t *testing.T) {
	fc := &fakeClock{now: time.Unix(0, 0)}
	store := New(Options[string]{
		StoreID: "clocked",
		Fetcher: func(map[string]any, *abortctl.Handle) (string, error) {
			return "v", nil
		},
		StaleTime: time.Minute,
		Clock:     fc,
	})

	future := store.Fetch(nil, false)
	_, ok := future.Wait(context.Background())
	require.True(t, ok)

	assert.False(t, store.IsStale())
	fc.now = fc.now.Add(2 * time.Minute)
	assert.True(t, store.IsStale())
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return clock.Real{}.AfterFunc(d, f)
}

func TestStoreQueryKeyPopulatedWithoutKeepPreviousData(t *testing.T) {
	store := New(Options[string]{
		StoreID: "keyed",
		Params: map[string]ParamSource{
			"id": Param("1"),
		},
		Fetcher: func(map[string]any, *abortctl.Handle) (string, error) {
			return "v1", nil
		},
		StaleTime: time.Hour,
	})

	wantKey, err := keygen.BuildQueryKey(map[string]any{"id": "1"})
	require.NoError(t, err)

	// queryKey is resolved at construction, before any fetch runs.
	assert.Equal(t, wantKey, store.GetState().QueryKey)

	future := store.Fetch(nil, false)
	_, ok := future.Wait(context.Background())
	require.True(t, ok)
	assert.Equal(t, wantKey, store.GetState().QueryKey)

	store.Reset()
	assert.Equal(t, wantKey, store.GetState().QueryKey)
}

// fakeAdapter is an in-memory persistence.Adapter, standing in for a real
// FileAdapter/PostgresAdapter/SessionAdapter in tests that only need
// Store's rehydrate/partialize wiring, not a concrete backend.
type fakeAdapter struct {
	slots map[string][]byte
}

func (f *fakeAdapter) Load(_ context.Context, slot string) ([]byte, bool, error) {
	b, ok := f.slots[slot]
	return b, ok, nil
}

func (f *fakeAdapter) Save(_ context.Context, slot string, data []byte) error {
	if f.slots == nil {
		f.slots = make(map[string][]byte)
	}
	f.slots[slot] = data
	return nil
}

func TestStorePersistsAndRehydratesFullProjection(t *testing.T) {
	adapter := &fakeAdapter{}

	first := New(Options[string]{
		StoreID:     "durable",
		Persistence: adapter,
		Fetcher: func(map[string]any, *abortctl.Handle) (string, error) {
			return "v1", nil
		},
		StaleTime: time.Hour,
	})
	future := first.Fetch(nil, false)
	_, ok := future.Wait(context.Background())
	require.True(t, ok)
	assert.Eventually(t, func() bool {
		return len(adapter.slots["durable"]) > 0
	}, time.Second, 5*time.Millisecond)

	second := New(Options[string]{
		StoreID:     "durable",
		Persistence: adapter,
		Fetcher: func(map[string]any, *abortctl.Handle) (string, error) {
			t.Fatal("fetcher should not be called before the rehydrated cache is consulted")
			return "", nil
		},
		StaleTime: time.Hour,
	})

	state := second.GetState()
	assert.True(t, state.Enabled)
	assert.Equal(t, "success", string(state.Status))
	data, ok := second.GetData()
	require.True(t, ok)
	assert.Equal(t, "v1", data)
}
