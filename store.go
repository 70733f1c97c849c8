package queryflux

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/colinmarsh/queryflux/internal/abortctl"
	"github.com/colinmarsh/queryflux/internal/cachetable"
	"github.com/colinmarsh/queryflux/internal/clock"
	"github.com/colinmarsh/queryflux/internal/debugserver"
	"github.com/colinmarsh/queryflux/internal/fetchcoord"
	"github.com/colinmarsh/queryflux/internal/keygen"
	"github.com/colinmarsh/queryflux/internal/params"
	"github.com/colinmarsh/queryflux/internal/persistence"
	"github.com/colinmarsh/queryflux/internal/statestore"
	"github.com/colinmarsh/queryflux/internal/subscription"
	"github.com/colinmarsh/queryflux/internal/telemetry"
	"github.com/colinmarsh/queryflux/internal/workerbridge"
)

// Fetcher performs the actual I/O for a query. abort is non-nil and
// observable (abort.Done(), abort.Aborted()) only when
// Options.AbortInterruptedFetches is set; otherwise it is nil.
type Fetcher[D any] func(params map[string]any, abort *abortctl.Handle) (D, error)

// Options configures a Store. Only Fetcher is required; an empty StoreID
// is replaced with a random UUID.
type Options[D any] struct {
	StoreID string
	Fetcher Fetcher[D]

	Params  map[string]ParamSource
	Enabled EnabledSource

	Transform func(raw D, params map[string]any) (D, error)
	OnFetched func(fetchcoord.OnFetchedArgs[D])
	OnError   func(err error, retryCount int)
	SetData   func(fetchcoord.SetDataArgs[D])

	StaleTime time.Duration
	CacheTime func(params map[string]any) time.Duration

	MaxRetries int
	RetryDelay func(retryCount int, err error) time.Duration

	AbortInterruptedFetches bool
	DisableAutoRefetching   bool
	DisableCache            bool
	KeepPreviousData        bool

	// Logger defaults to a no-op logger when unset.
	Logger telemetry.Logger

	// Persistence, when set, rehydrates the full persisted projection at
	// construction and saves a new snapshot after every observable state
	// change (spec.md §4.6: enabled, error, lastFetchedAt, queryCache
	// (pruned), queryKey, status).
	Persistence persistence.Adapter

	// PartializeExtra, when set, is called alongside the built-in
	// projection to produce the "user partialize output" spec.md §4.6/§6
	// names as part of the persisted slice. RehydrateExtra is handed the
	// raw bytes PartializeExtra last produced, if any were persisted.
	PartializeExtra func() any
	RehydrateExtra  func(data []byte) error

	// WorkerBridge, when set, additionally offloads each scheduled
	// refetch/retry to an asynq queue alongside the in-process timer
	// (spec.md §4.4 ADDED), so a separate worker process can observe and
	// react to the same schedule.
	WorkerBridge *workerbridge.Bridge

	Clock clock.Clock
}

// Store is the public facade of spec.md §4.9: one reactive, cache-backed
// query, with a zustand-shaped observable state container underneath.
type Store[D any] struct {
	storeID string
	store   *statestore.Store[fetchcoord.State[D]]
	subs    *subscription.Manager
	params  *params.Resolver
	coord   *fetchcoord.Coordinator[D]
	clk     clock.Clock

	persistBridge   *persistence.Bridge[D]
	partializeExtra func() any
}

// New constructs a Store from opts.
func New[D any](opts Options[D]) *Store[D] {
	if opts.StoreID == "" {
		opts.StoreID = uuid.NewString()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.CacheTime == nil {
		opts.CacheTime = func(map[string]any) time.Duration { return 7 * 24 * time.Hour }
	}
	if opts.Logger.IsZero() {
		opts.Logger = telemetry.Nop()
	}
	if opts.RetryDelay == nil {
		opts.RetryDelay = func(retryCount int, _ error) time.Duration {
			delay := time.Second * time.Duration(1<<retryCount)
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
			return delay
		}
	}

	s := &Store[D]{storeID: opts.StoreID, clk: opts.Clock}

	// The resolver is bound before the rest of the collaborators exist so
	// its initial params/enabled can seed the initial state below. Its
	// onParamChange/onEnabledChange closures reference s.coord/s.subs/
	// s.store, which are only assigned later in this function; that's
	// safe because Resolver.bind never invokes them synchronously, only
	// from a reactive cell's later Subscribe callback, by which point
	// construction has finished.
	s.params = params.NewResolver(
		opts.Params,
		opts.Enabled,
		func(next map[string]any) { s.onParamChange(next) },
		func(enabled bool) { s.onEnabledChange(enabled) },
	)

	initial := fetchcoord.State[D]{Status: fetchcoord.StatusIdle, Enabled: s.params.InitialEnabled()}
	if key, err := keygen.BuildQueryKey(s.params.Current()); err == nil {
		initial.QueryKey = key
	}
	if !opts.DisableCache {
		initial.QueryCache = make(cachetable.Table[D])
	}

	if opts.Persistence != nil {
		s.persistBridge = persistence.NewBridge[D](opts.Persistence, opts.StoreID)
		if rehydrated, ok, err := s.persistBridge.Load(context.Background(), opts.Clock.Now()); err == nil && ok {
			initial.Enabled = rehydrated.Enabled
			initial.QueryKey = rehydrated.QueryKey
			if rehydrated.Status != "" {
				initial.Status = fetchcoord.Status(rehydrated.Status)
			}
			initial.Err = rehydrated.Err
			initial.LastFetchedAt = rehydrated.LastFetchedAt
			initial.HasLastFetchedAt = rehydrated.HasLastFetchedAt
			if !opts.DisableCache {
				initial.QueryCache = rehydrated.QueryCache
			}
			if opts.RehydrateExtra != nil && len(rehydrated.Extra) > 0 {
				_ = opts.RehydrateExtra(rehydrated.Extra)
			}
		}
	}

	s.store = statestore.New(initial)

	subEvents := subscription.Events{
		OnFirstSubscribe: func() {
			s.coord.Fetch(nil, fetchcoord.FetchOptions{})
		},
		OnSubscribe: func(isFirst, shouldThrottle bool) {
			if !shouldThrottle {
				s.coord.Fetch(nil, fetchcoord.FetchOptions{})
			}
		},
		OnLastUnsubscribe: func() {
			s.coord.ClearTimer()
		},
	}
	s.subs = subscription.New(initial.Enabled, opts.DisableAutoRefetching, subEvents)

	effectiveClock := opts.Clock
	if opts.WorkerBridge != nil {
		effectiveClock = &bridgingClock{inner: opts.Clock, bridge: opts.WorkerBridge, storeID: opts.StoreID, currentParams: func() map[string]any { return s.params.Current() }}
	}

	logger := opts.Logger
	cfg := fetchcoord.Config[D]{
		StoreID:                 opts.StoreID,
		Fetcher:                 func(p map[string]any, abort *abortctl.Handle) (D, error) { return opts.Fetcher(p, abort) },
		Transform:               opts.Transform,
		OnFetched:               opts.OnFetched,
		OnError:                 opts.OnError,
		SetData:                 opts.SetData,
		DefaultStaleTime:        opts.StaleTime,
		DefaultCacheTime:        opts.CacheTime,
		MaxRetries:              opts.MaxRetries,
		RetryDelay:              opts.RetryDelay,
		AbortInterruptedFetches: opts.AbortInterruptedFetches,
		DisableAutoRefetching:   opts.DisableAutoRefetching,
		DisableCache:            opts.DisableCache,
		KeepPreviousData:        opts.KeepPreviousData,
		Clock:                   effectiveClock,
		Logger:                  logger,
	}

	s.coord = fetchcoord.New(cfg, s.store, s.subs, func() map[string]any { return s.params.Current() })
	s.partializeExtra = opts.PartializeExtra

	if s.persistBridge != nil {
		s.store.Subscribe(func(next, _ fetchcoord.State[D]) {
			in := persistence.PartializeInput[D]{
				Enabled:          next.Enabled,
				QueryKey:         next.QueryKey,
				Status:           string(next.Status),
				Err:              next.Err,
				LastFetchedAt:    next.LastFetchedAt,
				HasLastFetchedAt: next.HasLastFetchedAt,
				QueryCache:       next.QueryCache,
			}
			if s.partializeExtra != nil {
				in.Extra = s.partializeExtra()
			}
			_ = s.persistBridge.Save(context.Background(), in, s.clk.Now())
		})
	}

	return s
}

// onParamChange is the resolver's onParamChange callback, split out so it
// can be referenced before s.coord exists (see New).
func (s *Store[D]) onParamChange(next map[string]any) {
	s.coord.Fetch(next, fetchcoord.FetchOptions{})
}

// onEnabledChange is the resolver's onEnabledChange callback. It keeps
// both the subscription manager's enabled flag and the observable state's
// Enabled field (spec.md §4.6's persisted "enabled") in sync.
func (s *Store[D]) onEnabledChange(enabled bool) {
	s.subs.SetEnabled(enabled)
	if !enabled {
		s.coord.ClearTimer()
	}
	s.store.SetState(func(cur fetchcoord.State[D]) fetchcoord.State[D] {
		if cur.Enabled == enabled {
			return cur
		}
		next := cur.Clone()
		next.Enabled = enabled
		return next
	})
}

// Subscribe registers a subscriber, arming fetch scheduling on the
// first one. Returns a release function.
func (s *Store[D]) Subscribe() func() {
	return s.subs.Subscribe()
}

// GetState returns the raw observable state.
func (s *Store[D]) GetState() fetchcoord.State[D] {
	return s.store.GetState()
}

// OnStateChange registers listener to be called on every state change.
func (s *Store[D]) OnStateChange(listener func(next, prev fetchcoord.State[D])) func() {
	return s.store.Subscribe(listener)
}

// Fetch triggers a fetch for the current (or given) params. Passing nil
// params resolves the store's currently bound parameters.
func (s *Store[D]) Fetch(params map[string]any, force bool) *fetchcoord.Future[D] {
	return s.coord.Fetch(params, fetchcoord.FetchOptions{Force: force})
}

// GetData returns the cached data for the current params, if any.
func (s *Store[D]) GetData() (D, bool) {
	return s.coord.GetData(nil)
}

// GetStatus derives the status snapshot from the current state.
func (s *Store[D]) GetStatus() fetchcoord.StatusSnapshot {
	return s.coord.GetStatus()
}

// IsStale reports whether the current query is stale relative to
// staleTime (or the configured default, if not overridden).
func (s *Store[D]) IsStale(staleTime ...time.Duration) bool {
	if len(staleTime) > 0 {
		return s.coord.IsStale(nil, staleTime[0], true)
	}
	return s.coord.IsStale(nil, 0, false)
}

// IsDataExpired reports whether the current query's cached data has
// expired relative to cacheTime (or the configured default).
func (s *Store[D]) IsDataExpired(cacheTime ...time.Duration) bool {
	if len(cacheTime) > 0 {
		return s.coord.IsDataExpired(nil, cacheTime[0], true)
	}
	return s.coord.IsDataExpired(nil, 0, false)
}

// Reset clears all cache entries, in-flight state, and timers, and
// restores idle status.
func (s *Store[D]) Reset() {
	defaults := fetchcoord.State[D]{Status: fetchcoord.StatusIdle, Enabled: s.subs.Enabled()}
	if key, err := keygen.BuildQueryKey(s.params.Current()); err == nil {
		defaults.QueryKey = key
	}
	if s.store.GetState().QueryCache != nil {
		defaults.QueryCache = make(cachetable.Table[D])
	}
	s.coord.Reset(defaults)
}

// PruneNow implements registry.Sweepable: it prunes the cache table
// in-place without otherwise disturbing status/error state.
func (s *Store[D]) PruneNow(now time.Time) {
	s.store.SetState(func(cur fetchcoord.State[D]) fetchcoord.State[D] {
		cloned := cur.Clone()
		if cloned.QueryCache != nil {
			cachetable.Prune(cloned.QueryCache, now, cloned.QueryKey)
		}
		return cloned
	})
}

// StoreID returns the identifier this store was constructed with.
func (s *Store[D]) StoreID() string {
	return s.storeID
}

// AbortActive cooperatively cancels the current in-flight fetch, if any.
// Only meaningful when AbortInterruptedFetches is configured.
func (s *Store[D]) AbortActive() {
	s.coord.AbortActive()
}

// Close releases the store's reactive parameter subscriptions and cancels
// any pending refetch/retry timer. It does not affect an in-flight fetch;
// call AbortActive beforehand if AbortInterruptedFetches is configured.
func (s *Store[D]) Close() {
	s.coord.ClearTimer()
	s.params.Close()
}

// Snapshot implements debugserver's per-store reporting contract.
func (s *Store[D]) Snapshot() debugserver.StoreSnapshot {
	state := s.store.GetState()

	cachedKeys := make([]string, 0, len(state.QueryCache))
	for k := range state.QueryCache {
		cachedKeys = append(cachedKeys, k)
	}

	var lastErr string
	if state.Err != nil {
		lastErr = state.Err.Error()
	}

	return debugserver.StoreSnapshot{
		StoreID:         s.storeID,
		Enabled:         state.Enabled,
		QueryKey:        state.QueryKey,
		Status:          string(state.Status),
		SubscriberCount: s.subs.Count(),
		CachedQueryKeys: cachedKeys,
		LastError:       lastErr,
	}
}

// bridgingClock offloads every scheduled delay to an asynq worker bridge
// in addition to arming the usual in-process timer, so a separate worker
// process can also observe the schedule (spec.md §4.4 ADDED).
type bridgingClock struct {
	inner         clock.Clock
	bridge        *workerbridge.Bridge
	storeID       string
	currentParams func() map[string]any
}

func (c *bridgingClock) Now() time.Time { return c.inner.Now() }

func (c *bridgingClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	go func() {
		_ = c.bridge.Schedule(context.Background(), c.storeID, "", c.currentParams(), d)
	}()
	return c.inner.AfterFunc(d, f)
}
