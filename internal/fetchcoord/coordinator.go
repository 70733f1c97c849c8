package fetchcoord

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/colinmarsh/queryflux/internal/abortctl"
	"github.com/colinmarsh/queryflux/internal/cachetable"
	"github.com/colinmarsh/queryflux/internal/clock"
	"github.com/colinmarsh/queryflux/internal/keygen"
	"github.com/colinmarsh/queryflux/internal/scheduler"
	"github.com/colinmarsh/queryflux/internal/statestore"
	"github.com/colinmarsh/queryflux/internal/subscription"
)

// Forever re-exports scheduler.Forever as the public sentinel for an
// infinite stale/cache time.
const Forever = scheduler.Forever

type activeFetchRecord[D any] struct {
	key    string
	future *Future[D]
}

// Coordinator is the fetch coordinator state machine of spec.md §4.3. It
// holds the transient, non-observable state spec.md §3 assigns to the
// coordinator (activeAbortHandle, activeFetch, activeRefetchTimer,
// lastFetchKey) alongside the observable State it drives through
// statestore.Store.
type Coordinator[D any] struct {
	cfg          Config[D]
	store        *statestore.Store[State[D]]
	subs         *subscription.Manager
	currentParams func() map[string]any
	sf           singleflight.Group

	mu           sync.Mutex
	activeAbort  *abortctl.Handle
	activeFetch  *activeFetchRecord[D]
	activeTimer  clock.Timer
	lastFetchKey string

	// noCacheRetry tracks retry counters for query keys when DisableCache
	// is set, since there is then no per-key cache entry to hold them.
	noCacheRetry map[string]int
}

// New constructs a Coordinator. currentParams resolves the parameter map
// to use when Fetch is called with params == nil.
func New[D any](cfg Config[D], store *statestore.Store[State[D]], subs *subscription.Manager, currentParams func() map[string]any) *Coordinator[D] {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Coordinator[D]{
		cfg:           cfg,
		store:         store,
		subs:          subs,
		currentParams: currentParams,
		noCacheRetry:  make(map[string]int),
	}
}

// Fetch implements the decision tree of spec.md §4.3. It never blocks on
// the fetcher: it returns a *Future[D] immediately and settles it
// asynchronously.
func (c *Coordinator[D]) Fetch(params map[string]any, opts FetchOptions) *Future[D] {
	if params == nil {
		params = c.currentParams()
	}

	currentKey, err := keygen.BuildQueryKey(params)
	if err != nil {
		f := newFuture[D]()
		var zero D
		f.settle(zero, false)
		c.cfg.Logger.Error(c.cfg.StoreID, "", err, "failed to build query key")
		return f
	}

	// When KeepPreviousData is off, queryKey tracks the currently resolved
	// params immediately (spec.md §4.2), independent of whether a fetch
	// actually runs below. The KeepPreviousData case instead updates
	// queryKey only once new data lands (see the cache-hit branch and
	// commitSuccess), so the old key's data stays visible until then.
	if !c.cfg.KeepPreviousData && !opts.SkipStoreUpdates {
		c.store.SetState(func(s State[D]) State[D] {
			if s.QueryKey == currentKey {
				return s
			}
			next := s.Clone()
			next.QueryKey = currentKey
			return next
		})
	}

	// 1. disabled short-circuit.
	if !opts.Force && !c.subs.Enabled() {
		f := newFuture[D]()
		var zero D
		f.settle(zero, false)
		return f
	}

	c.mu.Lock()

	// 3. in-flight dedup.
	if !opts.Force && c.activeFetch != nil && c.activeFetch.key == currentKey {
		if c.store.GetState().Status == StatusLoading {
			f := c.activeFetch.future
			c.mu.Unlock()
			return f
		}
	}

	// 4. abort any different in-flight fetch.
	if c.cfg.AbortInterruptedFetches && !opts.SkipStoreUpdates {
		if c.activeAbort != nil {
			c.activeAbort.Abort()
			c.activeAbort = nil
		}
	}

	// 5. fresh cache/state hit.
	if !opts.Force {
		if data, ok, hit := c.checkFreshLocked(currentKey, params, opts); hit {
			c.cfg.Logger.Debug(c.cfg.StoreID, currentKey, "cache hit")
			if scheduler.ShouldScheduleRefetch(c.cfg.DisableAutoRefetching, c.effectiveStaleTime(opts)) {
				c.scheduleNextFetchLocked(params, opts)
			}
			if c.cfg.KeepPreviousData {
				state := c.store.GetState()
				if state.QueryKey != currentKey {
					c.store.SetState(func(s State[D]) State[D] {
						next := s.Clone()
						next.QueryKey = currentKey
						return next
					})
				}
			}
			c.mu.Unlock()
			f := newFuture[D]()
			f.settle(data, ok)
			return f
		}
	}

	// 6. transition to loading and arm dedup record.
	future := newFuture[D]()
	if !opts.SkipStoreUpdates {
		c.store.SetState(func(s State[D]) State[D] {
			next := s.Clone()
			next.Status = StatusLoading
			next.Err = nil
			return next
		})
		c.activeFetch = &activeFetchRecord[D]{key: currentKey, future: future}
	}

	var abort *abortctl.Handle
	if c.cfg.AbortInterruptedFetches && !opts.SkipStoreUpdates {
		abort = abortctl.New()
		c.activeAbort = abort
	}
	c.mu.Unlock()

	// 7. execute the fetch operation asynchronously.
	go c.runFetchOperation(currentKey, params, opts, abort, future)

	return future
}

// checkFreshLocked implements spec.md §4.3 step 5. Caller holds c.mu.
func (c *Coordinator[D]) checkFreshLocked(key string, params map[string]any, opts FetchOptions) (data D, ok bool, hit bool) {
	now := c.cfg.Clock.Now()
	staleTime := c.effectiveStaleTime(opts)
	state := c.store.GetState()

	var hasLastFetchedAt bool
	var lastFetchedAt time.Time
	var unresolvedError bool

	if c.cfg.DisableCache {
		hasLastFetchedAt = state.HasLastFetchedAt
		lastFetchedAt = state.LastFetchedAt
		unresolvedError = state.Status == StatusError
	} else if entry, found := state.QueryCache[key]; found {
		hasLastFetchedAt = entry.HasLastFetchedAt
		lastFetchedAt = entry.LastFetchedAt
		unresolvedError = entry.ErrorInfo != nil && entry.ErrorInfo.RetryCount < c.cfg.MaxRetries
	}

	if !hasLastFetchedAt || unresolvedError {
		return data, false, false
	}
	if staleTime != Forever && now.Sub(lastFetchedAt) >= staleTime {
		return data, false, false
	}

	if c.cfg.DisableCache {
		var zero D
		return zero, false, true
	}
	if c.cfg.KeepPreviousData {
		d, found := cachetable.GetDataKeepPrevious(state.QueryCache, key)
		return d, found, true
	}
	d, found := cachetable.GetData(state.QueryCache, key, now)
	return d, found, true
}

func (c *Coordinator[D]) runFetchOperation(key string, params map[string]any, opts FetchOptions, abort *abortctl.Handle, future *Future[D]) {
	type result struct {
		data D
		err  error
	}

	resultCh := make(chan result, 1)
	sfCh := c.sf.DoChan(key, func() (any, error) {
		return c.cfg.Fetcher(params, abort)
	})

	go func() {
		res := <-sfCh
		var data D
		if res.Val != nil {
			data, _ = res.Val.(D)
		}
		resultCh <- result{data: data, err: res.Err}
	}()

	var data D
	var err error
	if abort != nil {
		select {
		case r := <-resultCh:
			data, err = r.data, r.err
		case <-abort.Done():
			err = abortctl.ErrAborted
		}
	} else {
		r := <-resultCh
		data, err = r.data, r.err
	}

	if abortctl.IsAbort(err) {
		msg := "fetch aborted"
		if abort != nil {
			msg = "fetch aborted [" + abort.ID() + "]"
		}
		c.cfg.Logger.Debug(c.cfg.StoreID, key, msg)
		c.clearActiveFetch(key, opts)
		var zero D
		future.settle(zero, false)
		return
	}

	if err != nil {
		c.handleError(key, params, opts, &FetcherError{Err: err}, future)
		return
	}

	transformed := data
	if c.cfg.Transform != nil {
		transformed, err = c.safeTransform(data, params)
		if err != nil {
			c.handleError(key, params, opts, &TransformError{Err: err}, future)
			return
		}
	}

	if opts.SkipStoreUpdates {
		future.settle(transformed, true)
		return
	}

	c.commitSuccess(key, params, opts, transformed)
	future.settle(transformed, true)

	c.mu.Lock()
	c.lastFetchKey = key
	c.mu.Unlock()

	c.scheduleNextFetch(params, opts)
	c.invokeOnFetched(transformed, params)
	c.clearActiveFetch(key, opts)
}

func (c *Coordinator[D]) safeTransform(raw D, params map[string]any) (result D, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = asError(r)
		}
	}()
	return c.cfg.Transform(raw, params)
}

func (c *Coordinator[D]) invokeOnFetched(data D, params map[string]any) {
	if c.cfg.OnFetched == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			cbErr := &CallbackError{Err: asError(r)}
			c.cfg.Logger.Error(c.cfg.StoreID, "", cbErr, "onFetched panicked")
		}
	}()
	c.cfg.OnFetched(OnFetchedArgs[D]{
		Data:   data,
		Params: params,
		Set:    c.store.SetState,
		Fetch:  c.Fetch,
	})
}

func (c *Coordinator[D]) commitSuccess(key string, params map[string]any, opts FetchOptions, data D) {
	now := c.cfg.Clock.Now()
	cacheTime := c.effectiveCacheTime(params, opts)

	if c.cfg.SetData != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.cfg.Logger.Error(c.cfg.StoreID, key, asError(r), "setData panicked")
				}
			}()
			c.cfg.SetData(SetDataArgs[D]{Data: data, Params: params, QueryKey: key, Set: c.store.SetState})
		}()
	}

	c.store.SetState(func(s State[D]) State[D] {
		next := s.Clone()
		next.Status = StatusSuccess
		next.Err = nil
		next.LastFetchedAt = now
		next.HasLastFetchedAt = true

		if !c.cfg.DisableCache {
			if next.QueryCache == nil {
				next.QueryCache = make(cachetable.Table[D])
			}
			entry := &cachetable.Entry[D]{CacheTime: cacheTime, LastFetchedAt: now, HasLastFetchedAt: true}
			if c.cfg.SetData == nil {
				entry.Data = data
				entry.HasData = true
			}
			next.QueryCache[key] = entry
		}

		if c.cfg.KeepPreviousData {
			next.QueryKey = key
		}

		if !c.cfg.DisableCache && cacheTime != Forever {
			keep := []string{key}
			if c.cfg.KeepPreviousData {
				keep = append(keep, s.QueryKey)
			}
			cachetable.Prune(next.QueryCache, now, keep...)
		}

		return next
	})

	c.cfg.Logger.Info(c.cfg.StoreID, key, "fetch succeeded")
	if !c.cfg.DisableCache && cacheTime != Forever {
		c.cfg.Logger.Info(c.cfg.StoreID, key, "cache pruned")
	}
}

// handleError implements spec.md §4.3's error path. The gating check for
// scheduling another retry uses the post-increment retry count (see
// DESIGN.md's resolution of the tension between §4.3's prose and the §8 S3
// scenario, which only expects maxRetries total failed attempts).
func (c *Coordinator[D]) handleError(key string, params map[string]any, opts FetchOptions, err error, future *Future[D]) {
	oldCount := c.currentRetryCount(key)

	if c.cfg.OnError != nil {
		func() {
			defer func() { recover() }()
			c.cfg.OnError(err, oldCount)
		}()
	}

	newCount := oldCount + 1
	if newCount > c.cfg.MaxRetries {
		newCount = c.cfg.MaxRetries
	}

	if newCount < c.cfg.MaxRetries && c.subs.Count() > 0 {
		delay := c.effectiveRetryDelay(oldCount, err)
		if scheduler.ShouldScheduleRetry(newCount, c.cfg.MaxRetries, c.subs.Count(), delay) {
			c.scheduleRetry(params, delay)
		}
	}

	now := c.cfg.Clock.Now()

	if c.cfg.DisableCache {
		c.mu.Lock()
		c.noCacheRetry[key] = newCount
		c.mu.Unlock()
	}

	if !opts.SkipStoreUpdates {
		c.store.SetState(func(s State[D]) State[D] {
			next := s.Clone()
			next.Status = StatusError
			next.Err = err

			if !c.cfg.DisableCache {
				if next.QueryCache == nil {
					next.QueryCache = make(cachetable.Table[D])
				}
				entry, ok := next.QueryCache[key]
				if !ok {
					entry = &cachetable.Entry[D]{CacheTime: c.effectiveCacheTime(params, opts)}
				}
				entryCopy := *entry
				entryCopy.ErrorInfo = &cachetable.ErrorInfo{Err: err, LastFailedAt: now, RetryCount: newCount}
				next.QueryCache[key] = &entryCopy
			}
			return next
		})
	}

	if _, isTransform := err.(*TransformError); isTransform {
		c.cfg.Logger.Error(c.cfg.StoreID, key, err, "transform failed")
	} else if newCount >= c.cfg.MaxRetries {
		c.cfg.Logger.Error(c.cfg.StoreID, key, err, "fetch failed, retries exhausted")
	} else {
		c.cfg.Logger.Warn(c.cfg.StoreID, key, err, "fetch failed")
	}
	future.settle(*new(D), false)
	c.clearActiveFetch(key, opts)
}

func (c *Coordinator[D]) currentRetryCount(key string) int {
	if c.cfg.DisableCache {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.noCacheRetry[key]
	}
	state := c.store.GetState()
	if state.QueryCache == nil {
		return 0
	}
	if e, ok := state.QueryCache[key]; ok && e.ErrorInfo != nil {
		return e.ErrorInfo.RetryCount
	}
	return 0
}

func (c *Coordinator[D]) effectiveRetryDelay(retryCount int, err error) time.Duration {
	if c.cfg.RetryDelay == nil {
		return 5 * time.Second
	}
	return c.cfg.RetryDelay(retryCount, err)
}

func (c *Coordinator[D]) effectiveStaleTime(opts FetchOptions) time.Duration {
	if opts.HasStaleTime {
		return opts.StaleTime
	}
	return c.cfg.DefaultStaleTime
}

func (c *Coordinator[D]) effectiveCacheTime(params map[string]any, opts FetchOptions) time.Duration {
	if opts.HasCacheTime {
		return opts.CacheTime
	}
	if c.cfg.DefaultCacheTime != nil {
		return c.cfg.DefaultCacheTime(params)
	}
	return 7 * 24 * time.Hour
}

func (c *Coordinator[D]) clearActiveFetch(key string, opts FetchOptions) {
	if opts.SkipStoreUpdates {
		return
	}
	c.mu.Lock()
	if c.activeFetch != nil && c.activeFetch.key == key {
		c.activeFetch = nil
	}
	c.mu.Unlock()
}

// scheduleNextFetch implements spec.md §4.4.
func (c *Coordinator[D]) scheduleNextFetch(params map[string]any, opts FetchOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleNextFetchLocked(params, opts)
}

func (c *Coordinator[D]) scheduleNextFetchLocked(params map[string]any, opts FetchOptions) {
	staleTime := c.effectiveStaleTime(opts)
	if !scheduler.ShouldScheduleRefetch(c.cfg.DisableAutoRefetching, staleTime) {
		return
	}

	c.clearTimerLocked()

	key, err := keygen.BuildQueryKey(params)
	if err != nil {
		return
	}

	now := c.cfg.Clock.Now()
	var lastFetchedAt time.Time
	var has bool
	if c.cfg.DisableCache {
		state := c.store.GetState()
		lastFetchedAt, has = state.LastFetchedAt, state.HasLastFetchedAt
	} else {
		state := c.store.GetState()
		if entry, ok := state.QueryCache[key]; ok {
			lastFetchedAt, has = entry.LastFetchedAt, entry.HasLastFetchedAt
		}
	}

	delay := scheduler.NextRefetchDelay(staleTime, lastFetchedAt, has, now)
	c.activeTimer = c.cfg.Clock.AfterFunc(delay, func() {
		if !c.subs.Enabled() || c.subs.Count() <= 0 {
			return
		}
		c.Fetch(params, FetchOptions{Force: true})
	})
}

func (c *Coordinator[D]) scheduleRetry(params map[string]any, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearTimerLocked()
	c.activeTimer = c.cfg.Clock.AfterFunc(delay, func() {
		if !c.subs.Enabled() || c.subs.Count() <= 0 {
			return
		}
		c.Fetch(params, FetchOptions{Force: true})
	})
}

func (c *Coordinator[D]) clearTimerLocked() {
	if c.activeTimer != nil {
		c.activeTimer.Stop()
		c.activeTimer = nil
	}
}

// ClearTimer cancels any pending refetch/retry timer. Used on
// OnLastUnsubscribe and SetEnabled(false).
func (c *Coordinator[D]) ClearTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearTimerLocked()
}

// AbortActive aborts the current in-flight fetch, if any.
func (c *Coordinator[D]) AbortActive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeAbort != nil {
		c.activeAbort.Abort()
		c.activeAbort = nil
	}
}

// Reset implements spec.md §6's reset(): cancels timers, aborts the active
// fetch if configured, clears transient coordinator state, and restores
// state to defaults with a freshly-computed queryKey.
func (c *Coordinator[D]) Reset(defaults State[D]) {
	c.mu.Lock()
	c.clearTimerLocked()
	if c.cfg.AbortInterruptedFetches && c.activeAbort != nil {
		c.activeAbort.Abort()
	}
	c.activeAbort = nil
	c.activeFetch = nil
	c.lastFetchKey = ""
	c.noCacheRetry = make(map[string]int)
	c.mu.Unlock()

	c.store.SetState(func(State[D]) State[D] { return defaults })
}

// GetData implements spec.md §4.5's getData.
func (c *Coordinator[D]) GetData(params map[string]any) (D, bool) {
	var zero D
	if params == nil {
		params = c.currentParams()
	}
	if c.cfg.DisableCache {
		return zero, false
	}
	key, err := keygen.BuildQueryKey(params)
	if err != nil {
		return zero, false
	}
	state := c.store.GetState()
	if c.cfg.KeepPreviousData {
		return cachetable.GetDataKeepPrevious(state.QueryCache, key)
	}
	return cachetable.GetData(state.QueryCache, key, c.cfg.Clock.Now())
}

// GetStatus implements spec.md §6's getStatus.
func (c *Coordinator[D]) GetStatus() StatusSnapshot {
	state := c.store.GetState()
	return DeriveStatus(state.Status, state.HasLastFetchedAt)
}

// IsStale implements spec.md §4.5's isStale.
func (c *Coordinator[D]) IsStale(params map[string]any, override time.Duration, hasOverride bool) bool {
	if params == nil {
		params = c.currentParams()
	}
	staleTime := c.cfg.DefaultStaleTime
	if hasOverride {
		staleTime = override
	}
	key, err := keygen.BuildQueryKey(params)
	if err != nil {
		return true
	}
	state := c.store.GetState()
	if c.cfg.DisableCache {
		if !state.HasLastFetchedAt {
			return true
		}
		return c.cfg.Clock.Now().Sub(state.LastFetchedAt) >= staleTime
	}
	return cachetable.IsStale(state.QueryCache, key, staleTime, c.cfg.Clock.Now())
}

// IsDataExpired implements spec.md §4.5's isDataExpired.
func (c *Coordinator[D]) IsDataExpired(params map[string]any, override time.Duration, hasOverride bool) bool {
	if params == nil {
		params = c.currentParams()
	}
	cacheTime := c.effectiveCacheTime(params, FetchOptions{})
	if hasOverride {
		cacheTime = override
	}
	key, err := keygen.BuildQueryKey(params)
	if err != nil {
		return true
	}
	state := c.store.GetState()
	if c.cfg.DisableCache {
		if !state.HasLastFetchedAt {
			return true
		}
		return c.cfg.Clock.Now().Sub(state.LastFetchedAt) > cacheTime
	}
	return cachetable.IsExpired(state.QueryCache, key, cacheTime, c.cfg.Clock.Now())
}
