// Package cachetable implements the per-query-key cache entries and the
// time-based pruning policy described in spec.md §4.5. It is grounded in
// the teacher's cache package (Entry/ETag/TTL shape) generalized from a
// single HTTP-response cache to an arbitrary-typed, per-key entry table,
// and in fcache's expiry check (time.Since(timestamp) > ttl).
package cachetable

import "time"

// ErrorInfo records the last failed fetch for a query key.
type ErrorInfo struct {
	Err          error
	LastFailedAt time.Time
	RetryCount   int // always in [1, maxRetries]
}

// Entry is one query key's cache entry.
type Entry[D any] struct {
	CacheTime time.Duration

	Data    D
	HasData bool

	LastFetchedAt    time.Time
	HasLastFetchedAt bool

	ErrorInfo *ErrorInfo
}

// lastMeaningfulTimestamp returns the timestamp pruning should measure
// staleness from: LastFetchedAt if present, else the error's LastFailedAt.
func (e *Entry[D]) lastMeaningfulTimestamp() (time.Time, bool) {
	if e.HasLastFetchedAt {
		return e.LastFetchedAt, true
	}
	if e.ErrorInfo != nil {
		return e.ErrorInfo.LastFailedAt, true
	}
	return time.Time{}, false
}

// Expired reports whether the entry has aged past its CacheTime as of now.
// An entry with no timestamp at all (should not normally occur) is treated
// as expired so it doesn't accumulate forever.
func (e *Entry[D]) Expired(now time.Time) bool {
	if e.CacheTime <= 0 {
		// CacheTime == 0 is not a valid configuration; infinite cache time
		// is the negative scheduler.Forever sentinel. Either way the entry
		// never expires.
		return false
	}
	ts, ok := e.lastMeaningfulTimestamp()
	if !ok {
		return true
	}
	return now.Sub(ts) > e.CacheTime
}

// Table is a mapping from query key to Entry, as carried inside the
// observable store's S.queryCache field.
type Table[D any] map[string]*Entry[D]

// Prune removes every entry whose elapsed time since its last meaningful
// timestamp exceeds its recorded CacheTime, except keepKeys. Pruning never
// removes an entry whose CacheTime is infinite (a non-positive CacheTime
// never reports Expired); fetchcoord.Coordinator also skips calling Prune
// entirely when the cache time of the write is infinite.
func Prune[D any](table Table[D], now time.Time, keepKeys ...string) {
	keep := make(map[string]struct{}, len(keepKeys))
	for _, k := range keepKeys {
		keep[k] = struct{}{}
	}
	for key, entry := range table {
		if _, ok := keep[key]; ok {
			continue
		}
		if entry.Expired(now) {
			delete(table, key)
		}
	}
}

// GetData returns the cached data for key honoring expiry, mirroring
// spec.md §4.5 getData: absent entry or non-fresh cacheTime yields
// (zero, false).
func GetData[D any](table Table[D], key string, now time.Time) (D, bool) {
	var zero D
	entry, ok := table[key]
	if !ok || !entry.HasData {
		return zero, false
	}
	if entry.CacheTime > 0 && entry.Expired(now) {
		return zero, false
	}
	return entry.Data, true
}

// GetDataKeepPrevious returns cached data for key ignoring expiry, used
// when keepPreviousData is enabled (spec.md §4.5).
func GetDataKeepPrevious[D any](table Table[D], key string) (D, bool) {
	var zero D
	entry, ok := table[key]
	if !ok || !entry.HasData {
		return zero, false
	}
	return entry.Data, true
}

// IsStale reports whether the entry for key is stale relative to
// staleTime: stale if there is no LastFetchedAt, or if it is older than
// staleTime.
func IsStale[D any](table Table[D], key string, staleTime time.Duration, now time.Time) bool {
	entry, ok := table[key]
	if !ok || !entry.HasLastFetchedAt {
		return true
	}
	return now.Sub(entry.LastFetchedAt) >= staleTime
}

// IsExpired reports whether the entry for key is expired relative to
// cacheTime, per the same absence-is-expired rule as IsStale.
func IsExpired[D any](table Table[D], key string, cacheTime time.Duration, now time.Time) bool {
	entry, ok := table[key]
	if !ok || !entry.HasLastFetchedAt {
		return true
	}
	return now.Sub(entry.LastFetchedAt) > cacheTime
}

// HasUnresolvedError reports whether key's entry carries an error that has
// not yet exhausted its retries (retryCount < maxRetries). An unresolved
// error disqualifies an otherwise-fresh entry from being treated as fresh,
// per spec.md §4.3 step 5.
func HasUnresolvedError[D any](table Table[D], key string, maxRetries int) bool {
	entry, ok := table[key]
	if !ok || entry.ErrorInfo == nil {
		return false
	}
	return entry.ErrorInfo.RetryCount < maxRetries
}
