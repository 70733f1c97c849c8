// Package scheduler computes the pure delay arithmetic behind the fetch
// coordinator's single timer slot (spec.md §4.4). It deliberately has no
// knowledge of timers, goroutines, or the coordinator itself — the
// coordinator owns the one "activeRefetchTimer" slot and re-enters itself
// through Fetch when a timer fires, per spec.md §9 ("Timer identity").
package scheduler

import "time"

// Forever marks a stale/cache time as infinite: the entry never goes stale
// or expired, and no refetch/prune should ever be scheduled for it. Real
// stale/cache times are always a positive time.Duration, so a negative
// sentinel is unambiguous.
const Forever time.Duration = -1

// ShouldScheduleRefetch reports whether a refetch timer should be armed at
// all, per spec.md §4.4: no-op if auto-refetch is disabled or the
// effective stale time is <= 0 or infinite.
func ShouldScheduleRefetch(autoRefetchDisabled bool, staleTime time.Duration) bool {
	if autoRefetchDisabled {
		return false
	}
	if staleTime == Forever || staleTime <= 0 {
		return false
	}
	return true
}

// NextRefetchDelay computes delay = max(0, staleTime - (now - lastFetchedAt)),
// or staleTime itself when there is no lastFetchedAt yet.
func NextRefetchDelay(staleTime time.Duration, lastFetchedAt time.Time, hasLastFetchedAt bool, now time.Time) time.Duration {
	if !hasLastFetchedAt {
		return staleTime
	}
	elapsed := now.Sub(lastFetchedAt)
	delay := staleTime - elapsed
	if delay < 0 {
		return 0
	}
	return delay
}

// ShouldScheduleRetry reports whether a retry timer should be armed:
// retryCount must still be below maxRetries, there must be at least one
// subscriber, and the computed delay must not be infinite.
func ShouldScheduleRetry(retryCount, maxRetries, subscriberCount int, delay time.Duration) bool {
	if retryCount >= maxRetries {
		return false
	}
	if subscriberCount <= 0 {
		return false
	}
	if delay == Forever {
		return false
	}
	return true
}
