// Package queryflux is a reactive, cache-backed query engine: it
// deduplicates concurrent fetches for the same parameters, keeps a
// per-query-key cache with stale/expire clocks, retries failed fetches
// with backoff, supports cooperative abort of interrupted fetches, and
// re-runs queries automatically when their reactive parameters change.
//
// A Store is constructed once per logical query (e.g. "athlete workouts")
// and is safe for concurrent use by many subscribers. Subscribing arms
// the store's fetch scheduling; the last unsubscribe disarms it.
package queryflux
