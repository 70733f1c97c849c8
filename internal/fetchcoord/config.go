package fetchcoord

import (
	"time"

	"github.com/colinmarsh/queryflux/internal/abortctl"
	"github.com/colinmarsh/queryflux/internal/clock"
	"github.com/colinmarsh/queryflux/internal/telemetry"
)

// SetFunc lets a callback push an additional state update through the
// same atomic path the coordinator itself uses.
type SetFunc[D any] func(updater func(State[D]) State[D])

// FetchFunc lets a callback (onFetched) trigger another fetch.
type FetchFunc[D any] func(params map[string]any, opts FetchOptions) *Future[D]

// OnFetchedArgs is passed to the optional onFetched callback.
type OnFetchedArgs[D any] struct {
	Data   D
	Params map[string]any
	Set    SetFunc[D]
	Fetch  FetchFunc[D]
}

// SetDataArgs is passed to the optional setData callback, which takes over
// data placement entirely (spec.md §4.3 step 5).
type SetDataArgs[D any] struct {
	Data     D
	Params   map[string]any
	QueryKey string
	Set      SetFunc[D]
}

// Config is the coordinator's full configuration, matching the closed set
// in spec.md §6.
type Config[D any] struct {
	StoreID string

	// Fetcher receives the resolved params and, when AbortInterruptedFetches
	// is enabled and the call is not a skip-store-updates probe, a non-nil
	// abort handle it should observe cooperatively (abort.Done() /
	// abort.Aborted()). Otherwise abort is nil.
	Fetcher func(params map[string]any, abort *abortctl.Handle) (D, error)
	Transform func(raw D, params map[string]any) (D, error)
	OnFetched func(OnFetchedArgs[D])
	OnError   func(err error, retryCount int)
	SetData   func(SetDataArgs[D])

	DefaultStaleTime time.Duration
	DefaultCacheTime func(params map[string]any) time.Duration

	MaxRetries int
	RetryDelay func(retryCount int, err error) time.Duration

	AbortInterruptedFetches bool
	DisableAutoRefetching   bool
	DisableCache            bool
	KeepPreviousData        bool

	Clock  clock.Clock
	Logger telemetry.Logger
}
