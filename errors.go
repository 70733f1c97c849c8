package queryflux

import (
	"time"

	"github.com/colinmarsh/queryflux/internal/abortctl"
	"github.com/colinmarsh/queryflux/internal/fetchcoord"
	"github.com/colinmarsh/queryflux/internal/scheduler"
)

// Forever marks a stale/cache time as infinite: the query never goes
// stale or expired, and no refetch or prune is ever scheduled for it.
const Forever time.Duration = scheduler.Forever

// ErrAborted is the sentinel a Fetcher can return (directly or wrapped in
// its own error) to signal the fetch was cooperatively cancelled rather
// than failed; it is matched with errors.Is and never wrapped in a
// FetcherError.
var ErrAborted = abortctl.ErrAborted

// FetcherError wraps any error returned by the configured Fetcher.
type FetcherError = fetchcoord.FetcherError

// TransformError wraps any error raised by a Transform callback.
type TransformError = fetchcoord.TransformError

// CallbackError wraps any error raised inside an OnFetched callback. It
// is logged and never surfaced through Store state.
type CallbackError = fetchcoord.CallbackError
