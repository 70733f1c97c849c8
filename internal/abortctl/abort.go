// Package abortctl implements the one-shot cancellation token shared with
// the user-provided fetcher.
package abortctl

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrAborted is the sentinel error a fetcher (or the coordinator racing it)
// should produce to signal cooperative cancellation. The coordinator treats
// this — and any error whose Error() string is "AbortError" — as a no-op
// completion: no state change, no retry counter increment, no log.
// context.Canceled and context.DeadlineExceeded are not treated as aborts.
var ErrAborted = errors.New("AbortError")

// Handle is a one-shot cancellation token. It is safe to call Abort
// multiple times or from multiple goroutines; only the first call has an
// effect and closes Done().
type Handle struct {
	once sync.Once
	done chan struct{}
	id   string
}

// New returns an armed Handle, tagged with a fresh correlation ID so log
// lines from the fetcher and the coordinator racing it can be joined.
func New() *Handle {
	return &Handle{done: make(chan struct{}), id: uuid.NewString()}
}

// ID returns the handle's correlation ID.
func (h *Handle) ID() string {
	return h.id
}

// Abort cancels the handle. Safe to call more than once.
func (h *Handle) Abort() {
	h.once.Do(func() { close(h.done) })
}

// Done returns a channel that is closed once Abort has been called.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Aborted reports whether Abort has already been called.
func (h *Handle) Aborted() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// IsAbort reports whether err represents cooperative cancellation: the
// sentinel ErrAborted, or any error whose message equals "AbortError" (the
// name native AbortError implementations use across the ecosystems this
// engine's fetchers may wrap).
func IsAbort(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAborted) {
		return true
	}
	return err.Error() == "AbortError"
}
