package fetchcoord

import (
	"context"
	"sync"
)

// Future is the Go stand-in for spec.md's "promise resolving to D | null":
// Fetch returns one immediately (non-blocking), and it settles once the
// fetch operation (or an abort) completes. Two Fetch calls that dedupe to
// the same in-flight key return the identical *Future pointer (spec.md §8,
// round-trip property: "Two successive fetch() calls with the same params
// while status is loading return the same promise object").
type Future[D any] struct {
	done chan struct{}
	once sync.Once
	data D
	ok   bool
}

func newFuture[D any]() *Future[D] {
	return &Future[D]{done: make(chan struct{})}
}

func (f *Future[D]) settle(data D, ok bool) {
	f.once.Do(func() {
		f.data, f.ok = data, ok
		close(f.done)
	})
}

// Wait blocks until the future settles or ctx is done. A canceled context
// reports (zero, false) without affecting the underlying fetch.
func (f *Future[D]) Wait(ctx context.Context) (D, bool) {
	select {
	case <-f.done:
		return f.data, f.ok
	case <-ctx.Done():
		var zero D
		return zero, false
	}
}

// WaitBlocking blocks unconditionally until the future settles.
func (f *Future[D]) WaitBlocking() (D, bool) {
	<-f.done
	return f.data, f.ok
}
