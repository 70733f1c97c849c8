// Package clock supplies queryflux's notion of monotonic time and
// cancelable one-shot timers. Nothing in the examples pack ships a virtual
// clock library, so this is deliberately a thin stdlib wrapper — see
// DESIGN.md for why no third-party clock was wired in instead.
package clock

import "time"

// Clock abstracts time.Now and time.AfterFunc so tests can run the
// scheduler and retry backoff deterministically without sleeping.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancelable one-shot timer handle.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired or was
	// already stopped.
	Stop() bool
}

// Real is the production Clock backed by the standard library.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }
