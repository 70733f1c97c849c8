package persistence

import (
	"context"
	"time"
)

// SessionStore is the subset of alexedwards/scs/v2's Store interface
// (the one its redisstore/postgresstore backends implement) that
// SessionAdapter needs. Depending on this narrow interface rather than a
// concrete scs backend lets SessionAdapter sit on top of whichever scs
// store the host application already has configured.
type SessionStore interface {
	Find(token string) (b []byte, exists bool, err error)
	Commit(token string, b []byte, expiry time.Time) error
	Delete(token string) error
}

// SessionAdapter persists a snapshot inside an existing scs session store,
// keyed by slot the same way scs keys session data by token. Grounded on
// the teacher's cmd/api/main.go, which already wires an
// *github.com/alexedwards/scs/v2.SessionManager with its own Store; this
// adapter lets a queryflux Store ride along inside that same backend
// instead of requiring a dedicated one.
type SessionAdapter struct {
	store SessionStore
	ttl   time.Duration
}

// NewSessionAdapter wraps store. ttl is the expiry passed to Commit; scs
// backends treat it as a hard eviction deadline, independent of this
// module's own cache-time pruning.
func NewSessionAdapter(store SessionStore, ttl time.Duration) *SessionAdapter {
	return &SessionAdapter{store: store, ttl: ttl}
}

// Load implements Adapter.
func (a *SessionAdapter) Load(_ context.Context, slot string) ([]byte, bool, error) {
	data, ok, err := a.store.Find(slot)
	if err != nil {
		return nil, false, err
	}
	return data, ok, nil
}

// Save implements Adapter.
func (a *SessionAdapter) Save(_ context.Context, slot string, data []byte) error {
	return a.store.Commit(slot, data, time.Now().Add(a.ttl))
}
