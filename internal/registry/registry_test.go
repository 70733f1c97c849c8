package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	swept int
}

func (c *countingSweeper) PruneNow(time.Time) {
	c.swept++
}

func TestRegisterAndUnregister(t *testing.T) {
	r, err := New("@every 1h", nil)
	require.NoError(t, err)

	s := &countingSweeper{}
	unregister := r.Register("store-1", s)
	assert.Equal(t, 1, r.Count())

	unregister()
	assert.Equal(t, 0, r.Count())
}

func TestSweepInvokesEveryRegisteredStore(t *testing.T) {
	r, err := New("@every 1h", nil)
	require.NoError(t, err)

	a := &countingSweeper{}
	b := &countingSweeper{}
	r.Register("a", a)
	r.Register("b", b)

	r.sweep()

	assert.Equal(t, 1, a.swept)
	assert.Equal(t, 1, b.swept)
}
