package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cell is a minimal AttachValue for tests.
type cell struct {
	value     any
	listeners []func(any)
}

func (c *cell) Value() any { return c.value }

func (c *cell) Subscribe(listener func(any)) func() {
	c.listeners = append(c.listeners, listener)
	idx := len(c.listeners) - 1
	return func() { c.listeners[idx] = nil }
}

func (c *cell) set(v any) {
	c.value = v
	for _, l := range c.listeners {
		if l != nil {
			l(v)
		}
	}
}

func TestResolverStaticAndReactiveSources(t *testing.T) {
	sport := &cell{value: "run"}

	var changes []map[string]any
	r := NewResolver(
		map[string]Source{
			"id":    Static("42"),
			"sport": Reactive(func() AttachValue { return sport }),
		},
		StaticEnabled(true),
		func(next map[string]any) { changes = append(changes, next) },
		nil,
	)
	defer r.Close()

	current := r.Current()
	assert.Equal(t, "42", current["id"])
	assert.Equal(t, "run", current["sport"])
	assert.True(t, r.InitialEnabled())

	sport.set("bike")
	require.Len(t, changes, 1)
	assert.Equal(t, "bike", changes[0]["sport"])
	assert.Equal(t, "bike", r.Current()["sport"])
}

func TestResolverIgnoresDeepEqualNoop(t *testing.T) {
	sport := &cell{value: "run"}
	var calls int
	r := NewResolver(
		map[string]Source{"sport": Reactive(func() AttachValue { return sport })},
		StaticEnabled(true),
		func(map[string]any) { calls++ },
		nil,
	)
	defer r.Close()

	sport.set("run")
	assert.Equal(t, 0, calls)
}

func TestResolverReactiveEnabled(t *testing.T) {
	enabled := &cell{value: false}
	var got []bool
	r := NewResolver(
		map[string]Source{},
		ReactiveEnabled(func() AttachValue { return enabled }),
		nil,
		func(v bool) { got = append(got, v) },
	)
	defer r.Close()

	assert.False(t, r.InitialEnabled())

	enabled.set(true)
	require.Len(t, got, 1)
	assert.True(t, got[0])
}

func TestResolverCloseUnsubscribes(t *testing.T) {
	sport := &cell{value: "run"}
	var calls int
	r := NewResolver(
		map[string]Source{"sport": Reactive(func() AttachValue { return sport })},
		StaticEnabled(true),
		func(map[string]any) { calls++ },
		nil,
	)

	r.Close()
	sport.set("bike")
	assert.Equal(t, 0, calls)
}

func TestCurrentReturnsACopy(t *testing.T) {
	r := NewResolver(
		map[string]Source{"id": Static("1")},
		StaticEnabled(true),
		nil,
		nil,
	)
	defer r.Close()

	snapshot := r.Current()
	snapshot["id"] = "mutated"

	assert.Equal(t, "1", r.Current()["id"])
}
