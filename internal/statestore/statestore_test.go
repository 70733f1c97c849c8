package statestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSetState(t *testing.T) {
	s := New(0)
	assert.Equal(t, 0, s.GetState())

	s.SetState(func(v int) int { return v + 1 })
	assert.Equal(t, 1, s.GetState())
}

func TestSubscribeNotifiesOnEveryChange(t *testing.T) {
	s := New(0)
	var got []int
	unsubscribe := s.Subscribe(func(next, prev int) { got = append(got, next) })
	defer unsubscribe()

	s.SetState(func(v int) int { return v + 1 })
	s.SetState(func(v int) int { return v + 1 })

	assert.Equal(t, []int{1, 2}, got)
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	s := New(0)
	var calls int
	unsubscribe := s.Subscribe(func(next, prev int) { calls++ })

	s.SetState(func(v int) int { return v + 1 })
	unsubscribe()
	s.SetState(func(v int) int { return v + 1 })

	assert.Equal(t, 1, calls)
}

type pair struct {
	A int
	B string
}

func TestSubscribeSelectorOnlyFiresOnSelectedChange(t *testing.T) {
	s := New(pair{A: 1, B: "x"})
	var calls int
	unsubscribe := SubscribeSelector(s, func(p pair) int { return p.A }, func(int) { calls++ })
	defer unsubscribe()

	s.SetState(func(p pair) pair { p.B = "y"; return p })
	assert.Equal(t, 0, calls, "selector output unchanged, listener should not fire")

	s.SetState(func(p pair) pair { p.A = 2; return p })
	assert.Equal(t, 1, calls)
}
