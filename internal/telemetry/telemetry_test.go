package telemetry

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLoggerIncludesStoreAndQueryKey(t *testing.T) {
	var buf bytes.Buffer
	l := New(zerolog.New(&buf))

	l.Info("athletes", `["id","1"]`, "fetch succeeded")

	out := buf.String()
	assert.True(t, strings.Contains(out, "athletes"))
	assert.True(t, strings.Contains(out, "fetch succeeded"))
}

func TestLoggerWarnIncludesError(t *testing.T) {
	var buf bytes.Buffer
	l := New(zerolog.New(&buf))

	l.Warn("athletes", `["id","1"]`, errors.New("boom"), "fetch failed")

	assert.Contains(t, buf.String(), "boom")
}

func TestNopLoggerDiscardsOutput(t *testing.T) {
	l := Nop()
	assert.NotPanics(t, func() {
		l.Debug("s", "k", "msg")
		l.Error("s", "k", errors.New("x"), "msg")
	})
}
