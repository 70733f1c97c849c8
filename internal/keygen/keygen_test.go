package keygen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQueryKeyIsOrderIndependent(t *testing.T) {
	a, err := BuildQueryKey(map[string]any{"id": "1", "sport": "run"})
	require.NoError(t, err)

	b, err := BuildQueryKey(map[string]any{"sport": "run", "id": "1"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestBuildQueryKeyDiffersOnValue(t *testing.T) {
	a, err := BuildQueryKey(map[string]any{"id": "1"})
	require.NoError(t, err)

	b, err := BuildQueryKey(map[string]any{"id": "2"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestBuildQueryKeyEmptyParams(t *testing.T) {
	key, err := BuildQueryKey(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "[]", key)
}

func TestBuildQueryKeyNilParams(t *testing.T) {
	key, err := BuildQueryKey(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", key)
}
