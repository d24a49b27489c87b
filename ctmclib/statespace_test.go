package ctmclib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateSpaceRavelRoundTrip(t *testing.T) {

	ss, ok := NewStateSpace([]int{2, 3, 4})
	require.True(t, ok)
	assert.Equal(t, 24, ss.Size())
	assert.Equal(t, 3, ss.NumVariables())

	st := make([]int, 3)
	for flat := 0; flat < ss.Size(); flat++ {
		ss.Unravel(flat, st)
		back, ok := ss.Ravel(st)
		require.True(t, ok)
		assert.Equal(t, flat, back)
		for v := range st {
			assert.Equal(t, st[v], ss.Coord(flat, v))
		}
	}
}

func TestStateSpaceRavelOrder(t *testing.T) {

	// Row-major: the last variable varies fastest.
	ss, ok := NewStateSpace([]int{2, 2})
	require.True(t, ok)

	for i, st := range [][]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}} {
		flat, ok := ss.Ravel(st)
		require.True(t, ok)
		assert.Equal(t, i, flat)
	}
}

func TestStateSpaceBounds(t *testing.T) {

	_, ok := NewStateSpace(nil)
	assert.False(t, ok)
	_, ok = NewStateSpace([]int{2, 0})
	assert.False(t, ok)

	ss, ok := NewStateSpace([]int{2, 3})
	require.True(t, ok)

	_, ok = ss.Ravel([]int{1})
	assert.False(t, ok)
	_, ok = ss.Ravel([]int{2, 0})
	assert.False(t, ok)
	_, ok = ss.Ravel([]int{0, -1})
	assert.False(t, ok)
}
