package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActiveSetOrdering(t *testing.T) {
	s := NewActiveSet([]int{3, 1, 2, 3})
	require.Equal(t, []int{1, 2, 3}, s.IDs())
	require.Equal(t, 3, s.Len())
	require.True(t, s.Contains(2))
	require.False(t, s.Contains(4))
}

func TestCursorRoundRobin(t *testing.T) {
	c := NewActiveSet([]int{1, 2, 3}).Cursor()
	var got []int
	for i := 0; i < 7; i++ {
		got = append(got, c.Next())
	}
	require.Equal(t, []int{1, 2, 3, 1, 2, 3, 1}, got)
}

func TestCursorIsASnapshot(t *testing.T) {
	s := NewActiveSet([]int{1, 2, 3})
	c := s.Cursor()
	require.NoError(t, s.Swap(2, 4))
	require.Equal(t, []int{1, 2, 3}, []int{c.Next(), c.Next(), c.Next()})

	// a fresh cursor starts from the lowest id again
	c = s.Cursor()
	require.Equal(t, []int{1, 3, 4, 1}, []int{c.Next(), c.Next(), c.Next(), c.Next()})
}

func TestSwap(t *testing.T) {
	s := NewActiveSet([]int{1, 2, 3})
	require.NoError(t, s.Swap(2, 4))
	require.Equal(t, []int{1, 3, 4}, s.IDs())

	require.Error(t, s.Swap(2, 5))
	require.Error(t, s.Swap(1, 3))
	require.Equal(t, []int{1, 3, 4}, s.IDs())
}
