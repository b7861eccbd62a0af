package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMinMax(t *testing.T) {
	require.Equal(t, 3, Min(3, 7))
	require.Equal(t, 7, Max(3, 7))
	require.Equal(t, uintptr(2), Min(uintptr(5), uintptr(2)))
}

func TestRounddownRoundup(t *testing.T) {
	require.Equal(t, 0x1000, Rounddown(0x1fff, 0x1000))
	require.Equal(t, 0x2000, Roundup(0x1001, 0x1000))
	require.Equal(t, 0x1000, Roundup(0x1000, 0x1000), "already-aligned value is unchanged")
}
