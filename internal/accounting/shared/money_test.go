package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRound2(t *testing.T) {
	require.InDelta(t, 85.00, Round2(84.999999), 0.0001)
	require.InDelta(t, 0.1, Round2(0.1+0.2-0.2), 0.0001)
	require.InDelta(t, -3.33, Round2(-3.3349), 0.0001)
}

func TestAmountsEqual(t *testing.T) {
	require.True(t, AmountsEqual(100.00, 100.009))
	require.True(t, AmountsEqual(0.1+0.2, 0.3))
	require.False(t, AmountsEqual(100.00, 100.01))
	require.False(t, AmountsEqual(100.00, 99.98))
}
