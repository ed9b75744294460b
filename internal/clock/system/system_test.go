package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockNow(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	first := clk.Now()
	second := clk.Now()

	require.Equal(t, time.UTC, first.Location())
	require.True(t, first.After(before))
	require.False(t, second.Before(first))
}
