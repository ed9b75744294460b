package abort

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStaircaseShouldAbort(t *testing.T) {
	t.Parallel()

	s := NewStaircase(nil)
	tests := []struct {
		name    string
		count   int
		elapsed time.Duration
		want    bool
	}{
		{"before first step", 0, 14 * time.Minute, false},
		{"first step missed", 0, 15 * time.Minute, true},
		{"first step met", 1, 20 * time.Minute, false},
		{"second step missed", 4, 31 * time.Minute, true},
		{"second step met", 5, 31 * time.Minute, false},
		{"last step met", 182, 10 * time.Hour, false},
		{"last step missed", 181, 10 * time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, s.ShouldAbort(tt.count, tt.elapsed))
		})
	}
}

func TestStaircaseMonotonicInCount(t *testing.T) {
	t.Parallel()

	s := NewStaircase(nil)
	for elapsed := time.Duration(0); elapsed <= 3*time.Hour; elapsed += 5 * time.Minute {
		aborted := true
		for count := 0; count <= 250; count++ {
			got := s.ShouldAbort(count, elapsed)
			if !aborted {
				require.False(t, got, "count %d at %s aborts after a lower count did not", count, elapsed)
			}
			aborted = got
		}
	}
}

func TestStaircaseSortsSteps(t *testing.T) {
	t.Parallel()

	s := NewStaircase([]Step{{time.Hour, 10}, {time.Minute, 1}})
	require.True(t, s.ShouldAbort(0, 2*time.Minute))
	require.False(t, s.ShouldAbort(1, 2*time.Minute))
}

func TestWindow(t *testing.T) {
	t.Parallel()

	w := NewWindow(8, 10*time.Minute)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		require.False(t, w.Record(start.Add(time.Duration(i)*time.Minute)))
	}
	require.True(t, w.Record(start.Add(7*time.Minute)))

	later := start.Add(30 * time.Minute)
	require.Zero(t, w.Count(later))
	require.False(t, w.Record(later))
}
