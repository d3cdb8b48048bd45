package suppliers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeadTimeStatsRunningMean(t *testing.T) {
	stats := LeadTimeStats{}

	stats = stats.Observe(10)
	require.Equal(t, int64(1), stats.Count)
	require.InDelta(t, 10.0, stats.AvgDays, 1e-9)

	stats = stats.Observe(20)
	require.Equal(t, int64(2), stats.Count)
	require.InDelta(t, 15.0, stats.AvgDays, 1e-9)

	stats = stats.Observe(6)
	require.Equal(t, int64(3), stats.Count)
	require.InDelta(t, 12.0, stats.AvgDays, 1e-9)
}

func TestLeadTimeStatsSingleObservation(t *testing.T) {
	stats := LeadTimeStats{Count: 4, AvgDays: 8}

	stats = stats.Observe(8)
	require.Equal(t, int64(5), stats.Count)
	require.InDelta(t, 8.0, stats.AvgDays, 1e-9)
}
