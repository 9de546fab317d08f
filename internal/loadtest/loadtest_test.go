package loadtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, scenario Scenario) *Env {
	t.Helper()
	env, err := Setup(filepath.Join(t.TempDir(), "load.db"), scenario, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func TestSetup_Validation(t *testing.T) {
	dir := t.TempDir()
	for _, s := range []Scenario{
		{Resources: 0, Pages: 1, PageSize: 1},
		{Resources: 1, Pages: 0, PageSize: 1},
		{Resources: 1, Pages: 1, PageSize: 0},
		{Resources: 1, Pages: 1, PageSize: 1, Latency: -time.Second},
	} {
		_, err := Setup(filepath.Join(dir, "x.db"), s, nil)
		assert.Error(t, err, "%+v", s)
	}
}

func TestSingleCaller_PagesEverything(t *testing.T) {
	env := setup(t, Scenario{Resources: 3, Pages: 4, PageSize: 5})
	assert.Len(t, env.Coord.Participants(), 3)

	stats, err := env.RunConcurrentSyncs(1, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TotalSyncs)
	assert.Equal(t, 1, stats.Executions)
	assert.Zero(t, stats.RetryNeeded)
	assert.Zero(t, stats.Errors)
	// All resources page in step, one call per page.
	assert.Equal(t, int64(4), stats.Calls)

	require.NoError(t, env.VerifyCache(context.Background()))
}

func TestSinglePage_NoCursor(t *testing.T) {
	env := setup(t, Scenario{Resources: 2, Pages: 1, PageSize: 3})

	_, err := env.RunConcurrentSyncs(1, 1)
	require.NoError(t, err)
	require.NoError(t, env.VerifyCache(context.Background()))
}

func TestConcurrentCallersShareExecutions(t *testing.T) {
	env := setup(t, Scenario{Resources: 5, Pages: 3, PageSize: 10, Latency: 20 * time.Millisecond})

	stats, err := env.RunConcurrentSyncs(20, 2)
	require.NoError(t, err)

	assert.Equal(t, 40, stats.TotalSyncs)
	assert.Zero(t, stats.Errors)
	assert.Zero(t, stats.RetryNeeded)
	assert.GreaterOrEqual(t, stats.Executions, 1)
	assert.Less(t, stats.Executions, stats.TotalSyncs, "concurrent callers should join running executions")

	require.NoError(t, env.VerifyCache(context.Background()))
}

func TestResumesFromLastPage(t *testing.T) {
	env := setup(t, Scenario{Resources: 2, Pages: 3, PageSize: 2})

	_, err := env.RunConcurrentSyncs(1, 1)
	require.NoError(t, err)

	// The stored cursor points at the last page, so a second sync is one call.
	stats, err := env.RunConcurrentSyncs(1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Calls)

	require.NoError(t, env.VerifyCache(context.Background()))
}

func TestComputeLatencyStats(t *testing.T) {
	durations := make([]time.Duration, 0, 100)
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)
	assert.Equal(t, time.Millisecond, stats.Min)
	assert.Equal(t, 100*time.Millisecond, stats.Max)
	assert.Equal(t, 51*time.Millisecond, stats.P50)
	assert.Equal(t, 96*time.Millisecond, stats.P95)
	assert.Equal(t, 100*time.Millisecond, stats.P99)
	assert.Equal(t, 100, stats.TotalSyncs)

	assert.Equal(t, &LatencyStats{}, computeLatencyStats(nil))
}
