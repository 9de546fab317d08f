package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/syncpoint/internal/sync"
)

func TestObserve(t *testing.T) {
	m := New()
	start := time.Now()

	m.Observe(sync.Outcome{
		Status:       sync.Succeeded,
		Rounds:       2,
		StartedAt:    start,
		FinishedAt:   start.Add(time.Second),
		Participants: map[string]sync.ResultKind{"experiences": sync.KindNewData, "products": sync.KindFailed},
	})
	m.Observe(sync.Outcome{Status: sync.RetryNeeded, Rounds: 1, StartedAt: start, FinishedAt: start})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("retry_needed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.results.WithLabelValues("products", "failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.results))
}

func TestHandler(t *testing.T) {
	m := New()
	syncing := true
	require.NoError(t, m.TrackSyncing(func() bool { return syncing }))
	m.Observe(sync.Outcome{Status: sync.Succeeded})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `syncpoint_executions_total{status="succeeded"} 1`)
	assert.Contains(t, string(body), "syncpoint_syncing 1")

	assert.Error(t, m.TrackSyncing(func() bool { return false }), "second gauge collides")
}
