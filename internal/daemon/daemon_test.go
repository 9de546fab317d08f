package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/syncpoint/internal/dashboard"
	"github.com/steveyegge/syncpoint/internal/metrics"
	"github.com/steveyegge/syncpoint/internal/query"
	"github.com/steveyegge/syncpoint/internal/store"
	spsync "github.com/steveyegge/syncpoint/internal/sync"
)

const oneResource = `
resources:
  - name: experiences
    body: "experiences { nodes { id } }"
`

const twoResources = `
resources:
  - name: experiences
    body: "experiences { nodes { id } }"
  - name: campaigns
    body: "campaigns { nodes { id } }"
`

// echoServer answers every request with one node named after the query.
func echoServer(_ context.Context, requests []query.Request) ([]byte, error) {
	parts := make([]string, 0, len(requests))
	for _, r := range requests {
		parts = append(parts, fmt.Sprintf(`%q: {"nodes": [{"id": "%s-1"}]}`, r.Query.Name, r.Query.Name))
	}
	return []byte(`{"data": {` + strings.Join(parts, ",") + `}}`), nil
}

func openTestStore(t *testing.T) *store.DB {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.InitSchema())
	return db
}

func writeManifest(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// runDaemon starts d in the background and returns a func that stops it and
// returns Start's error.
func runDaemon(t *testing.T, d *Daemon) func() error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	stopped := false
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("daemon did not stop")
			return nil
		}
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func countRecords(t *testing.T, db *store.DB) map[string]int {
	t.Helper()
	counts, err := db.CountRecords(context.Background())
	require.NoError(t, err)
	return counts
}

func TestNewWithConfig_Validation(t *testing.T) {
	db := openTestStore(t)
	coord := spsync.New(spsync.ExecutorFunc(echoServer), nil)
	defer coord.Close()

	_, err := NewWithConfig(nil, coord, nil)
	assert.Error(t, err)

	_, err = NewWithConfig(db, nil, nil)
	assert.Error(t, err)

	d, err := New(db, coord)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d.config.Interval)
	assert.Nil(t, d.watcher)
	require.NoError(t, d.Stop())
}

func TestDaemon_SyncsAndRecordsRuns(t *testing.T) {
	db := openTestStore(t)
	manifest := filepath.Join(t.TempDir(), "resources.yaml")
	writeManifest(t, manifest, oneResource)

	m := metrics.New()
	coord := spsync.New(spsync.ExecutorFunc(echoServer), nil)
	d, err := NewWithConfig(db, coord, &Config{
		ManifestPath: manifest,
		Interval:     time.Hour,
		Metrics:      m,
	})
	require.NoError(t, err)

	stop := runDaemon(t, d)

	require.Eventually(t, func() bool {
		runs, err := db.RecentRuns(context.Background(), 0)
		return err == nil && len(runs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, map[string]int{"experiences": 1}, countRecords(t, db))
	assert.Equal(t, []string{"experiences"}, d.Resources())

	last, err := db.LastRun(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "succeeded", last.Status)
	assert.Equal(t, 1, last.Rounds)
	assert.Equal(t, map[string]string{"experiences": "new_data"}, last.Participants)

	require.NoError(t, stop())
}

func TestDaemon_RegistersResourcesAddedToManifest(t *testing.T) {
	db := openTestStore(t)
	manifest := filepath.Join(t.TempDir(), "resources.yaml")
	writeManifest(t, manifest, oneResource)

	coord := spsync.New(spsync.ExecutorFunc(echoServer), nil)
	d, err := NewWithConfig(db, coord, &Config{
		ManifestPath:     manifest,
		Interval:         time.Hour,
		DebounceInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	runDaemon(t, d)

	require.Eventually(t, func() bool {
		return countRecords(t, db)["experiences"] == 1
	}, 5*time.Second, 10*time.Millisecond)

	writeManifest(t, manifest, twoResources)

	// The new resource triggers a sync without waiting for the interval.
	require.Eventually(t, func() bool {
		return countRecords(t, db)["campaigns"] == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"campaigns", "experiences"}, d.Resources())
	assert.Len(t, coord.Participants(), 2)
}

func TestDaemon_InvalidManifestFailsStart(t *testing.T) {
	db := openTestStore(t)
	manifest := filepath.Join(t.TempDir(), "resources.yaml")
	writeManifest(t, manifest, "resources:\n  - name: 1bad\n    body: x\n")

	coord := spsync.New(spsync.ExecutorFunc(echoServer), nil)
	d, err := NewWithConfig(db, coord, &Config{ManifestPath: manifest})
	require.NoError(t, err)
	defer d.Stop()

	err = d.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial manifest load failed")
}

func TestDaemon_InvalidReloadKeepsResources(t *testing.T) {
	db := openTestStore(t)
	manifest := filepath.Join(t.TempDir(), "resources.yaml")
	writeManifest(t, manifest, oneResource)

	coord := spsync.New(spsync.ExecutorFunc(echoServer), nil)
	d, err := NewWithConfig(db, coord, &Config{ManifestPath: manifest})
	require.NoError(t, err)
	defer d.Stop()

	added, err := d.LoadManifest()
	require.NoError(t, err)
	assert.Equal(t, []string{"experiences"}, added)

	added, err = d.LoadManifest()
	require.NoError(t, err)
	assert.Empty(t, added)

	writeManifest(t, manifest, "resources: [")
	_, err = d.LoadManifest()
	assert.Error(t, err)
	assert.Equal(t, []string{"experiences"}, d.Resources())
	assert.Len(t, coord.Participants(), 1)
}

func TestDaemon_RetryNeededIsJobError(t *testing.T) {
	db := openTestStore(t)
	coord := spsync.New(spsync.ExecutorFunc(func(context.Context, []query.Request) ([]byte, error) {
		return nil, errors.New("offline")
	}), nil)
	d, err := New(db, coord)
	require.NoError(t, err)
	defer d.Stop()

	coord.Register(&single{name: "items"})

	err = d.runSync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline")
}

func TestDaemon_StopIsIdempotent(t *testing.T) {
	db := openTestStore(t)
	coord := spsync.New(spsync.ExecutorFunc(echoServer), nil)
	d, err := New(db, coord)
	require.NoError(t, err)

	stop := runDaemon(t, d)
	require.Eventually(t, func() bool {
		return len(d.scheduler.Jobs()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop())
	assert.NoError(t, stop())
}

func TestDaemon_ServesDashboard(t *testing.T) {
	db := openTestStore(t)
	coord := spsync.New(spsync.ExecutorFunc(echoServer), nil)
	coord.Register(&single{name: "items"})

	server := dashboard.NewServer(&dashboard.Config{Host: "127.0.0.1", Port: 0, Syncer: coord})
	d, err := NewWithConfig(db, coord, &Config{Dashboard: server})
	require.NoError(t, err)

	stop := runDaemon(t, d)

	// The job is registered after the dashboard is listening.
	require.Eventually(t, func() bool {
		return len(d.scheduler.Jobs()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, stop())

	_, err = http.Get("http://" + server.GetAddr() + "/health")
	assert.Error(t, err)
}

type single struct{ name string }

func (s *single) Name() string { return s.name }

func (s *single) InitialRequest(context.Context) *query.Request {
	return &query.Request{Query: query.Fragment{Name: s.name, Body: s.name + " { id }"}}
}

func (s *single) SaveResponse(context.Context, spsync.Data) spsync.Result {
	return spsync.NewData{}
}
