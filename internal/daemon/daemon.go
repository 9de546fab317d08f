// Package daemon hosts the sync coordinator as a long-running process.
//
// The daemon:
//  1. Registers every resource in the manifest as a paging participant
//  2. Runs a sync on a fixed interval, backing off after failed executions
//  3. Watches the manifest and registers resources added while running
//  4. Records every execution in the store and in metrics
//  5. Optionally serves the dashboard
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/syncpoint/internal/dashboard"
	"github.com/steveyegge/syncpoint/internal/metrics"
	"github.com/steveyegge/syncpoint/internal/paging"
	"github.com/steveyegge/syncpoint/internal/resource"
	"github.com/steveyegge/syncpoint/internal/schedule"
	"github.com/steveyegge/syncpoint/internal/store"
	spsync "github.com/steveyegge/syncpoint/internal/sync"
)

// JobID is the scheduler identifier of the periodic sync.
const JobID = "syncpoint.sync"

// Config holds configuration for the daemon.
type Config struct {
	// ManifestPath is the resource manifest. Empty means participants are
	// registered on the coordinator by the caller and nothing is watched.
	ManifestPath string

	// Interval between periodic syncs.
	Interval time.Duration

	// DebounceInterval is how long the manifest must be quiet before it is
	// reloaded.
	DebounceInterval time.Duration

	// InitialBackoff and MaxBackoff bound the retry delay after a failed
	// execution (see schedule.Config).
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Connected gates each periodic sync. Nil means always connected.
	Connected func() bool

	// Metrics records execution outcomes when set.
	Metrics *metrics.Metrics

	// Dashboard is started and stopped with the daemon when set.
	Dashboard *dashboard.Server

	// Logger for daemon activity (default: no-op).
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         time.Hour,
		DebounceInterval: 100 * time.Millisecond,
		InitialBackoff:   schedule.DefaultInitialBackoff,
	}
}

// Daemon drives a coordinator on a schedule and keeps its participant set in
// step with the manifest. The daemon owns the coordinator: Stop closes it.
type Daemon struct {
	db        *store.DB
	coord     *spsync.Coordinator
	config    *Config
	logger    *zap.Logger
	scheduler *schedule.Scheduler
	watcher   *ManifestWatcher

	resourcesMu sync.Mutex
	resources   map[string]resource.Resource

	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	groupMu  sync.Mutex
	stopOnce sync.Once
	stopErr  error
}

// New creates a daemon with default configuration.
func New(db *store.DB, coord *spsync.Coordinator) (*Daemon, error) {
	return NewWithConfig(db, coord, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(db *store.DB, coord *spsync.Coordinator, config *Config) (*Daemon, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if coord == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var watcher *ManifestWatcher
	if config.ManifestPath != "" {
		w, err := NewManifestWatcher()
		if err != nil {
			return nil, err
		}
		watcher = w
	}

	if config.Metrics != nil {
		if err := config.Metrics.TrackSyncing(coord.IsSyncing); err != nil {
			if watcher != nil {
				_ = watcher.Stop()
			}
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		db:     db,
		coord:  coord,
		config: config,
		logger: logger.Named("daemon"),
		scheduler: schedule.New(&schedule.Config{
			Logger:         logger,
			InitialBackoff: config.InitialBackoff,
			MaxBackoff:     config.MaxBackoff,
		}),
		watcher:   watcher,
		resources: make(map[string]resource.Resource),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The manifest is loaded before anything else runs, so an invalid manifest
// fails Start. The first sync starts immediately.
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info("starting daemon",
		zap.Duration("interval", d.config.Interval),
		zap.String("manifest", d.config.ManifestPath))

	if d.watcher != nil {
		if _, err := d.LoadManifest(); err != nil {
			return fmt.Errorf("initial manifest load failed: %w", err)
		}
		if err := d.watcher.Start(d.config.ManifestPath); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(d.ctx)
	d.groupMu.Lock()
	d.group = g
	d.groupMu.Unlock()

	results, cancelResults := d.coord.Results().Subscribe(spsync.DefaultFeedBuffer)
	g.Go(func() error {
		defer cancelResults()
		d.recordRuns(gctx, results)
		return nil
	})

	if d.watcher != nil {
		g.Go(func() error {
			d.watchManifest(gctx)
			return nil
		})
	}

	if d.config.Dashboard != nil {
		if err := d.config.Dashboard.Start(); err != nil {
			_ = d.Stop()
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		handler := dashboard.NewHandler(d.config.Dashboard, d.logger)
		dashResults, cancelDashResults := d.coord.Results().Subscribe(spsync.DefaultFeedBuffer)
		dashUpdates, cancelDashUpdates := d.coord.Updates().Subscribe(spsync.DefaultFeedBuffer)
		g.Go(func() error {
			defer cancelDashResults()
			defer cancelDashUpdates()
			handler.Run(gctx, dashResults, dashUpdates)
			return nil
		})
	}

	if _, err := d.scheduler.Register(schedule.Job{
		ID:        JobID,
		Interval:  d.config.Interval,
		Run:       d.runSync,
		Connected: d.config.Connected,
		Immediate: true,
	}); err != nil {
		_ = d.Stop()
		return fmt.Errorf("failed to schedule sync: %w", err)
	}

	d.logger.Info("daemon started", zap.Int("participants", len(d.coord.Participants())))

	select {
	case <-ctx.Done():
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon and closes the coordinator.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.logger.Info("stopping daemon")

		d.scheduler.Stop()
		d.cancel()
		d.coord.Close()

		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				d.stopErr = err
			}
		}
		if d.config.Dashboard != nil {
			if err := d.config.Dashboard.Stop(); err != nil && d.stopErr == nil {
				d.stopErr = err
			}
		}

		d.groupMu.Lock()
		g := d.group
		d.groupMu.Unlock()
		if g != nil {
			_ = g.Wait()
		}

		d.logger.Info("daemon stopped")
	})
	return d.stopErr
}

// LoadManifest reads the manifest and registers every resource that is not
// registered yet. It returns the names it added.
//
// Resources already registered are left alone even when their definition
// changed; a changed definition takes effect on restart.
func (d *Daemon) LoadManifest() ([]string, error) {
	m, err := resource.LoadManifest(d.config.ManifestPath)
	if err != nil {
		return nil, err
	}

	d.resourcesMu.Lock()
	defer d.resourcesMu.Unlock()

	var added []string
	for _, r := range m.Resources {
		if prev, ok := d.resources[r.Name]; ok {
			if !reflect.DeepEqual(prev, r) {
				d.logger.Warn("resource definition changed, restart to apply",
					zap.String("resource", r.Name))
			}
			continue
		}

		p, err := paging.New[json.RawMessage](resource.NewAdapter(r, d.db), d.db.Cursors(), r.Cursor, d.logger)
		if err != nil {
			return added, fmt.Errorf("failed to build participant %s: %w", r.Name, err)
		}
		d.coord.Register(p)
		d.resources[r.Name] = r
		added = append(added, r.Name)
	}

	if len(added) > 0 {
		d.logger.Info("registered resources", zap.Strings("resources", added))
	}
	return added, nil
}

// Resources returns the names of the registered manifest resources, sorted.
func (d *Daemon) Resources() []string {
	d.resourcesMu.Lock()
	defer d.resourcesMu.Unlock()

	names := make([]string, 0, len(d.resources))
	for name := range d.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// runSync is the scheduled job. Only a RetryNeeded outcome is an error, so
// participant-level failures do not trigger the backoff.
func (d *Daemon) runSync(ctx context.Context) error {
	out, err := d.coord.Sync(ctx)
	if err != nil {
		return err
	}
	if !out.Succeeded() {
		return fmt.Errorf("sync %s needs retry: %w", out.ID, out.Err)
	}
	return nil
}

// recordRuns persists every outcome until ctx is done or the feed closes.
func (d *Daemon) recordRuns(ctx context.Context, results <-chan spsync.Outcome) {
	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-results:
			if !ok {
				return
			}
			d.record(out)
		}
	}
}

func (d *Daemon) record(out spsync.Outcome) {
	if d.config.Metrics != nil {
		d.config.Metrics.Observe(out)
	}

	run := RunRecord(out)

	// The daemon context may already be cancelled when the last outcome
	// arrives.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.db.RecordRun(ctx, run); err != nil {
		d.logger.Error("failed to record run", zap.String("id", out.ID), zap.Error(err))
	}
}

// RunRecord converts an outcome into its sync_runs row.
func RunRecord(out spsync.Outcome) store.Run {
	run := store.Run{
		ID:         out.ID,
		Status:     string(out.Status),
		Rounds:     out.Rounds,
		StartedAt:  out.StartedAt,
		FinishedAt: out.FinishedAt,
	}
	if out.Err != nil {
		run.Error = out.Err.Error()
	}
	if len(out.Participants) > 0 {
		run.Participants = make(map[string]string, len(out.Participants))
		for name, kind := range out.Participants {
			run.Participants[name] = string(kind)
		}
	}
	return run
}

// watchManifest reloads the manifest once changes settle for
// DebounceInterval. Newly added resources trigger a sync right away.
func (d *Daemon) watchManifest(ctx context.Context) {
	debounce := time.NewTimer(d.config.DebounceInterval)
	debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			debounce.Stop()
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			if event.Op == OpDelete {
				d.logger.Warn("manifest removed, keeping registered resources", zap.String("path", event.Path))
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(d.config.DebounceInterval)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.logger.Warn("manifest watcher error", zap.Error(err))

		case <-debounce.C:
			added, err := d.LoadManifest()
			if err != nil {
				d.logger.Warn("manifest reload failed", zap.Error(err))
			}
			if len(added) > 0 {
				d.coord.Trigger()
			}
		}
	}
}
