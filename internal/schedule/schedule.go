// Package schedule runs periodic jobs identified by a stable ID.
//
// Registering a job whose ID is already known replaces its interval and run
// func in place; it never starts a second loop. A job reporting an error is
// retried sooner than its interval, on an exponential backoff that resets on
// the next success.
package schedule

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DefaultInitialBackoff is the first retry delay after a failed run.
const DefaultInitialBackoff = 30 * time.Second

// Job is one periodic unit of work.
type Job struct {
	// ID identifies the job across registrations.
	ID string

	// Interval between successful runs.
	Interval time.Duration

	// Run does the work. A non-nil error schedules a backoff retry.
	Run func(ctx context.Context) error

	// Connected gates each tick; the tick is skipped when it returns false.
	// Nil means always connected.
	Connected func() bool

	// Immediate runs the job once right after the first registration.
	Immediate bool
}

// Config holds scheduler settings.
type Config struct {
	// Logger for scheduling activity (default: no-op).
	Logger *zap.Logger

	// InitialBackoff is the first retry delay (default: DefaultInitialBackoff).
	InitialBackoff time.Duration

	// MaxBackoff caps the retry delay (default: the job interval). It never
	// exceeds the job interval.
	MaxBackoff time.Duration
}

// Scheduler owns one goroutine per registered job.
type Scheduler struct {
	config Config
	logger *zap.Logger

	mu   sync.Mutex
	jobs map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type entry struct {
	job     Job
	changed chan struct{}
	cancel  context.CancelFunc
}

// New creates a scheduler.
func New(config *Config) *Scheduler {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config: cfg,
		logger: cfg.Logger.Named("schedule"),
		jobs:   make(map[string]*entry),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds job, or replaces the job with the same ID. It reports
// whether an existing job was replaced.
func (s *Scheduler) Register(job Job) (bool, error) {
	if job.ID == "" {
		return false, fmt.Errorf("job id cannot be empty")
	}
	if job.Interval <= 0 {
		return false, fmt.Errorf("job %s: interval must be positive", job.ID)
	}
	if job.Run == nil {
		return false, fmt.Errorf("job %s: run func cannot be nil", job.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return false, fmt.Errorf("scheduler stopped")
	}

	if e, ok := s.jobs[job.ID]; ok {
		e.job = job
		select {
		case e.changed <- struct{}{}:
		default:
		}
		s.logger.Debug("job replaced", zap.String("job", job.ID), zap.Duration("interval", job.Interval))
		return true, nil
	}

	ctx, cancel := context.WithCancel(s.ctx)
	e := &entry{job: job, changed: make(chan struct{}, 1), cancel: cancel}
	s.jobs[job.ID] = e

	s.wg.Add(1)
	go s.loop(ctx, job.ID, e)

	s.logger.Info("job registered", zap.String("job", job.ID), zap.Duration("interval", job.Interval))
	return false, nil
}

// Cancel stops and removes the job. It reports whether the job existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return false
	}
	e.cancel()
	delete(s.jobs, id)
	return true
}

// Jobs returns the registered job IDs, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop cancels every job and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.jobs = make(map[string]*entry)
	s.mu.Unlock()
}

func (s *Scheduler) current(e *entry) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.job
}

func (s *Scheduler) loop(ctx context.Context, id string, e *entry) {
	defer s.wg.Done()

	logger := s.logger.With(zap.String("job", id))
	job := s.current(e)
	bo := s.newBackoff(job.Interval)

	first := job.Interval
	if job.Immediate {
		first = 0
	}
	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-e.changed:
			job = s.current(e)
			bo = s.newBackoff(job.Interval)
			resetTimer(timer, job.Interval)

		case <-timer.C:
			job = s.current(e)
			next := job.Interval

			switch {
			case job.Connected != nil && !job.Connected():
				logger.Debug("offline, skipping run")
			default:
				if err := s.run(ctx, job); err != nil {
					if ctx.Err() != nil {
						return
					}
					delay := bo.NextBackOff()
					if delay != backoff.Stop && delay < next {
						next = delay
					}
					logger.Warn("run failed, retrying", zap.Duration("retry_in", next), zap.Error(err))
				} else {
					bo.Reset()
				}
			}
			timer.Reset(next)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}

func (s *Scheduler) newBackoff(interval time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.config.InitialBackoff
	bo.MaxInterval = interval
	if s.config.MaxBackoff > 0 && s.config.MaxBackoff < interval {
		bo.MaxInterval = s.config.MaxBackoff
	}
	if bo.InitialInterval > bo.MaxInterval {
		bo.InitialInterval = bo.MaxInterval
	}
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// Reachable returns a connectivity check that dials the host of endpoint.
func Reachable(endpoint string, timeout time.Duration) (func() bool, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse endpoint: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint %q has no host", endpoint)
	}

	addr := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}

	return func() bool {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, nil
}
