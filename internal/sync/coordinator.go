package sync

import (
	"context"
	"fmt"
	"reflect"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/steveyegge/syncpoint/internal/query"
)

// Executor sends the requests of one round as a single call and returns the
// raw response body. transport.Batch is the production implementation.
type Executor interface {
	Execute(ctx context.Context, requests []query.Request) ([]byte, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, requests []query.Request) ([]byte, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, requests []query.Request) ([]byte, error) {
	return f(ctx, requests)
}

// Config holds optional coordinator settings.
type Config struct {
	// Logger for coordinator activity (default: no-op).
	Logger *zap.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Coordinator drives sync executions over the registered participants.
//
// An execution runs rounds until no participant asks for another page: every
// active participant contributes one request, the requests go out as one
// merged call, and each participant consumes its slice of the response.
// At most one execution is in flight; concurrent Sync and Trigger calls join
// it and observe the same Outcome.
type Coordinator struct {
	executor Executor
	logger   *zap.Logger
	now      func() time.Time

	mu           stdsync.RWMutex
	participants []Participant
	registered   map[Participant]struct{}

	flight  singleflight.Group
	running atomic.Bool
	last    atomic.Pointer[Outcome]

	results *Feed[Outcome]
	updates *Feed[struct{}]

	ctx    context.Context
	cancel context.CancelFunc
}

const flightKey = "sync"

// pending is a participant that stays active for the next round.
type pending struct {
	participant Participant
	request     query.Request
}

// New creates a coordinator that sends rounds through executor.
func New(executor Executor, config *Config) *Coordinator {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		executor:   executor,
		logger:     logger.Named("coordinator"),
		now:        now,
		registered: make(map[Participant]struct{}),
		results:    newFeed[Outcome](),
		updates:    newFeed[struct{}](),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Register adds p to the registry and reports whether it was new. Adding
// the same participant twice is a no-op. The participant takes part from the
// next execution that starts.
func (c *Coordinator) Register(p Participant) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.registered[p]; ok {
		return false
	}
	c.registered[p] = struct{}{}
	c.participants = append(c.participants, p)

	c.logger.Debug("participant registered", zap.String("participant", p.Name()))
	return true
}

// Participants returns the registered participants in registration order.
func (c *Coordinator) Participants() []Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Participant, len(c.participants))
	copy(out, c.participants)
	return out
}

// Trigger starts an execution unless one is already in flight, and returns
// immediately.
func (c *Coordinator) Trigger() {
	c.start()
}

// Sync joins the in-flight execution, starting one if needed, and waits for
// its outcome. The returned error is non-nil only when ctx ends first; the
// execution itself keeps running for the other callers.
func (c *Coordinator) Sync(ctx context.Context) (Outcome, error) {
	select {
	case res := <-c.start():
		return res.Val.(Outcome), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// IsSyncing reports whether an execution is in flight.
func (c *Coordinator) IsSyncing() bool {
	return c.running.Load()
}

// LastOutcome returns the outcome of the most recent completed execution.
func (c *Coordinator) LastOutcome() (Outcome, bool) {
	o := c.last.Load()
	if o == nil {
		return Outcome{}, false
	}
	return *o, true
}

// Results is the feed of every execution's terminal outcome.
func (c *Coordinator) Results() *Feed[Outcome] {
	return c.results
}

// Updates emits once per execution that ended Succeeded.
func (c *Coordinator) Updates() *Feed[struct{}] {
	return c.updates
}

// Close cancels any in-flight transport call and closes the feeds. An
// execution interrupted this way ends RetryNeeded.
func (c *Coordinator) Close() {
	c.cancel()
	c.results.close()
	c.updates.close()
}

func (c *Coordinator) start() <-chan singleflight.Result {
	return c.flight.DoChan(flightKey, func() (any, error) {
		return c.run(), nil
	})
}

// run executes once and publishes the outcome. singleflight guarantees a
// single caller at a time; the running flag exposes that state.
func (c *Coordinator) run() Outcome {
	if !c.running.CompareAndSwap(false, true) {
		// Unreachable while every execution goes through start.
		panic("sync: concurrent execution")
	}
	defer c.running.Store(false)

	out := c.execute(c.ctx)

	c.last.Store(&out)
	if dropped := c.results.publish(out); dropped > 0 {
		c.logger.Warn("results subscribers lagging", zap.Int("dropped", dropped))
	}
	if out.Succeeded() {
		c.updates.publish(struct{}{})
	}
	return out
}

func (c *Coordinator) execute(ctx context.Context) Outcome {
	out := Outcome{
		ID:           uuid.NewString(),
		StartedAt:    c.now(),
		Participants: make(map[string]ResultKind),
	}
	logger := c.logger.With(zap.String("execution", out.ID))

	participants := c.Participants()
	logger.Info("sync started", zap.Int("participants", len(participants)))

	active := make([]pending, 0, len(participants))
	for _, p := range participants {
		req := c.initialRequest(ctx, logger, p)
		if req == nil {
			continue
		}
		active = append(active, pending{participant: p, request: *req})
	}

	for len(active) > 0 {
		out.Rounds++
		roundLog := logger.With(zap.Int("round", out.Rounds))
		roundLog.Debug("round started", zap.Int("active", len(active)))

		data, err := c.send(ctx, active)
		if err != nil {
			out.Status = RetryNeeded
			out.Err = err
			out.FinishedAt = c.now()
			logger.Warn("sync needs retry",
				zap.Int("rounds", out.Rounds),
				zap.Duration("elapsed", out.Duration()),
				zap.Error(err),
			)
			return out
		}

		next := make([]pending, 0, len(active))
		for _, a := range active {
			name := a.participant.Name()
			res := c.saveResponse(ctx, a.participant, data)
			out.Participants[name] = res.Kind()

			switch r := res.(type) {
			case NewData:
				if r.Next == nil {
					roundLog.Debug("participant complete", zap.String("participant", name))
					continue
				}
				if sameRequest(a.request, *r.Next) {
					roundLog.Warn("participant repeated its request, dropping",
						zap.String("participant", name))
					continue
				}
				next = append(next, pending{participant: a.participant, request: *r.Next})
			case NoData:
				roundLog.Debug("participant has no data", zap.String("participant", name))
			case Failed:
				roundLog.Warn("participant failed", zap.String("participant", name), zap.Error(r.Err))
			default:
				roundLog.Warn("participant returned unknown result, dropping",
					zap.String("participant", name), zap.String("type", fmt.Sprintf("%T", res)))
			}
		}
		active = next
	}

	out.Status = Succeeded
	out.FinishedAt = c.now()
	logger.Info("sync succeeded",
		zap.Int("rounds", out.Rounds),
		zap.Duration("elapsed", out.Duration()),
	)
	return out
}

func (c *Coordinator) send(ctx context.Context, active []pending) (Data, error) {
	requests := make([]query.Request, len(active))
	for i, a := range active {
		requests[i] = a.request
	}

	body, err := c.executor.Execute(ctx, requests)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(body)
}

func (c *Coordinator) initialRequest(ctx context.Context, logger *zap.Logger, p Participant) (req *query.Request) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("participant panicked building request",
				zap.String("participant", p.Name()), zap.Any("panic", r))
			req = nil
		}
	}()
	return p.InitialRequest(ctx)
}

func (c *Coordinator) saveResponse(ctx context.Context, p Participant, data Data) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failed{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	res = p.SaveResponse(ctx, data)
	if res == nil {
		return Failed{Err: fmt.Errorf("participant %s returned no result", p.Name())}
	}
	return res
}

// sameRequest reports whether next would fetch exactly what current fetched.
func sameRequest(current, next query.Request) bool {
	return current.Query.Name == next.Query.Name &&
		current.Query.Body == next.Query.Body &&
		reflect.DeepEqual(current.Variables, next.Variables)
}
