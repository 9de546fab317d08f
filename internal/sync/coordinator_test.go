package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/syncpoint/internal/query"
)

// fakeExecutor records every round and answers with respond.
type fakeExecutor struct {
	mu      stdsync.Mutex
	calls   [][]query.Request
	respond func(call int, requests []query.Request) ([]byte, error)

	// When block is set, Execute signals entered and waits for block to close.
	entered chan struct{}
	block   chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, requests []query.Request) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, requests)
	n := len(f.calls)
	f.mu.Unlock()

	if f.block != nil {
		if f.entered != nil {
			f.entered <- struct{}{}
		}
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.respond(n, requests)
}

func (f *fakeExecutor) Calls() [][]query.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]query.Request(nil), f.calls...)
}

// pager serves the test response shape {"items": [...], "next": "cursor"}.
// It asks for another round whenever "next" is non-empty.
type pager struct {
	name string

	mu    stdsync.Mutex
	saved []string
}

func (p *pager) Name() string { return p.name }

func (p *pager) request(after string) query.Request {
	return query.Request{
		Query: query.Fragment{
			Name:      p.name,
			Body:      p.name + "(after: $after) { items next }",
			Arguments: []query.Argument{{Name: "after", Type: "String"}},
		},
		Variables: map[string]any{"after": after},
	}
}

func (p *pager) InitialRequest(ctx context.Context) *query.Request {
	req := p.request("")
	return &req
}

func (p *pager) SaveResponse(ctx context.Context, data Data) Result {
	var slice struct {
		Items []string `json:"items"`
		Next  string   `json:"next"`
	}
	raw, ok := data[p.name]
	if !ok {
		return Failed{Err: fmt.Errorf("missing %s", p.name)}
	}
	if err := json.Unmarshal(raw, &slice); err != nil {
		return Failed{Err: err}
	}
	if len(slice.Items) == 0 {
		return NoData{}
	}

	p.mu.Lock()
	p.saved = append(p.saved, slice.Items...)
	p.mu.Unlock()

	if slice.Next == "" {
		return NewData{}
	}
	next := p.request(slice.Next)
	return NewData{Next: &next}
}

func (p *pager) Saved() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.saved...)
}

// scripted is a participant assembled from funcs.
type scripted struct {
	name    string
	initial func(ctx context.Context) *query.Request
	save    func(ctx context.Context, data Data) Result
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) InitialRequest(ctx context.Context) *query.Request {
	return s.initial(ctx)
}

func (s *scripted) SaveResponse(ctx context.Context, data Data) Result {
	return s.save(ctx, data)
}

func staticRequest(name string) func(context.Context) *query.Request {
	return func(context.Context) *query.Request {
		return &query.Request{Query: query.Fragment{Name: name, Body: name + " { id }"}}
	}
}

func reply(body string) func(int, []query.Request) ([]byte, error) {
	return func(int, []query.Request) ([]byte, error) {
		return []byte(body), nil
	}
}

func newTestCoordinator(t *testing.T, exec Executor) *Coordinator {
	t.Helper()
	c := New(exec, nil)
	t.Cleanup(c.Close)
	return c
}

func TestSync_EmptyRegistry(t *testing.T) {
	exec := &fakeExecutor{respond: reply(`{}`)}
	c := newTestCoordinator(t, exec)

	out, err := c.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Succeeded, out.Status)
	assert.Zero(t, out.Rounds)
	assert.Empty(t, exec.Calls())
	assert.NotEmpty(t, out.ID)
}

func TestSync_TwoParticipantsPaged(t *testing.T) {
	exec := &fakeExecutor{respond: func(call int, requests []query.Request) ([]byte, error) {
		switch call {
		case 1:
			return []byte(`{"data":{
				"experiences": {"items": ["e1", "e2"], "next": "c1"},
				"products": {"items": ["p1"], "next": ""}
			}}`), nil
		case 2:
			return []byte(`{"data":{"experiences": {"items": ["e3"], "next": ""}}}`), nil
		}
		return nil, fmt.Errorf("unexpected call %d", call)
	}}
	c := newTestCoordinator(t, exec)

	experiences := &pager{name: "experiences"}
	products := &pager{name: "products"}
	require.True(t, c.Register(experiences))
	require.True(t, c.Register(products))

	out, err := c.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Succeeded, out.Status)
	assert.Equal(t, 2, out.Rounds)
	assert.Equal(t, []string{"e1", "e2", "e3"}, experiences.Saved())
	assert.Equal(t, []string{"p1"}, products.Saved())

	calls := exec.Calls()
	require.Len(t, calls, 2)
	require.Len(t, calls[0], 2)
	assert.Equal(t, "experiences", calls[0][0].Query.Name)
	assert.Equal(t, "products", calls[0][1].Query.Name)

	require.Len(t, calls[1], 1)
	assert.Equal(t, "experiences", calls[1][0].Query.Name)
	assert.Equal(t, "c1", calls[1][0].Variables["after"])

	assert.Equal(t, map[string]ResultKind{
		"experiences": KindNewData,
		"products":    KindNewData,
	}, out.Participants)
}

func TestSync_ParticipantFailureIsolated(t *testing.T) {
	exec := &fakeExecutor{respond: func(call int, requests []query.Request) ([]byte, error) {
		if call == 1 {
			return []byte(`{"broken": "not an object", "good": {"items": ["g1"], "next": "c1"}}`), nil
		}
		return []byte(`{"good": {"items": ["g2"], "next": ""}}`), nil
	}}
	c := newTestCoordinator(t, exec)

	broken := &pager{name: "broken"}
	good := &pager{name: "good"}
	c.Register(broken)
	c.Register(good)

	out, err := c.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Succeeded, out.Status)
	assert.Equal(t, 2, out.Rounds)
	assert.Equal(t, KindFailed, out.Participants["broken"])
	assert.Equal(t, KindNewData, out.Participants["good"])
	assert.Equal(t, []string{"g1", "g2"}, good.Saved())
	assert.Empty(t, broken.Saved())
}

func TestSync_NoDataEndsParticipant(t *testing.T) {
	exec := &fakeExecutor{respond: reply(`{"data":{"empty":{"items":[]}}}`)}
	c := newTestCoordinator(t, exec)
	c.Register(&pager{name: "empty"})

	out, err := c.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Succeeded, out.Status)
	assert.Equal(t, 1, out.Rounds)
	assert.Equal(t, KindNoData, out.Participants["empty"])
}

func TestSync_RetryNeeded(t *testing.T) {
	transportErr := errors.New("connection refused")

	tests := []struct {
		name    string
		respond func(int, []query.Request) ([]byte, error)
		check   func(t *testing.T, err error)
	}{
		{
			name: "executor error",
			respond: func(int, []query.Request) ([]byte, error) {
				return nil, transportErr
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, transportErr)
			},
		},
		{
			name:    "malformed body",
			respond: reply(`<html>bad gateway</html>`),
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMalformedResponse)
			},
		},
		{
			name:    "top-level errors",
			respond: reply(`{"errors":[{"message":"rate limited"}],"data":null}`),
			check: func(t *testing.T, err error) {
				var gqlErr *GraphQLError
				require.ErrorAs(t, err, &gqlErr)
				assert.Equal(t, []string{"rate limited"}, gqlErr.Messages)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{respond: tt.respond}
			c := newTestCoordinator(t, exec)
			p := &pager{name: "experiences"}
			c.Register(p)

			out, err := c.Sync(context.Background())
			require.NoError(t, err)

			assert.Equal(t, RetryNeeded, out.Status)
			assert.Equal(t, 1, out.Rounds)
			assert.Empty(t, p.Saved())
			tt.check(t, out.Err)
		})
	}
}

func TestSync_RetryNeededKeepsEarlierRounds(t *testing.T) {
	exec := &fakeExecutor{respond: func(call int, requests []query.Request) ([]byte, error) {
		if call == 1 {
			return []byte(`{"experiences": {"items": ["e1"], "next": "c1"}}`), nil
		}
		return nil, errors.New("connection reset")
	}}
	c := newTestCoordinator(t, exec)
	p := &pager{name: "experiences"}
	c.Register(p)

	out, err := c.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RetryNeeded, out.Status)
	assert.Equal(t, 2, out.Rounds)
	assert.Equal(t, []string{"e1"}, p.Saved())
}

func TestSync_RepeatedRequestDropped(t *testing.T) {
	exec := &fakeExecutor{respond: reply(`{"stuck": {}}`)}
	c := newTestCoordinator(t, exec)

	req := query.Request{
		Query:     query.Fragment{Name: "stuck", Body: "stuck(after: $after) { id }"},
		Variables: map[string]any{"after": "c1"},
	}
	c.Register(&scripted{
		name: "stuck",
		initial: func(context.Context) *query.Request {
			r := req
			return &r
		},
		save: func(context.Context, Data) Result {
			r := req
			r.Variables = map[string]any{"after": "c1"}
			return NewData{Next: &r}
		},
	})

	out, err := c.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Succeeded, out.Status)
	assert.Equal(t, 1, out.Rounds)
	assert.Len(t, exec.Calls(), 1)
}

func TestSync_PanicsContained(t *testing.T) {
	exec := &fakeExecutor{respond: reply(`{"good": {"items": ["g1"]}, "saver": {}}`)}
	c := newTestCoordinator(t, exec)

	c.Register(&scripted{
		name:    "builder",
		initial: func(context.Context) *query.Request { panic("boom") },
		save:    func(context.Context, Data) Result { return NoData{} },
	})
	c.Register(&scripted{
		name:    "saver",
		initial: staticRequest("saver"),
		save:    func(context.Context, Data) Result { panic("boom") },
	})
	c.Register(&scripted{
		name:    "nilresult",
		initial: staticRequest("nilresult"),
		save:    func(context.Context, Data) Result { return nil },
	})
	good := &pager{name: "good"}
	c.Register(good)

	out, err := c.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Succeeded, out.Status)
	assert.NotContains(t, out.Participants, "builder")
	assert.Equal(t, KindFailed, out.Participants["saver"])
	assert.Equal(t, KindFailed, out.Participants["nilresult"])
	assert.Equal(t, KindNewData, out.Participants["good"])
	assert.Equal(t, []string{"g1"}, good.Saved())

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0], 3)
}

func TestSync_NilInitialRequestSkipped(t *testing.T) {
	exec := &fakeExecutor{respond: reply(`{}`)}
	c := newTestCoordinator(t, exec)
	c.Register(&scripted{
		name:    "idle",
		initial: func(context.Context) *query.Request { return nil },
		save:    func(context.Context, Data) Result { return NoData{} },
	})

	out, err := c.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Succeeded, out.Status)
	assert.Zero(t, out.Rounds)
	assert.Empty(t, exec.Calls())
}

func TestSync_SingleFlight(t *testing.T) {
	exec := &fakeExecutor{
		respond: reply(`{"experiences": {"items": ["e1"]}}`),
		entered: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	c := newTestCoordinator(t, exec)
	c.Register(&pager{name: "experiences"})

	first := c.start()
	<-exec.entered
	assert.True(t, c.IsSyncing())

	second := c.start()
	c.Trigger()
	close(exec.block)

	r1 := <-first
	r2 := <-second
	o1 := r1.Val.(Outcome)
	o2 := r2.Val.(Outcome)

	assert.Equal(t, o1.ID, o2.ID)
	assert.True(t, r2.Shared)
	assert.Len(t, exec.Calls(), 1)
	assert.False(t, c.IsSyncing())

	// A call after completion starts a fresh execution.
	o3, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, o1.ID, o3.ID)
	assert.Len(t, exec.Calls(), 2)
}

func TestSync_ContextCancelled(t *testing.T) {
	exec := &fakeExecutor{
		respond: reply(`{"experiences": {"items": ["e1"]}}`),
		entered: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	c := newTestCoordinator(t, exec)
	c.Register(&pager{name: "experiences"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Sync(ctx)
		done <- err
	}()

	<-exec.entered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// The execution itself is unaffected by the caller leaving.
	assert.True(t, c.IsSyncing())
	close(exec.block)

	require.Eventually(t, func() bool {
		_, ok := c.LastOutcome()
		return ok
	}, time.Second, 5*time.Millisecond)

	last, _ := c.LastOutcome()
	assert.Equal(t, Succeeded, last.Status)
}

func TestClose_InterruptsExecution(t *testing.T) {
	exec := &fakeExecutor{
		respond: reply(`{}`),
		entered: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	c := New(exec, nil)
	c.Register(&pager{name: "experiences"})

	ch := c.start()
	<-exec.entered
	c.Close()

	out := (<-ch).Val.(Outcome)
	assert.Equal(t, RetryNeeded, out.Status)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestFeeds(t *testing.T) {
	fail := false
	exec := &fakeExecutor{respond: func(int, []query.Request) ([]byte, error) {
		if fail {
			return nil, errors.New("offline")
		}
		return []byte(`{"experiences": {"items": ["e1"]}}`), nil
	}}
	c := newTestCoordinator(t, exec)
	c.Register(&pager{name: "experiences"})

	results, cancelResults := c.Results().Subscribe(4)
	defer cancelResults()
	updates, cancelUpdates := c.Updates().Subscribe(4)
	defer cancelUpdates()

	out, err := c.Sync(context.Background())
	require.NoError(t, err)

	got := <-results
	assert.Equal(t, out.ID, got.ID)
	select {
	case <-updates:
	default:
		t.Fatal("expected an update after a successful execution")
	}

	fail = true
	out, err = c.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, RetryNeeded, out.Status)

	got = <-results
	assert.Equal(t, RetryNeeded, got.Status)
	select {
	case <-updates:
		t.Fatal("unexpected update after a failed execution")
	default:
	}

	last, ok := c.LastOutcome()
	require.True(t, ok)
	assert.Equal(t, out.ID, last.ID)
}

func TestRegister(t *testing.T) {
	c := newTestCoordinator(t, &fakeExecutor{respond: reply(`{}`)})

	a := &pager{name: "a"}
	b := &pager{name: "b"}

	assert.True(t, c.Register(a))
	assert.True(t, c.Register(b))
	assert.False(t, c.Register(a))

	got := c.Participants()
	require.Len(t, got, 2)
	assert.Same(t, a, got[0])
	assert.Same(t, b, got[1])
}

func TestSync_Timestamps(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	c := New(&fakeExecutor{respond: reply(`{}`)}, &Config{Now: func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}})
	defer c.Close()

	out, err := c.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, base.Add(time.Second), out.StartedAt)
	assert.Equal(t, time.Second, out.Duration())
}
