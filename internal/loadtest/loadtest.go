// Package loadtest drives the sync coordinator with many concurrent callers.
//
// An in-process server pages a configurable number of resources, and a real
// sqlite cache stores the results, so a run exercises the whole engine except
// the network. Callers that arrive while an execution is in flight join it;
// the Executions count shows how many executions the callers shared.
package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/steveyegge/syncpoint/internal/query"
	"github.com/steveyegge/syncpoint/internal/resource"
	"github.com/steveyegge/syncpoint/internal/store"
	spsync "github.com/steveyegge/syncpoint/internal/sync"
)

// Scenario describes the simulated API.
type Scenario struct {
	Resources int
	Pages     int
	PageSize  int

	// Latency is added to every call.
	Latency time.Duration
}

// DefaultScenario returns 10 resources of 5 pages x 50 nodes.
func DefaultScenario() Scenario {
	return Scenario{Resources: 10, Pages: 5, PageSize: 50}
}

func (s Scenario) validate() error {
	if s.Resources <= 0 || s.Pages <= 0 || s.PageSize <= 0 {
		return fmt.Errorf("resources, pages and page size must be positive")
	}
	if s.Latency < 0 {
		return fmt.Errorf("latency cannot be negative")
	}
	return nil
}

// Env is a populated engine ready for load.
type Env struct {
	DB       *store.DB
	Coord    *spsync.Coordinator
	Server   *Server
	Scenario Scenario
	Names    []string
}

// LatencyStats captures caller-side latency of Sync.
type LatencyStats struct {
	Min         time.Duration
	Max         time.Duration
	Mean        time.Duration
	P50         time.Duration // Median
	P95         time.Duration
	P99         time.Duration
	TotalSyncs  int
	Executions  int
	RetryNeeded int
	Errors      int
	Calls       int64
	Durations   []time.Duration `json:"-"`
}

// Setup opens a cache at dbPath and registers one paging resource per
// scenario resource on a coordinator backed by an in-process server.
func Setup(dbPath string, scenario Scenario, logger *zap.Logger) (*Env, error) {
	if err := scenario.validate(); err != nil {
		return nil, err
	}

	database, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	server := NewServer(scenario)
	coord := spsync.New(server, &spsync.Config{Logger: logger})

	m := &resource.Manifest{Resources: make([]resource.Resource, 0, scenario.Resources)}
	for i := 0; i < scenario.Resources; i++ {
		m.Resources = append(m.Resources, generateResource(i, scenario.PageSize))
	}
	if err := m.Validate(); err != nil {
		coord.Close()
		_ = database.Close()
		return nil, err
	}

	participants, err := resource.Participants(m, database.Cursors(), database, logger)
	if err != nil {
		coord.Close()
		_ = database.Close()
		return nil, err
	}
	for _, p := range participants {
		coord.Register(p)
	}

	return &Env{
		DB:       database,
		Coord:    coord,
		Server:   server,
		Scenario: scenario,
		Names:    m.Names(),
	}, nil
}

// Close closes the coordinator and the database.
func (e *Env) Close() error {
	e.Coord.Close()
	if e.DB != nil {
		return e.DB.Close()
	}
	return nil
}

// RunConcurrentSyncs simulates numCallers callers each calling Sync
// syncsPerCaller times, and returns aggregated latency statistics.
func (e *Env) RunConcurrentSyncs(numCallers, syncsPerCaller int) (*LatencyStats, error) {
	if numCallers <= 0 || syncsPerCaller <= 0 {
		return nil, fmt.Errorf("callers and syncs per caller must be positive")
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		durations []time.Duration
		ids       = make(map[string]struct{})
		retries   int
		errCount  int
	)
	callsBefore := e.Server.Calls()

	for i := 0; i < numCallers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			local := make([]time.Duration, 0, syncsPerCaller)
			for j := 0; j < syncsPerCaller; j++ {
				start := time.Now()
				out, err := e.Coord.Sync(context.Background())
				elapsed := time.Since(start)

				mu.Lock()
				if err != nil {
					errCount++
				} else {
					ids[out.ID] = struct{}{}
					if !out.Succeeded() {
						retries++
					}
				}
				mu.Unlock()
				local = append(local, elapsed)
			}

			mu.Lock()
			durations = append(durations, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	stats := computeLatencyStats(durations)
	stats.Executions = len(ids)
	stats.RetryNeeded = retries
	stats.Errors = errCount
	stats.Calls = e.Server.Calls() - callsBefore
	return stats, nil
}

// VerifyCache checks that every node of every page reached the cache and
// that each resource's cursor points at its last page.
func (e *Env) VerifyCache(ctx context.Context) error {
	counts, err := e.DB.CountRecords(ctx)
	if err != nil {
		return err
	}
	want := e.Scenario.Pages * e.Scenario.PageSize
	for _, name := range e.Names {
		if counts[name] != want {
			return fmt.Errorf("resource %s: %d records, want %d", name, counts[name], want)
		}

		value, ok, err := e.DB.Cursors().Get(ctx, name)
		if err != nil {
			return err
		}
		if e.Scenario.Pages == 1 {
			if ok {
				return fmt.Errorf("resource %s: unexpected cursor %q for a single page", name, value)
			}
			continue
		}
		if wantCursor := pageCursor(e.Scenario.Pages - 1); value != wantCursor {
			return fmt.Errorf("resource %s: cursor %q, want %q", name, value, wantCursor)
		}
	}
	return nil
}

// Server is an in-process spsync.Executor that pages every resource.
type Server struct {
	scenario Scenario
	calls    atomic.Int64
}

// NewServer creates a server for scenario.
func NewServer(scenario Scenario) *Server {
	return &Server{scenario: scenario}
}

// Calls returns the number of Execute calls served.
func (s *Server) Calls() int64 {
	return s.calls.Load()
}

type pageInfo struct {
	EndCursor   string `json:"endCursor"`
	HasNextPage bool   `json:"hasNextPage"`
}

type page struct {
	Nodes    []map[string]string `json:"nodes"`
	PageInfo pageInfo            `json:"pageInfo"`
}

// Execute implements spsync.Executor.
func (s *Server) Execute(ctx context.Context, requests []query.Request) ([]byte, error) {
	s.calls.Add(1)

	if s.scenario.Latency > 0 {
		timer := time.NewTimer(s.scenario.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	data := make(map[string]page, len(requests))
	for _, req := range requests {
		index := 0
		if after, ok := req.Variables["after"].(string); ok {
			n, err := strconv.Atoi(strings.TrimPrefix(after, "p"))
			if err != nil {
				return nil, fmt.Errorf("bad cursor %q: %w", after, err)
			}
			index = n
		}

		name := req.Query.Name
		p := page{Nodes: make([]map[string]string, 0, s.scenario.PageSize)}
		for i := 0; i < s.scenario.PageSize; i++ {
			p.Nodes = append(p.Nodes, map[string]string{
				"id":    fmt.Sprintf("%s-%03d-%03d", name, index, i),
				"title": fmt.Sprintf("%s %d/%d", name, index, i),
			})
		}
		if index+1 < s.scenario.Pages {
			p.PageInfo = pageInfo{EndCursor: pageCursor(index + 1), HasNextPage: true}
		}
		data[name] = p
	}

	return gojson.Marshal(map[string]interface{}{"data": data})
}

func pageCursor(index int) string {
	return "p" + strconv.Itoa(index)
}

// generateResource declares resource i as a cursor-paged connection.
func generateResource(i, pageSize int) resource.Resource {
	name := fmt.Sprintf("resource%03d", i)
	return resource.Resource{
		Name: name,
		Body: name + "(first: $first, after: $after) { nodes { id title } pageInfo { endCursor hasNextPage } }",
		Arguments: []query.Argument{
			{Name: "first", Type: "Int"},
			{Name: "after", Type: "String"},
		},
		Variables:      map[string]any{"first": pageSize},
		Cursor:         name,
		CursorArgument: resource.DefaultCursorArgument,
		ID:             resource.DefaultIDField,
	}
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		TotalSyncs: len(durations),
		Durations:  sorted,
	}
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats() {
	fmt.Printf("Latency Statistics:\n")
	fmt.Printf("  Total Syncs:   %d\n", s.TotalSyncs)
	fmt.Printf("  Executions:    %d\n", s.Executions)
	fmt.Printf("  Calls:         %d\n", s.Calls)
	fmt.Printf("  Retry Needed:  %d\n", s.RetryNeeded)
	fmt.Printf("  Errors:        %d\n", s.Errors)
	fmt.Printf("  Min:           %v\n", s.Min)
	fmt.Printf("  P50 (Median):  %v\n", s.P50)
	fmt.Printf("  Mean:          %v\n", s.Mean)
	fmt.Printf("  P95:           %v\n", s.P95)
	fmt.Printf("  P99:           %v\n", s.P99)
	fmt.Printf("  Max:           %v\n", s.Max)
}

// JSON returns the statistics without the raw durations.
func (s *LatencyStats) JSON() (json.RawMessage, error) {
	return gojson.MarshalIndent(s, "", "  ")
}
