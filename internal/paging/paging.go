// Package paging implements the generic "fetch a page, store it, decide
// whether to continue" participant on top of a per-entity Adapter.
package paging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/steveyegge/syncpoint/internal/cursor"
	"github.com/steveyegge/syncpoint/internal/query"
	"github.com/steveyegge/syncpoint/internal/sync"
)

// PageInfo is the Relay-style pagination block of a connection.
type PageInfo struct {
	EndCursor   string `json:"endCursor"`
	HasNextPage bool   `json:"hasNextPage"`
}

// Page is one decoded connection slice. PageInfo is nil when the query does
// not paginate.
type Page[T any] struct {
	Nodes    []T
	PageInfo *PageInfo
}

// Adapter supplies the entity-specific parts of a paging participant.
type Adapter[T any] interface {
	// Name is the query name; it must match the Fragment name of every
	// request and the response key holding the connection.
	Name() string

	// Request builds the query for the page after cursor. An empty cursor
	// means the first page.
	Request(cursor string) query.Request

	// Save persists decoded nodes.
	Save(ctx context.Context, nodes []T) error
}

// ErrMissingSlice is reported when the response has no entry for the participant.
var ErrMissingSlice = errors.New("response has no slice for participant")

// Participant is a sync.Participant that pages through one connection.
//
// With a cursor key the participant resumes from the stored cursor and keeps
// requesting pages while the server reports hasNextPage. Without one it
// fetches a single page per execution and never touches the cursor store.
type Participant[T any] struct {
	adapter   Adapter[T]
	cursors   cursor.Store
	cursorKey string
	logger    *zap.Logger
}

// New creates a participant. cursors may be nil only when cursorKey is empty.
func New[T any](adapter Adapter[T], cursors cursor.Store, cursorKey string, logger *zap.Logger) (*Participant[T], error) {
	if adapter == nil {
		return nil, fmt.Errorf("adapter cannot be nil")
	}
	if adapter.Name() == "" {
		return nil, fmt.Errorf("adapter name cannot be empty")
	}
	if cursorKey != "" && cursors == nil {
		return nil, fmt.Errorf("participant %s: cursor key %q requires a cursor store", adapter.Name(), cursorKey)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Participant[T]{
		adapter:   adapter,
		cursors:   cursors,
		cursorKey: cursorKey,
		logger:    logger.Named("paging").With(zap.String("participant", adapter.Name())),
	}, nil
}

// Name implements sync.Participant.
func (p *Participant[T]) Name() string {
	return p.adapter.Name()
}

// CursorKey returns the cursor key, or "" when the participant does not paginate.
func (p *Participant[T]) CursorKey() string {
	return p.cursorKey
}

// InitialRequest implements sync.Participant. When the stored cursor cannot
// be read the participant sits this execution out rather than restarting
// from the first page.
func (p *Participant[T]) InitialRequest(ctx context.Context) *query.Request {
	cur := ""
	if p.cursorKey != "" {
		value, _, err := p.cursors.Get(ctx, p.cursorKey)
		if err != nil {
			p.logger.Warn("failed to read cursor, skipping", zap.String("cursor_key", p.cursorKey), zap.Error(err))
			return nil
		}
		cur = value
	}
	req := p.adapter.Request(cur)
	return &req
}

// SaveResponse implements sync.Participant.
func (p *Participant[T]) SaveResponse(ctx context.Context, data sync.Data) sync.Result {
	raw, ok := data[p.adapter.Name()]
	if !ok || isNull(raw) {
		return sync.Failed{Err: fmt.Errorf("%w: %s", ErrMissingSlice, p.adapter.Name())}
	}

	page, err := Decode[T](raw)
	if err != nil {
		return sync.Failed{Err: err}
	}
	if len(page.Nodes) == 0 {
		return sync.NoData{}
	}

	if err := p.adapter.Save(ctx, page.Nodes); err != nil {
		return sync.Failed{Err: fmt.Errorf("failed to save %d nodes: %w", len(page.Nodes), err)}
	}
	p.logger.Debug("page saved", zap.Int("nodes", len(page.Nodes)))

	if p.cursorKey == "" || page.PageInfo == nil || !page.PageInfo.HasNextPage {
		return sync.NewData{}
	}

	if strings.TrimSpace(page.PageInfo.EndCursor) != "" {
		if err := p.cursors.Set(ctx, p.cursorKey, page.PageInfo.EndCursor); err != nil {
			return sync.Failed{Err: fmt.Errorf("failed to store cursor: %w", err)}
		}
	}

	cur, _, err := p.cursors.Get(ctx, p.cursorKey)
	if err != nil {
		return sync.Failed{Err: fmt.Errorf("failed to read cursor: %w", err)}
	}
	next := p.adapter.Request(cur)
	return sync.NewData{Next: &next}
}

type connection[T any] struct {
	Nodes    []T       `json:"nodes"`
	Edges    []edge[T] `json:"edges"`
	PageInfo *PageInfo `json:"pageInfo"`
}

type edge[T any] struct {
	Node T `json:"node"`
}

// Decode reads a connection object. Nodes may be given directly as "nodes"
// or wrapped as "edges": [{"node": ...}]; one of them must be present.
func Decode[T any](raw json.RawMessage) (Page[T], error) {
	var conn connection[T]
	if err := gojson.Unmarshal(raw, &conn); err != nil {
		return Page[T]{}, fmt.Errorf("failed to decode connection: %w", err)
	}

	switch {
	case conn.Nodes != nil:
		return Page[T]{Nodes: conn.Nodes, PageInfo: conn.PageInfo}, nil
	case conn.Edges != nil:
		nodes := make([]T, len(conn.Edges))
		for i, e := range conn.Edges {
			nodes[i] = e.Node
		}
		return Page[T]{Nodes: nodes, PageInfo: conn.PageInfo}, nil
	default:
		return Page[T]{}, fmt.Errorf("failed to decode connection: neither nodes nor edges present")
	}
}

func isNull(raw []byte) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
