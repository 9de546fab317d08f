package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/steveyegge/syncpoint/internal/cursor"
	"github.com/steveyegge/syncpoint/internal/paging"
	"github.com/steveyegge/syncpoint/internal/query"
	"github.com/steveyegge/syncpoint/internal/store"
)

// Sink persists synced records. *store.DB implements it.
type Sink interface {
	UpsertRecords(ctx context.Context, records []store.Record) error
}

// Adapter is a paging.Adapter over raw JSON nodes.
type Adapter struct {
	resource Resource
	sink     Sink
	now      func() time.Time
}

var _ paging.Adapter[json.RawMessage] = (*Adapter)(nil)

// NewAdapter returns an adapter writing r's nodes into sink.
func NewAdapter(r Resource, sink Sink) *Adapter {
	r.applyDefaults()
	return &Adapter{resource: r, sink: sink, now: time.Now}
}

// Name implements paging.Adapter.
func (a *Adapter) Name() string {
	return a.resource.Name
}

// Request implements paging.Adapter.
func (a *Adapter) Request(cursor string) query.Request {
	return a.resource.Request(cursor)
}

// Save implements paging.Adapter. Every node must carry the id field; one bad
// node rejects the whole page so the cursor does not move past it.
func (a *Adapter) Save(ctx context.Context, nodes []json.RawMessage) error {
	now := a.now()
	records := make([]store.Record, 0, len(nodes))
	for i, node := range nodes {
		id, err := nodeID(node, a.resource.ID)
		if err != nil {
			return fmt.Errorf("node %d: %w", i, err)
		}
		records = append(records, store.Record{
			Resource: a.resource.Name,
			ID:       id,
			Payload:  node,
			SyncedAt: now,
		})
	}
	return a.sink.UpsertRecords(ctx, records)
}

// nodeID extracts field from a node object. String ids are unquoted; other
// scalars keep their JSON text.
func nodeID(node json.RawMessage, field string) (string, error) {
	var obj map[string]json.RawMessage
	if err := gojson.Unmarshal(node, &obj); err != nil {
		return "", fmt.Errorf("node is not an object: %w", err)
	}
	raw, ok := obj[field]
	if !ok {
		return "", fmt.Errorf("node has no %q field", field)
	}

	text := strings.TrimSpace(string(raw))
	switch {
	case text == "" || text == "null":
		return "", fmt.Errorf("node field %q is null", field)
	case strings.HasPrefix(text, `"`):
		var s string
		if err := gojson.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("node field %q: %w", field, err)
		}
		if s == "" {
			return "", fmt.Errorf("node field %q is empty", field)
		}
		return s, nil
	case strings.HasPrefix(text, "{") || strings.HasPrefix(text, "["):
		return "", fmt.Errorf("node field %q is not a scalar", field)
	default:
		return text, nil
	}
}

// Participants builds one paging participant per manifest resource, in
// manifest order.
func Participants(m *Manifest, cursors cursor.Store, sink Sink, logger *zap.Logger) ([]*paging.Participant[json.RawMessage], error) {
	out := make([]*paging.Participant[json.RawMessage], 0, len(m.Resources))
	for _, r := range m.Resources {
		p, err := paging.New[json.RawMessage](NewAdapter(r, sink), cursors, r.Cursor, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build participant %s: %w", r.Name, err)
		}
		out = append(out, p)
	}
	return out, nil
}
