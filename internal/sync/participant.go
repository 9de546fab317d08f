package sync

import (
	"context"
	"encoding/json"

	"github.com/steveyegge/syncpoint/internal/query"
)

// Data is the combined response of one round, keyed by query name. Each
// participant reads only its own key.
type Data map[string]json.RawMessage

// Participant is one independent consumer of the sync protocol.
//
// Participants are registered by identity, so implementations should be
// pointer types. Name must equal the query name of every request the
// participant returns and be unique within a coordinator.
type Participant interface {
	// Name identifies the participant in logs and outcomes.
	Name() string

	// InitialRequest builds the first request of an execution, or returns
	// nil when the participant has nothing to fetch this time.
	InitialRequest(ctx context.Context) *query.Request

	// SaveResponse consumes the participant's slice of data. It must not
	// panic on malformed input; decode problems are reported as Failed.
	SaveResponse(ctx context.Context, data Data) Result
}

// Result is what a participant reports after one round: NewData, NoData or
// Failed. The set is closed.
type Result interface {
	Kind() ResultKind
	result()
}

// ResultKind names a Result variant.
type ResultKind string

const (
	KindNewData ResultKind = "new_data"
	KindNoData  ResultKind = "no_data"
	KindFailed  ResultKind = "failed"
)

// NewData means records were stored. A non-nil Next asks for another round
// with that request; nil means the participant is done.
type NewData struct {
	Next *query.Request
}

// NoData means the page was empty.
type NoData struct{}

// Failed means the participant's slice could not be decoded or stored. It
// drops the participant from the rest of the execution and is not escalated.
type Failed struct {
	Err error
}

func (NewData) Kind() ResultKind { return KindNewData }
func (NoData) Kind() ResultKind  { return KindNoData }
func (Failed) Kind() ResultKind  { return KindFailed }

func (NewData) result() {}
func (NoData) result()  {}
func (Failed) result()  {}
