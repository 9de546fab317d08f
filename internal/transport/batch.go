package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/syncpoint/internal/query"
)

// ErrEmptyBatch is returned when Execute is called without requests. The
// underlying transport is not invoked.
var ErrEmptyBatch = errors.New("empty request batch")

// BatchConfig configures a Batch.
type BatchConfig struct {
	// Credential is passed through opaquely on every call.
	Credential string

	// Timeout bounds one transport call. Zero means no bound.
	Timeout time.Duration

	Logger *zap.Logger
}

// Batch merges the requests of one round into a single document and sends
// it. It performs no retries.
type Batch struct {
	transport  Transport
	credential string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewBatch wraps t.
func NewBatch(t Transport, config BatchConfig) *Batch {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Batch{
		transport:  t,
		credential: config.Credential,
		timeout:    config.Timeout,
		logger:     config.Logger.Named("batch"),
	}
}

// Execute merges requests, issues one call and returns the raw 2xx body.
// Connection failures are returned as *ConnectionError and non-2xx responses
// as *StatusError.
func (b *Batch) Execute(ctx context.Context, requests []query.Request) ([]byte, error) {
	if len(requests) == 0 {
		return nil, ErrEmptyBatch
	}

	doc := query.Merge(requests)
	call := Call{
		Query:      doc.Query,
		Variables:  doc.Variables,
		Fragments:  doc.Fragments,
		Credential: b.credential,
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	b.logger.Debug("sending batch",
		zap.Int("requests", len(requests)),
		zap.Int("variables", len(doc.Variables)),
		zap.Int("document_bytes", len(doc.Query)),
	)

	switch r := b.transport.Send(ctx, call).(type) {
	case *Success:
		return r.Body, nil
	case *ConnectionFailure:
		return nil, &ConnectionError{Err: r.Reason}
	case *ApplicationError:
		return nil, &StatusError{StatusCode: r.StatusCode, Reason: r.Reason}
	default:
		return nil, fmt.Errorf("transport returned unexpected response %T", r)
	}
}
