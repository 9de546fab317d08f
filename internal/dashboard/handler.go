package dashboard

import (
	"context"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	spsync "github.com/steveyegge/syncpoint/internal/sync"
)

// Handler turns coordinator feed events into dashboard messages.
type Handler struct {
	server *Server
	logger *zap.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		server: server,
		logger: logger.Named("dashboard"),
	}
}

// OnResult broadcasts an execution outcome.
func (h *Handler) OnResult(out spsync.Outcome) {
	data, err := gojson.Marshal(NewResultData(out))
	if err != nil {
		h.logger.Error("failed to marshal result", zap.Error(err))
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeSyncResult,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// OnUpdate broadcasts that new data is available.
func (h *Handler) OnUpdate() {
	h.server.Broadcast(Message{
		Type:      MessageTypeSyncUpdate,
		Timestamp: time.Now(),
	})
}

// Run forwards feed events until ctx is done or both feeds are closed.
func (h *Handler) Run(ctx context.Context, results <-chan spsync.Outcome, updates <-chan struct{}) {
	for results != nil || updates != nil {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			h.OnResult(out)
		case _, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			h.OnUpdate()
		}
	}
}
