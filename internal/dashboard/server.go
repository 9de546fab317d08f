// Package dashboard provides a real-time WebSocket server for sync activity.
//
// The dashboard broadcasts every sync outcome and every successful update to
// connected WebSocket clients, and exposes health, metrics and a manual
// trigger over plain HTTP.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	spsync "github.com/steveyegge/syncpoint/internal/sync"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeSyncResult carries the terminal outcome of an execution.
	MessageTypeSyncResult MessageType = "sync_result"

	// MessageTypeSyncUpdate signals that an execution succeeded and the
	// cache may hold new records.
	MessageTypeSyncUpdate MessageType = "sync_update"

	// MessageTypeStatus is sent to every client on connect.
	MessageTypeStatus MessageType = "status"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ResultData describes one execution outcome.
type ResultData struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Error        string            `json:"error,omitempty"`
	Rounds       int               `json:"rounds"`
	DurationMS   int64             `json:"duration_ms"`
	Participants map[string]string `json:"participants,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
}

// StatusData is the welcome payload.
type StatusData struct {
	Syncing bool        `json:"syncing"`
	Last    *ResultData `json:"last,omitempty"`
}

// NewResultData converts an outcome for the wire.
func NewResultData(out spsync.Outcome) ResultData {
	data := ResultData{
		ID:         out.ID,
		Status:     string(out.Status),
		Rounds:     out.Rounds,
		DurationMS: out.Duration().Milliseconds(),
		StartedAt:  out.StartedAt,
		FinishedAt: out.FinishedAt,
	}
	if out.Err != nil {
		data.Error = out.Err.Error()
	}
	if len(out.Participants) > 0 {
		data.Participants = make(map[string]string, len(out.Participants))
		for name, kind := range out.Participants {
			data.Participants[name] = string(kind)
		}
	}
	return data
}

// Syncer is the part of the sync coordinator the server drives.
type Syncer interface {
	Trigger()
	IsSyncing() bool
	LastOutcome() (spsync.Outcome, bool)
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	syncer   Syncer
	metrics  http.Handler

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

// Config holds server configuration
type Config struct {
	// Host to bind (default: all interfaces)
	Host string

	// Port to listen on (default: 8080, 0 picks a free port)
	Port int

	// Syncer backs /health and POST /sync. Optional.
	Syncer Syncer

	// Metrics is served at /metrics when set.
	Metrics http.Handler

	// Logger for server activity (default: no-op)
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port: 8080,
	}
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      net.JoinHostPort(config.Host, fmt.Sprintf("%d", config.Port)),
		syncer:    config.Syncer,
		metrics:   config.Metrics,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.Named("dashboard"),
	}
}

// Routes returns the HTTP handler without starting a listener.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/sync", s.handleSync)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Routes(),
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("dashboard listening", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("dashboard server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Info("dashboard server stopped")
	return nil
}

// Broadcast queues a message for every connected client. When the queue is
// full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Warn("broadcast channel full, dropping message", zap.String("type", string(msg.Type)))
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := gojson.Marshal(msg)
			if err != nil {
				s.logger.Error("failed to marshal message", zap.Error(err))
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Send outside the read lock.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Debug("failed to send to client", zap.Error(err))
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	// Welcome goes out before the client joins the broadcast set so it is
	// always the first frame.
	welcome, err := s.statusMessage()
	if err == nil {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		err = conn.Write(ctx, websocket.MessageText, welcome)
		cancel()
	}
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "welcome failed")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Debug("client connected", zap.Int("clients", clientCount))

	go s.readLoop(conn)
}

func (s *Server) statusMessage() ([]byte, error) {
	status := StatusData{}
	if s.syncer != nil {
		status.Syncing = s.syncer.IsSyncing()
		if out, ok := s.syncer.LastOutcome(); ok {
			last := NewResultData(out)
			status.Last = &last
		}
	}
	data, err := gojson.Marshal(status)
	if err != nil {
		return nil, err
	}
	return gojson.Marshal(Message{Type: MessageTypeStatus, Timestamp: time.Now(), Data: data})
}

// readLoop keeps the connection alive and notices client disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Debug("client disconnected", zap.Int("clients", clientCount))
	} else {
		s.clientsMu.Unlock()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	syncing := false
	if s.syncer != nil {
		syncing = s.syncer.IsSyncing()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
		"syncing": syncing,
	})
}

// handleSync starts an execution, or joins the running one.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.syncer == nil {
		http.Error(w, "sync not available", http.StatusServiceUnavailable)
		return
	}

	s.syncer.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "triggered",
		"syncing": s.syncer.IsSyncing(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Syncpoint Dashboard</title>
</head>
<body>
    <h1>Syncpoint Dashboard Server</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Trigger a sync: <code>POST /sync</code></p>
    <p>Connect a WebSocket client to receive sync results as they happen.</p>
</body>
</html>`, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = gojson.NewEncoder(w).Encode(v)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
