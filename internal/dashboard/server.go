// Package dashboard serves live notifications to local clients.
//
// Clients connect to /ws and receive a JSON message whenever the task list
// changes locally or a sync pass finishes, so a UI can refresh without
// polling. /health reports the client count and /metrics exposes the sync
// metrics for Prometheus.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vifly/tasksApp/internal/metrics"
)

// MessageType names a notification.
type MessageType string

const (
	// MessageTypeDataChanged is sent after the local task list changed.
	MessageTypeDataChanged MessageType = "data_changed"

	// MessageTypeSyncComplete is sent after a sync pass, successful or not.
	MessageTypeSyncComplete MessageType = "sync_complete"
)

// Message is the JSON frame sent to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	queueSize    = 16
	writeTimeout = 5 * time.Second
)

// peer is one connected client with its own outgoing queue.
type peer struct {
	conn  *websocket.Conn
	queue chan []byte
	once  sync.Once
}

func (p *peer) close(code websocket.StatusCode, reason string) {
	p.once.Do(func() {
		close(p.queue)
		_ = p.conn.Close(code, reason)
	})
}

// Server fans notifications out to WebSocket clients.
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics
	logger   *log.Logger

	mu    sync.Mutex
	peers map[*peer]struct{}
	done  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures a Server.
type Config struct {
	// Port to listen on; 0 picks a free port.
	Port int

	// Host to bind (default: 127.0.0.1)
	Host string

	// Gatherer backs /metrics (default: prometheus.DefaultGatherer)
	Gatherer prometheus.Gatherer

	// Metrics tracks connected clients (optional)
	Metrics *metrics.Metrics

	Logger *log.Logger
}

// NewServer creates a server. Nothing listens until Start.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		gatherer: cfg.Gatherer,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		peers:    make(map[*peer]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/health", s.serveHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Serve failed: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the listener down. It is safe to
// call on a server that was never started.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	s.done = true
	peers := s.peers
	s.peers = make(map[*peer]struct{})
	s.mu.Unlock()

	for p := range peers {
		p.close(websocket.StatusGoingAway, "server shutting down")
		s.metrics.ClientDisconnected()
	}

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if shutdownErr := s.http.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("failed to shut down dashboard: %w", shutdownErr)
		}
	}
	s.wg.Wait()
	return err
}

// Broadcast queues msg for every client and never blocks. A client whose
// queue is full misses the message; the next one tells it to refresh anyway.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to encode %s message: %v", msg.Type, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.peers {
		select {
		case p.queue <- data:
		default:
			s.logger.Printf("Client queue full, dropping %s message", msg.Type)
		}
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	p := &peer{conn: conn, queue: make(chan []byte, queueSize)}
	// A fresh client has missed everything so far.
	welcome, _ := json.Marshal(Message{Type: MessageTypeDataChanged, Timestamp: time.Now()})
	p.queue <- welcome

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		p.close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.peers[p] = struct{}{}
	count := len(s.peers)
	s.mu.Unlock()
	s.metrics.ClientConnected()
	s.logger.Printf("Client connected (%d total)", count)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pump(p)
	}()

	// Block on reads so close frames are processed; clients send nothing else.
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			break
		}
	}
	s.drop(p)
}

// pump writes queued frames until the queue is closed or a write fails.
func (s *Server) pump(p *peer) {
	for data := range p.queue {
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err := p.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			s.drop(p)
			return
		}
	}
}

func (s *Server) drop(p *peer) {
	s.mu.Lock()
	_, ok := s.peers[p]
	delete(s.peers, p)
	count := len(s.peers)
	s.mu.Unlock()
	if !ok {
		return
	}

	p.close(websocket.StatusNormalClosure, "")
	s.metrics.ClientDisconnected()
	s.logger.Printf("Client disconnected (%d total)", count)
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// Addr returns the bound address after Start, or the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}
