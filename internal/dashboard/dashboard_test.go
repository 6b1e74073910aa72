package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vifly/tasksApp/internal/metrics"
	"github.com/vifly/tasksApp/internal/reconcile"
	"github.com/vifly/tasksApp/internal/sync"
)

func startServer(t *testing.T, reg *prometheus.Registry) *Server {
	t.Helper()
	cfg := Config{
		Port:   0,
		Logger: log.New(io.Discard, "", 0),
	}
	if reg != nil {
		cfg.Gatherer = reg
		cfg.Metrics = metrics.New(reg)
	}
	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func dial(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })

	// The welcome message confirms the server registered the client.
	if msg := readMessage(t, conn); msg.Type != MessageTypeDataChanged {
		t.Fatalf("expected welcome %s, got %s", MessageTypeDataChanged, msg.Type)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(Config{Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.Addr() == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	server := NewServer(Config{Logger: log.New(io.Discard, "", 0)})
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop without Start failed: %v", err)
	}
}

func TestBroadcast_DataChanged(t *testing.T) {
	server := startServer(t, nil)
	conn := dial(t, server)

	NewHandler(server, nil).OnDataChanged()

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeDataChanged {
		t.Errorf("expected %s, got %s", MessageTypeDataChanged, msg.Type)
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestBroadcast_SyncComplete(t *testing.T) {
	server := startServer(t, nil)
	conn := dial(t, server)
	handler := NewHandler(server, log.New(io.Discard, "", 0))

	handler.OnSyncComplete(nil)
	handler.OnSyncComplete(&sync.Result{
		Status:   sync.StatusSuccess,
		Message:  "ok",
		Trigger:  "periodic",
		Pushed:   "update_dev_1.bin",
		Pulled:   2,
		Changes:  reconcile.ChangeCounts{Added: 1, Deleted: 1},
		Duration: 1500 * time.Millisecond,
	})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("expected %s, got %s", MessageTypeSyncComplete, msg.Type)
	}
	var data SyncCompleteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if data.Status != "success" || data.Trigger != "periodic" || !data.Pushed {
		t.Errorf("unexpected sync data: %+v", data)
	}
	if data.Pulled != 2 || data.Added != 1 || data.Deleted != 1 || data.DurationMs != 1500 {
		t.Errorf("unexpected counts: %+v", data)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	server := startServer(t, reg)
	conn := dial(t, server)

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	var health struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	err = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if health.Status != "ok" || health.Clients != 1 {
		t.Errorf("unexpected health: %+v", health)
	}

	resp, err = http.Get("http://" + server.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "tasksync_dashboard_clients 1") {
		t.Errorf("metrics missing client gauge:\n%s", body)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return server.ClientCount() == 0 })
}
