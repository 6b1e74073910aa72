package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/vifly/tasksApp/internal/sync"
)

// SyncCompleteData contains sync pass information
type SyncCompleteData struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Trigger    string `json:"trigger"`
	Pushed     bool   `json:"pushed"`
	Pulled     int    `json:"pulled"`
	PullFailed int    `json:"pull_failed"`
	Added      int    `json:"added"`
	Updated    int    `json:"updated"`
	Deleted    int    `json:"deleted"`
	DurationMs int64  `json:"duration_ms"`
}

// Handler turns engine and syncer events into dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates an event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Handler{server: server, logger: logger}
}

// OnDataChanged announces a change to the local task list.
func (h *Handler) OnDataChanged() {
	h.server.Broadcast(Message{Type: MessageTypeDataChanged, Timestamp: time.Now()})
}

// OnSyncComplete announces a finished sync pass.
func (h *Handler) OnSyncComplete(res *sync.Result) {
	if res == nil {
		return
	}
	data, err := json.Marshal(SyncCompleteData{
		Status:     string(res.Status),
		Message:    res.Message,
		Trigger:    res.Trigger,
		Pushed:     res.Pushed != "",
		Pulled:     res.Pulled,
		PullFailed: res.PullFailed,
		Added:      res.Changes.Added,
		Updated:    res.Changes.Updated,
		Deleted:    res.Changes.Deleted,
		DurationMs: res.Duration.Milliseconds(),
	})
	if err != nil {
		h.logger.Printf("Failed to marshal sync result: %v", err)
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeSyncComplete, Timestamp: time.Now(), Data: data})
}
