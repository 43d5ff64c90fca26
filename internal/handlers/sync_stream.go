package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/interfaces"
	"github.com/ternarybob/campussync/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // access is controlled by the API key middleware
	},
}

const (
	streamWriteWait = 10 * time.Second
	streamPongWait  = 60 * time.Second
)

// SyncStreamHandler pushes job snapshots over a websocket as they change
type SyncStreamHandler struct {
	jobs         interfaces.JobManager
	pollInterval time.Duration
	logger       arbor.ILogger
}

// NewSyncStreamHandler creates a job stream handler
func NewSyncStreamHandler(jobManager interfaces.JobManager, pollInterval time.Duration, logger arbor.ILogger) *SyncStreamHandler {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &SyncStreamHandler{
		jobs:         jobManager,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// HandleWebSocket streams GET /api/sync/ws/{jobId} until the job is terminal
func (h *SyncStreamHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := PathID(r, syncStreamPrefix)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}
	job, ok := h.jobs.GetJob(jobID)
	if !ok {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	// The client sends nothing; reading only detects disconnects and pongs
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug().Err(err).Str("job_id", jobID).Msg("Job stream client error")
				}
				return
			}
		}
	}()

	if err := h.send(conn, job); err != nil {
		return
	}
	last := job

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	pings := time.NewTicker(streamPongWait / 2)
	defer pings.Stop()

	for !last.Status.IsTerminal() {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ticker.C:
			current, ok := h.jobs.GetJob(jobID)
			if !ok {
				h.closeWith(conn, websocket.CloseGoingAway, "job expired")
				return
			}
			if current.UpdatedAt.Equal(last.UpdatedAt) && current.Stage == last.Stage && current.Status == last.Status {
				continue
			}
			if err := h.send(conn, current); err != nil {
				return
			}
			last = current
		}
	}

	h.closeWith(conn, websocket.CloseNormalClosure, string(last.Status))
}

func (h *SyncStreamHandler) send(conn *websocket.Conn, job models.SyncJob) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(NewJobView(job)); err != nil {
		h.logger.Debug().Err(err).Str("job_id", job.ID).Msg("Failed to push job snapshot")
		return err
	}
	return nil
}

func (h *SyncStreamHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(streamWriteWait)); err != nil {
		h.logger.Debug().Err(err).Msg("Failed to send close frame")
	}
}
