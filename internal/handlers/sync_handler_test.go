package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/models"
	"github.com/ternarybob/campussync/internal/services/jobs"
)

type startCall struct {
	userID     string
	username   string
	password   string
	rememberMe bool
}

type fakeJobManager struct {
	mu       sync.Mutex
	jobs     map[string]models.SyncJob
	calls    []startCall
	startErr error
}

func newFakeJobManager() *fakeJobManager {
	return &fakeJobManager{jobs: map[string]models.SyncJob{}}
}

func (f *fakeJobManager) StartJob(userIDHint, username, password string, rememberMe bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, startCall{userIDHint, username, password, rememberMe})
	if f.startErr != nil {
		return "", f.startErr
	}
	return "job-1", nil
}

func (f *fakeJobManager) GetJob(jobID string) (models.SyncJob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	return job, ok
}

func (f *fakeJobManager) put(job models.SyncJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
}

func postStart(t *testing.T, h *SyncHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/sync/start", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.StartHandler(rec, req)
	return rec
}

func TestStartHandler_Accepted(t *testing.T) {
	manager := newFakeJobManager()
	h := NewSyncHandler(manager, arbor.NewNoOpLogger())

	rec := postStart(t, h, `{"username":"  s1234567 ","password":"pw","userId":"cred_1"}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "job-1", body["jobId"])

	require.Len(t, manager.calls, 1)
	assert.Equal(t, startCall{"cred_1", "s1234567", "pw", true}, manager.calls[0])
}

func TestStartHandler_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing username", `{"password":"pw"}`, http.StatusBadRequest},
		{"blank username", `{"username":"   "}`, http.StatusBadRequest},
		{"remember false without password", `{"username":"alice","rememberMe":false}`, http.StatusBadRequest},
		{"malformed json", `{"username":`, http.StatusBadRequest},
		{"unknown field", `{"username":"alice","extra":1}`, http.StatusBadRequest},
		{"remember default without password", `{"username":"alice"}`, http.StatusAccepted},
		{"remember false with password", `{"username":"alice","password":"pw","rememberMe":false}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSyncHandler(newFakeJobManager(), arbor.NewNoOpLogger())
			rec := postStart(t, h, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestStartHandler_ManagerErrors(t *testing.T) {
	manager := newFakeJobManager()
	manager.startErr = jobs.ErrQueueFull
	h := NewSyncHandler(manager, arbor.NewNoOpLogger())

	rec := postStart(t, h, `{"username":"alice","password":"pw"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStartHandler_RejectsGet(t *testing.T) {
	h := NewSyncHandler(newFakeJobManager(), arbor.NewNoOpLogger())
	rec := httptest.NewRecorder()
	h.StartHandler(rec, httptest.NewRequest(http.MethodGet, "/api/sync/start", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusHandler(t *testing.T) {
	manager := newFakeJobManager()
	now := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	userID := "cred_9"
	job := models.NewSyncJob("job-1", "alice", true, now).
		Completed(&models.SyncResult{UserID: &userID, Username: "alice"}, "done", now)
	manager.put(job)
	h := NewSyncHandler(manager, arbor.NewNoOpLogger())

	rec := httptest.NewRecorder()
	h.StatusHandler(rec, httptest.NewRequest(http.MethodGet, "/api/sync/status/job-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "job-1", view["jobId"])
	assert.Equal(t, "SUCCESS", view["status"])
	assert.Equal(t, "cred_9", view["userId"])
	assert.Nil(t, view["error"])
	assert.NotNil(t, view["result"])

	rec = httptest.NewRecorder()
	h.StatusHandler(rec, httptest.NewRequest(http.MethodGet, "/api/sync/status/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.StatusHandler(rec, httptest.NewRequest(http.MethodGet, "/api/sync/status/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncStream_PushesUntilTerminal(t *testing.T) {
	manager := newFakeJobManager()
	start := time.Now()
	job := models.NewSyncJob("job-1", "alice", true, start).WithStage("AUTH_START", "Signing in", start)
	manager.put(job)

	h := NewSyncStreamHandler(manager, 10*time.Millisecond, arbor.NewNoOpLogger())
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sync/ws/job-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first JobView
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, models.JobStatusInProgress, first.Status)
	assert.Equal(t, "AUTH_START", first.Stage)

	done := job.Completed(&models.SyncResult{Username: "alice"}, "done", start.Add(time.Second))
	manager.put(done)

	var second JobView
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, models.JobStatusSuccess, second.Status)

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestSyncStream_UnknownJob(t *testing.T) {
	h := NewSyncStreamHandler(newFakeJobManager(), 0, arbor.NewNoOpLogger())
	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/api/sync/ws/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
