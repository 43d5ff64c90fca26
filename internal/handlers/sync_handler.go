package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/interfaces"
	"github.com/ternarybob/campussync/internal/models"
	"github.com/ternarybob/campussync/internal/services/jobs"
)

const (
	syncStatusPrefix = "/api/sync/status/"
	syncStreamPrefix = "/api/sync/ws/"
)

// SyncStartRequest is the body of POST /api/sync/start
type SyncStartRequest struct {
	UserID     string `json:"userId" validate:"omitempty,max=64"`
	Username   string `json:"username" validate:"required,max=128"`
	Password   string `json:"password" validate:"omitempty,max=256"`
	RememberMe *bool  `json:"rememberMe"`
}

// JobView is the public projection of a sync job
type JobView struct {
	JobID      string             `json:"jobId"`
	Status     models.JobStatus   `json:"status"`
	Stage      string             `json:"stage"`
	Message    string             `json:"message"`
	MFACode    *string            `json:"mfaCode"`
	MFAMessage *string            `json:"mfaMessage"`
	Error      *string            `json:"error"`
	UpdatedAt  time.Time          `json:"updatedAt"`
	UserID     *string            `json:"userId"`
	Username   string             `json:"username"`
	Result     *models.SyncResult `json:"result"`
}

// NewJobView projects a job snapshot for API callers
func NewJobView(job models.SyncJob) JobView {
	return JobView{
		JobID:      job.ID,
		Status:     job.Status,
		Stage:      job.Stage,
		Message:    job.Message,
		MFACode:    job.MFACode,
		MFAMessage: job.MFAMessage,
		Error:      job.Error,
		UpdatedAt:  job.UpdatedAt,
		UserID:     job.UserID(),
		Username:   job.Username,
		Result:     job.Result,
	}
}

// SyncHandler serves the sync submission and polling API
type SyncHandler struct {
	jobs     interfaces.JobManager
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(jobManager interfaces.JobManager, logger arbor.ILogger) *SyncHandler {
	return &SyncHandler{
		jobs:     jobManager,
		validate: validator.New(),
		logger:   logger,
	}
}

// StartHandler queues a sync job and returns its id (POST /api/sync/start)
func (h *SyncHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req SyncStartRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	if err := h.validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	rememberMe := true
	if req.RememberMe != nil {
		rememberMe = *req.RememberMe
	}
	if !rememberMe && req.Password == "" {
		WriteError(w, http.StatusBadRequest, "password is required when rememberMe is false")
		return
	}

	jobID, err := h.jobs.StartJob(req.UserID, req.Username, req.Password, rememberMe)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrUsernameRequired):
			WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrStopped):
			WriteError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.logger.Error().Err(err).Str("username", req.Username).Msg("Failed to start sync job")
			WriteError(w, http.StatusInternalServerError, "failed to start sync")
		}
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// StatusHandler returns the current job projection (GET /api/sync/status/{jobId})
func (h *SyncHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := PathID(r, syncStatusPrefix)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}

	job, ok := h.jobs.GetJob(jobID)
	if !ok {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}

	WriteJSON(w, http.StatusOK, NewJobView(job))
}

func validationMessage(err error) string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		fe := validationErrors[0]
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		switch fe.Tag() {
		case "required":
			return field + " is required"
		case "max":
			return field + " is too long"
		}
		return field + " is invalid"
	}
	return err.Error()
}
