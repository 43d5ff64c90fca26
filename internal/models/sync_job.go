// -----------------------------------------------------------------------
// Sync Job - copy-on-write snapshot of one asynchronous sync request
// -----------------------------------------------------------------------

package models

import "time"

// JobStatus is the coarse lifecycle state of a sync job
type JobStatus string

const (
	JobStatusQueued      JobStatus = "QUEUED"
	JobStatusInProgress  JobStatus = "IN_PROGRESS"
	JobStatusMFARequired JobStatus = "MFA_REQUIRED"
	JobStatusSuccess     JobStatus = "SUCCESS"
	JobStatusFailed      JobStatus = "FAILED"
)

// IsTerminal reports SUCCESS or FAILED
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

// SyncJob is an immutable snapshot. Every transition method returns a new value,
// so a reader holding a snapshot never sees a half-applied transition.
//
// Invariants kept by the transitions:
//   - Result is non-nil iff Status == SUCCESS
//   - Error is non-nil iff Status == FAILED
//   - MFACode/MFAMessage are nil unless Stage == MFA_REQUIRED
type SyncJob struct {
	ID         string      `json:"jobId"`
	Username   string      `json:"username"`
	RememberMe bool        `json:"rememberMe"`
	Status     JobStatus   `json:"status"`
	Stage      string      `json:"stage"`
	Message    string      `json:"message"`
	MFACode    *string     `json:"mfaCode"`
	MFAMessage *string     `json:"mfaMessage"`
	Error      *string     `json:"error"`
	Result     *SyncResult `json:"result"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// NewSyncJob creates a job in the QUEUED state
func NewSyncJob(id, username string, rememberMe bool, now time.Time) SyncJob {
	return SyncJob{
		ID:         id,
		Username:   username,
		RememberMe: rememberMe,
		Status:     JobStatusQueued,
		Stage:      string(JobStatusQueued),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// WithStatus moves the job to a new status; stage follows the status
func (j SyncJob) WithStatus(status JobStatus, message string, now time.Time) SyncJob {
	j.Status = status
	j.Stage = string(status)
	if message != "" {
		j.Message = message
	}
	j.UpdatedAt = now
	return j
}

// WithStage records a progress stage and clears any pending MFA prompt. The status
// becomes IN_PROGRESS unless the job is waiting on MFA approval, which only a
// terminal transition ends. Terminal jobs ignore late stage updates.
func (j SyncJob) WithStage(stage, message string, now time.Time) SyncJob {
	if j.Status.IsTerminal() {
		return j
	}
	if stage != "" {
		j.Stage = stage
		if j.Status != JobStatusMFARequired {
			j.Status = JobStatusInProgress
		}
	}
	if message != "" {
		j.Message = message
	}
	if j.Stage != string(JobStatusMFARequired) {
		j.MFACode = nil
		j.MFAMessage = nil
	}
	j.UpdatedAt = now
	return j
}

// WithMFA surfaces a verification code the user must confirm out-of-band
func (j SyncJob) WithMFA(code, message string, now time.Time) SyncJob {
	if j.Status.IsTerminal() {
		return j
	}
	if code != "" {
		j.MFACode = &code
		j.Status = JobStatusMFARequired
		j.Stage = string(JobStatusMFARequired)
	}
	if message != "" {
		j.MFAMessage = &message
		j.Message = message
	}
	j.UpdatedAt = now
	return j
}

// Completed is the SUCCESS transition
func (j SyncJob) Completed(result *SyncResult, message string, now time.Time) SyncJob {
	j.Result = result
	j.Status = JobStatusSuccess
	j.Stage = string(JobStatusSuccess)
	j.Message = message
	j.MFACode = nil
	j.MFAMessage = nil
	j.Error = nil
	j.UpdatedAt = now
	return j
}

// Failed is the FAILED transition
func (j SyncJob) Failed(errorMessage string, now time.Time) SyncJob {
	j.Status = JobStatusFailed
	j.Stage = string(JobStatusFailed)
	j.Error = &errorMessage
	if errorMessage != "" {
		j.Message = errorMessage
	}
	j.Result = nil
	j.MFACode = nil
	j.MFAMessage = nil
	j.UpdatedAt = now
	return j
}

// UserID returns the credential record id attached to a successful result
func (j SyncJob) UserID() *string {
	if j.Result == nil {
		return nil
	}
	return j.Result.UserID
}
