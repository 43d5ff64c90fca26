package jobs

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/models"
)

// jobSink feeds authenticator progress into one job's snapshot
type jobSink struct {
	manager *Manager
	jobID   string
	logger  arbor.ILogger
}

func (s *jobSink) OnStatusUpdate(stage, message string) {
	s.logger.Debug().Str("stage", stage).Str("message", message).Msg("Sync progress")
	s.manager.update(s.jobID, func(job models.SyncJob) models.SyncJob {
		return job.WithStage(stage, message, s.manager.now())
	})
}

func (s *jobSink) OnMfaRequired(code, message string) {
	s.logger.Info().Str("mfa_code", code).Msg("Sync waiting for MFA approval")
	s.manager.update(s.jobID, func(job models.SyncJob) models.SyncJob {
		return job.WithMFA(code, message, s.manager.now())
	})
}
