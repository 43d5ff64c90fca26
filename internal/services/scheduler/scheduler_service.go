package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/common"
	"github.com/ternarybob/campussync/internal/interfaces"
	"github.com/ternarybob/campussync/internal/models"
)

// SweepStats summarises one sweep
type SweepStats struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Records    int       `json:"records"`
	Refreshed  int       `json:"refreshed"`
	Failed     int       `json:"failed"`
}

// Status is the scheduler's externally visible state
type Status struct {
	Running   bool        `json:"running"`
	Sweeping  bool        `json:"sweeping"`
	NextRun   *time.Time  `json:"next_run,omitempty"`
	LastSweep *SweepStats `json:"last_sweep,omitempty"`
}

// Service keeps remembered portal sessions alive. Each sweep refreshes every
// password-bearing record one at a time; the next sweep is scheduled from the
// end of the previous one, so sweeps never overlap.
type Service struct {
	storage     interfaces.CredentialStorage
	coordinator interfaces.SyncCoordinator
	schedule    cron.Schedule
	runOnStart  bool
	logger      arbor.ILogger

	mu        sync.Mutex // protects the fields below
	running   bool
	sweeping  bool
	nextRun   *time.Time
	lastSweep *SweepStats
	cancel    context.CancelFunc
	done      chan struct{}

	sweepMu sync.Mutex // serializes Sweep
}

// NewService creates a refresh scheduler. schedule decides the delay after each sweep.
func NewService(storage interfaces.CredentialStorage, coordinator interfaces.SyncCoordinator, schedule cron.Schedule, runOnStart bool, logger arbor.ILogger) *Service {
	return &Service{
		storage:     storage,
		coordinator: coordinator,
		schedule:    schedule,
		runOnStart:  runOnStart,
		logger:      logger,
	}
}

// Start launches the sweep loop. It returns once the loop is running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running = true

	common.SafeGo(s.logger, "session-refresh", func() { s.loop(loopCtx, done) })

	s.logger.Info().Bool("run_on_start", s.runOnStart).Msg("Session refresh scheduler started")
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to return
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.running = false
	s.nextRun = nil
	s.mu.Unlock()

	s.logger.Info().Msg("Session refresh scheduler stopped")
	return nil
}

// IsRunning reports whether the loop is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetStatus returns a copy of the scheduler state
func (s *Service) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{Running: s.running, Sweeping: s.sweeping}
	if s.nextRun != nil {
		next := *s.nextRun
		status.NextRun = &next
	}
	if s.lastSweep != nil {
		last := *s.lastSweep
		status.LastSweep = &last
	}
	return status
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	if s.runOnStart {
		s.Sweep(ctx)
	}

	for {
		next := s.schedule.Next(time.Now())
		s.setNextRun(&next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.setNextRun(nil)
		s.Sweep(ctx)
	}
}

func (s *Service) setNextRun(next *time.Time) {
	s.mu.Lock()
	s.nextRun = next
	s.mu.Unlock()
}

// Sweep refreshes every record that has a stored password, strictly in
// sequence. A failing record is logged and the sweep moves on.
func (s *Service) Sweep(ctx context.Context) SweepStats {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	stats := SweepStats{StartedAt: time.Now()}

	s.mu.Lock()
	s.sweeping = true
	s.mu.Unlock()

	defer func() {
		stats.FinishedAt = time.Now()
		s.mu.Lock()
		s.sweeping = false
		s.lastSweep = &stats
		s.mu.Unlock()
	}()

	records, err := s.storage.ListWithPassword(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Refresh sweep could not list credentials")
		return stats
	}
	stats.Records = len(records)
	if len(records) == 0 {
		s.logger.Debug().Msg("Refresh sweep: no remembered credentials")
		return stats
	}

	s.logger.Info().Int("records", len(records)).Msg("Refresh sweep started")

	for _, record := range records {
		if ctx.Err() != nil {
			s.logger.Warn().Int("remaining", len(records)-stats.Refreshed-stats.Failed).Msg("Refresh sweep interrupted")
			break
		}

		if err := s.refreshOne(ctx, record.ID, record.Username); err != nil {
			stats.Failed++
			event := s.logger.Error()
			if models.IsIOClass(err) {
				// portal-side failure, the next sweep retries
				event = s.logger.Warn()
			}
			event.Err(err).
				Str("credential_id", record.ID).
				Str("username", record.Username).
				Msg("Session refresh failed")
			continue
		}
		stats.Refreshed++
	}

	s.logger.Info().
		Int("refreshed", stats.Refreshed).
		Int("failed", stats.Failed).
		Str("elapsed", time.Since(stats.StartedAt).String()).
		Msg("Refresh sweep finished")
	return stats
}

// refreshOne isolates one record, turning a panic into an error
func (s *Service) refreshOne(ctx context.Context, recordID, username string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during refresh: %v", r)
		}
	}()

	logger := s.logger.WithCorrelationId(recordID)
	sink := &logSink{logger: logger, username: username}
	return s.coordinator.RefreshSessionOnly(ctx, recordID, sink)
}
