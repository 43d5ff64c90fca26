package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/common"
	"github.com/ternarybob/campussync/internal/interfaces"
	"github.com/ternarybob/campussync/internal/models"
)

var (
	// ErrUsernameRequired is returned by StartJob for a blank username
	ErrUsernameRequired = errors.New("username is required")
	// ErrQueueFull is returned when every worker is busy and the backlog is at capacity
	ErrQueueFull = errors.New("sync queue is full, try again shortly")
	// ErrStopped is returned after Stop
	ErrStopped = errors.New("job manager is stopped")
)

// Config sizes the worker pool and job table
type Config struct {
	Workers   int
	TTL       time.Duration
	QueueSize int
}

// ConfigFromCommon maps the [jobs] section onto Config
func ConfigFromCommon(config *common.Config) Config {
	return Config{
		Workers:   config.Jobs.Workers,
		TTL:       config.JobTTL(),
		QueueSize: config.Jobs.QueueSize,
	}
}

type submission struct {
	jobID      string
	userIDHint string
	username   string
	password   string
	rememberMe bool
}

// Manager owns the in-memory job table and the fixed worker pool that runs
// sync jobs. Jobs are immutable snapshots replaced on every transition;
// each job is written only by the worker running it.
type Manager struct {
	coordinator interfaces.SyncCoordinator
	jobs        *ttlcache.Cache[string, models.SyncJob]
	queue       chan submission
	config      Config
	logger      arbor.ILogger
	now         func() time.Time

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

var _ interfaces.JobManager = (*Manager)(nil)

// NewManager creates a job manager. Call Start to launch the workers.
func NewManager(coordinator interfaces.SyncCoordinator, config Config, logger arbor.ILogger) *Manager {
	if config.Workers <= 0 {
		config.Workers = 5
	}
	if config.TTL <= 0 {
		config.TTL = 10 * time.Minute
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		coordinator: coordinator,
		jobs: ttlcache.New[string, models.SyncJob](
			ttlcache.WithTTL[string, models.SyncJob](config.TTL),
			ttlcache.WithDisableTouchOnHit[string, models.SyncJob](),
		),
		queue:  make(chan submission, config.QueueSize),
		config: config,
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker pool
func (m *Manager) Start() {
	m.logger.Info().
		Int("workers", m.config.Workers).
		Int("queue_size", m.config.QueueSize).
		Str("job_ttl", m.config.TTL.String()).
		Msg("Starting sync worker pool")

	for i := 0; i < m.config.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
}

// Stop stops accepting jobs, cancels the context of running syncs and waits
// for their workers to return. An interrupted sync ends FAILED, as do jobs
// still waiting in the queue.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.logger.Info().Msg("Stopping sync worker pool...")
	m.cancel()
	m.wg.Wait()

	for {
		select {
		case sub := <-m.queue:
			m.update(sub.jobID, func(job models.SyncJob) models.SyncJob {
				return job.Failed("service is shutting down", m.now())
			})
		default:
			m.logger.Info().Msg("Sync worker pool stopped")
			return
		}
	}
}

// StartJob registers a QUEUED job and hands it to the pool. Idle jobs older
// than the TTL are evicted first.
func (m *Manager) StartJob(userIDHint, username, password string, rememberMe bool) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", ErrUsernameRequired
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return "", ErrStopped
	}

	m.jobs.DeleteExpired()

	jobID := common.NewJobID()
	m.jobs.Set(jobID, models.NewSyncJob(jobID, username, rememberMe, m.now()), ttlcache.DefaultTTL)

	sub := submission{
		jobID:      jobID,
		userIDHint: userIDHint,
		username:   username,
		password:   password,
		rememberMe: rememberMe,
	}
	select {
	case m.queue <- sub:
	default:
		m.jobs.Delete(jobID)
		m.logger.Warn().Str("username", username).Msg("Sync queue full, rejecting job")
		return "", ErrQueueFull
	}

	m.logger.Info().Str("job_id", jobID).Str("username", username).Bool("remember_me", rememberMe).Msg("Sync job queued")
	return jobID, nil
}

// GetJob returns the current snapshot of a job. It never mutates the table.
func (m *Manager) GetJob(jobID string) (models.SyncJob, bool) {
	item := m.jobs.Get(jobID)
	if item == nil {
		return models.SyncJob{}, false
	}
	return item.Value(), true
}

func (m *Manager) worker(workerID int) {
	defer m.wg.Done()

	m.logger.Debug().Int("worker_id", workerID).Msg("Sync worker started")

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Debug().Int("worker_id", workerID).Msg("Sync worker stopping")
			return
		case sub := <-m.queue:
			m.run(workerID, sub)
		}
	}
}

// run executes one job. A panic fails the job instead of killing the worker.
func (m *Manager) run(workerID int, sub submission) {
	logger := m.logger.WithCorrelationId(sub.jobID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("Sync job panicked")
			m.update(sub.jobID, func(job models.SyncJob) models.SyncJob {
				return job.Failed(genericFailurePrefix+"internal error", m.now())
			})
		}
	}()

	logger.Info().Int("worker_id", workerID).Str("username", sub.username).Msg("Sync job started")

	m.update(sub.jobID, func(job models.SyncJob) models.SyncJob {
		return job.WithStatus(models.JobStatusInProgress, "Connecting to the portal", m.now())
	})

	sink := &jobSink{manager: m, jobID: sub.jobID, logger: logger}
	result, err := m.coordinator.ExecuteSync(m.ctx, sub.userIDHint, sub.username, sub.password, sub.rememberMe, sink)
	if err != nil {
		logger.Error().Err(err).Str("kind", string(models.KindOf(err))).Msg("Sync job failed")
		m.update(sub.jobID, func(job models.SyncJob) models.SyncJob {
			return job.Failed(FailureMessage(err), m.now())
		})
		return
	}

	m.update(sub.jobID, func(job models.SyncJob) models.SyncJob {
		return job.Completed(result, "Timetable and assignments are up to date", m.now())
	})
	logger.Info().
		Int("courses", len(result.Timetable)).
		Int("assignments", len(result.Assignments)).
		Msg("Sync job completed")
}

// update replaces a job's snapshot. Only the owning worker calls it, so the
// read and write need no further locking.
func (m *Manager) update(jobID string, transition func(models.SyncJob) models.SyncJob) {
	item := m.jobs.Get(jobID)
	if item == nil {
		m.logger.Warn().Str("job_id", jobID).Msg("Job evicted before it finished, dropping update")
		return
	}
	m.jobs.Set(jobID, transition(item.Value()), ttlcache.DefaultTTL)
}
