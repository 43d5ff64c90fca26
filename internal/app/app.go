// -----------------------------------------------------------------------
// Last Modified: Monday, 12th October 2026 9:41:07 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/common"
	"github.com/ternarybob/campussync/internal/handlers"
	"github.com/ternarybob/campussync/internal/interfaces"
	"github.com/ternarybob/campussync/internal/services/browser"
	"github.com/ternarybob/campussync/internal/services/coordinator"
	"github.com/ternarybob/campussync/internal/services/jobs"
	"github.com/ternarybob/campussync/internal/services/portal"
	"github.com/ternarybob/campussync/internal/services/scheduler"
	"github.com/ternarybob/campussync/internal/services/scraper"
	"github.com/ternarybob/campussync/internal/services/vault"
	"github.com/ternarybob/campussync/internal/storage"
	"github.com/ternarybob/campussync/internal/storage/badger"
)

// App holds all process-scoped state. Everything is created in New and
// released in Close; nothing lives in package globals.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB                *badger.BadgerDB
	CredentialStorage interfaces.CredentialStorage

	// Services
	Vault         interfaces.Vault
	Launcher      *browser.Launcher
	Fetcher       *portal.Fetcher
	Extractor     *scraper.Service
	Authenticator *portal.Authenticator
	Coordinator   *coordinator.Service
	JobManager    *jobs.Manager
	Scheduler     *scheduler.Service

	// Handlers
	APIHandler        *handlers.APIHandler
	SyncHandler       *handlers.SyncHandler
	SyncStreamHandler *handlers.SyncStreamHandler
}

// New builds the application from a validated config
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Int("workers", cfg.Jobs.Workers).
		Int("browser_instances", cfg.Browser.MaxInstances).
		Bool("refresh_enabled", cfg.Refresh.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens the credential store
func (a *App) initDatabase() error {
	db, credentials, err := storage.NewCredentialStore(a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.DB = db
	a.CredentialStorage = credentials
	return nil
}

// initServices wires vault, portal automation, coordinator, jobs and the refresh scheduler
func (a *App) initServices() error {
	key, err := a.Config.MasterKeyBytes()
	if err != nil {
		return err
	}
	vaultService, err := vault.NewService(key)
	if err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}
	a.Vault = vaultService

	a.Launcher = browser.NewLauncher(browser.LauncherConfigFromConfig(a.Config), a.Logger)

	a.Fetcher = portal.NewFetcher(a.Logger,
		portal.WithUserAgent(a.Config.Portal.UserAgent),
		portal.WithTimeout(a.Config.Portal.RequestTimeout),
		portal.WithRateLimit(a.Config.Portal.RequestsPerSecond),
	)

	a.Extractor = scraper.NewService(a.Fetcher, a.Config.Portal.HomeCourseURL, a.Logger)

	projector := portal.NewProjector(a.Config.Location(), nil, a.Logger)
	a.Authenticator = portal.NewAuthenticator(
		portal.SettingsFromConfig(a.Config),
		a.Launcher,
		a.Fetcher,
		a.Extractor,
		projector,
		a.Logger,
	)

	a.Coordinator = coordinator.NewService(a.CredentialStorage, a.Vault, a.Authenticator, a.Logger)

	a.JobManager = jobs.NewManager(a.Coordinator, jobs.ConfigFromCommon(a.Config), a.Logger)
	a.JobManager.Start()

	if a.Config.Refresh.Enabled {
		schedule, err := a.Config.RefreshSchedule()
		if err != nil {
			return err
		}
		a.Scheduler = scheduler.NewService(a.CredentialStorage, a.Coordinator, schedule, a.Config.Refresh.RunOnStart, a.Logger)
	} else {
		a.Logger.Info().Msg("Session refresh disabled")
	}

	return nil
}

func (a *App) initHandlers() {
	var refresh handlers.RefreshStatusProvider
	if a.Scheduler != nil {
		refresh = a.Scheduler
	}
	a.APIHandler = handlers.NewAPIHandler(refresh, a.Logger)
	a.SyncHandler = handlers.NewSyncHandler(a.JobManager, a.Logger)
	a.SyncStreamHandler = handlers.NewSyncStreamHandler(a.JobManager, 0, a.Logger)
}

// StartBackground starts the refresh scheduler when enabled
func (a *App) StartBackground(ctx context.Context) error {
	if a.Scheduler == nil {
		return nil
	}
	return a.Scheduler.Start(ctx)
}

// Close stops background work, then releases browsers and storage
func (a *App) Close() error {
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop refresh scheduler")
		}
	}

	if a.JobManager != nil {
		a.JobManager.Stop()
	}

	if a.Launcher != nil {
		if err := a.Launcher.Shutdown(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to shut down browser launcher")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
