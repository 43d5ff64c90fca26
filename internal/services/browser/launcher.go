// -----------------------------------------------------------------------
// Browser launcher - one isolated headless Chrome per login session
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/common"
	"github.com/ternarybob/campussync/internal/interfaces"
)

// LauncherConfig holds configuration for browser sessions
type LauncherConfig struct {
	MaxInstances   int
	UserAgent      string
	Headless       bool
	DisableGPU     bool
	NoSandbox      bool
	WindowWidth    int
	WindowHeight   int
	StartupTimeout time.Duration
}

// LauncherConfigFromConfig maps the [browser] and [portal] sections onto LauncherConfig
func LauncherConfigFromConfig(config *common.Config) LauncherConfig {
	return LauncherConfig{
		MaxInstances:   config.Browser.MaxInstances,
		UserAgent:      config.Portal.UserAgent,
		Headless:       config.Browser.Headless,
		DisableGPU:     config.Browser.DisableGPU,
		NoSandbox:      config.Browser.NoSandbox,
		WindowWidth:    config.Browser.WindowWidth,
		WindowHeight:   config.Browser.WindowHeight,
		StartupTimeout: config.Portal.RequestTimeout,
	}
}

// Launcher starts a dedicated Chrome process for every login session so that
// cookies never leak between users. Concurrent sessions are capped by MaxInstances.
type Launcher struct {
	config LauncherConfig
	slots  chan struct{}
	logger arbor.ILogger

	mu       sync.Mutex
	active   map[*Session]struct{}
	shutdown bool
}

var _ interfaces.BrowserLauncher = (*Launcher)(nil)

// NewLauncher creates a new browser launcher
func NewLauncher(config LauncherConfig, logger arbor.ILogger) *Launcher {
	if config.MaxInstances <= 0 {
		config.MaxInstances = 1
	}
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = 30 * time.Second
	}
	if config.WindowWidth <= 0 || config.WindowHeight <= 0 {
		config.WindowWidth, config.WindowHeight = 1920, 1080
	}

	return &Launcher{
		config: config,
		slots:  make(chan struct{}, config.MaxInstances),
		logger: logger,
		active: make(map[*Session]struct{}),
	}
}

func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.config.Headless),
		chromedp.Flag("disable-gpu", l.config.DisableGPU),
		chromedp.Flag("no-sandbox", l.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(l.config.WindowWidth, l.config.WindowHeight),
	)
	if l.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.config.UserAgent))
	}
	return opts
}

// NewSession blocks until a browser slot is free, then starts and smoke-tests a fresh browser.
// The caller must Close the session.
func (l *Launcher) NewSession(ctx context.Context) (interfaces.LoginDriver, error) {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for browser slot: %w", ctx.Err())
	}

	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		<-l.slots
		return nil, fmt.Errorf("browser launcher is shut down")
	}
	l.mu.Unlock()

	startTime := time.Now()

	// Browser lifetime is bounded by Close, not by the caller's request context
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	testCtx, testCancel := context.WithTimeout(browserCtx, l.config.StartupTimeout)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		<-l.slots
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	session := &Session{
		browserCtx: browserCtx,
		logger:     l.logger,
	}
	session.release = func() {
		browserCancel()
		allocatorCancel()
		l.mu.Lock()
		delete(l.active, session)
		l.mu.Unlock()
		<-l.slots
	}

	l.mu.Lock()
	l.active[session] = struct{}{}
	l.mu.Unlock()

	l.logger.Debug().
		Int("active_sessions", len(l.slots)).
		Str("startup_time", time.Since(startTime).Round(time.Millisecond).String()).
		Msg("Browser session started")

	return session, nil
}

// Shutdown closes every live session and refuses new ones
func (l *Launcher) Shutdown() error {
	l.mu.Lock()
	l.shutdown = true
	sessions := make([]*Session, 0, len(l.active))
	for s := range l.active {
		sessions = append(sessions, s)
	}
	l.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	l.logger.Info().Int("sessions_closed", len(sessions)).Msg("Browser launcher shut down")
	return nil
}

// ActiveSessions returns the number of sessions currently holding a slot
func (l *Launcher) ActiveSessions() int {
	return len(l.slots)
}
