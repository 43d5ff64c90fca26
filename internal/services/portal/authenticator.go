package portal

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/common"
	"github.com/ternarybob/campussync/internal/interfaces"
	"github.com/ternarybob/campussync/internal/models"
)

// Settings are the portal endpoints and wait budgets used by the authenticator
type Settings struct {
	LoginURL       string
	HomeCourseURL  string
	HomePath       string
	ElementTimeout time.Duration
	MFATimeout     time.Duration
	KMSITimeout    time.Duration
	ErrorProbe     time.Duration
}

// SettingsFromConfig maps the [portal] and [browser] sections onto Settings
func SettingsFromConfig(config *common.Config) Settings {
	return Settings{
		LoginURL:       config.Portal.LoginURL,
		HomeCourseURL:  config.Portal.HomeCourseURL,
		HomePath:       config.Portal.HomePath,
		ElementTimeout: config.Browser.ElementTimeout,
		MFATimeout:     config.Browser.MFATimeout,
		KMSITimeout:    config.Browser.KMSITimeout,
		ErrorProbe:     config.Browser.ErrorProbe,
	}
}

// Authenticator is the portal login state machine: cached cookies first,
// interactive browser login when they no longer authenticate.
type Authenticator struct {
	settings  Settings
	launcher  interfaces.BrowserLauncher
	fetcher   interfaces.PageFetcher
	extractor interfaces.Extractor
	projector *Projector
	logger    arbor.ILogger
}

var _ interfaces.Authenticator = (*Authenticator)(nil)

// NewAuthenticator creates a new authenticator
func NewAuthenticator(
	settings Settings,
	launcher interfaces.BrowserLauncher,
	fetcher interfaces.PageFetcher,
	extractor interfaces.Extractor,
	projector *Projector,
	logger arbor.ILogger,
) *Authenticator {
	return &Authenticator{
		settings:  settings,
		launcher:  launcher,
		fetcher:   fetcher,
		extractor: extractor,
		projector: projector,
		logger:    logger,
	}
}

// Sync authenticates, extracts and projects the user's data.
// The returned outcome carries the cookies that authenticated the extraction.
func (a *Authenticator) Sync(ctx context.Context, username, password string, cookies models.CookieMap, sink interfaces.ProgressSink) (*models.SyncOutcome, error) {
	session, err := a.authenticate(ctx, username, password, cookies, sink)
	if err != nil {
		return nil, err
	}

	sink.OnStatusUpdate(interfaces.StageScrapeStart, "Collecting timetable and assignments")
	courses, assignments, err := a.extractor.Extract(ctx, session)
	if err != nil {
		if models.KindOf(err) != models.ErrUnexpected {
			return nil, err
		}
		return nil, models.NewSyncError(models.ErrExtractionFailure, "failed to read portal data", err)
	}
	sink.OnStatusUpdate(interfaces.StageScrapeComplete, "Portal data collected")

	sink.OnStatusUpdate(interfaces.StageDataProcessing, "Organising results")
	result := a.projector.Project(username, courses, assignments)
	sink.OnStatusUpdate(interfaces.StageDataProcessingDone, "Results ready")

	a.logger.Info().
		Str("username", username).
		Int("courses", len(result.Timetable)).
		Int("assignments", len(result.Assignments)).
		Msg("Portal sync complete")

	return &models.SyncOutcome{Result: result, Cookies: session}, nil
}

// Refresh authenticates without extracting, returning the live session cookies
func (a *Authenticator) Refresh(ctx context.Context, username, password string, cookies models.CookieMap, sink interfaces.ProgressSink) (models.CookieMap, error) {
	return a.authenticate(ctx, username, password, cookies, sink)
}

func (a *Authenticator) authenticate(ctx context.Context, username, password string, cookies models.CookieMap, sink interfaces.ProgressSink) (models.CookieMap, error) {
	sink.OnStatusUpdate(interfaces.StageAuthStart, "Starting authentication")

	if len(cookies) > 0 {
		sink.OnStatusUpdate(interfaces.StageCookieAuth, "Trying saved session")
		valid, err := a.cookiesStillValid(ctx, cookies, sink)
		if err != nil {
			return nil, err
		}
		if valid {
			return cookies, nil
		}
		a.logger.Info().Str("username", username).Msg("Saved session expired, falling back to password login")
		sink.OnStatusUpdate(interfaces.StageCookieFail, "Saved session expired, signing in with password")
	}

	if username == "" || password == "" {
		return nil, models.NewSyncError(models.ErrInvalidState,
			"no valid session available; sign in again with your username and password", nil)
	}

	sink.OnStatusUpdate(interfaces.StagePasswordAuth, "Starting password sign-in")
	return a.interactiveLogin(ctx, username, password, sink)
}

// cookiesStillValid fetches the landing page with cookies. A login page means the
// session expired; any other fetch failure is returned as-is.
func (a *Authenticator) cookiesStillValid(ctx context.Context, cookies models.CookieMap, sink interfaces.ProgressSink) (bool, error) {
	sink.OnStatusUpdate(interfaces.StageFetchHome, "Loading portal home page")

	page, err := a.fetcher.Fetch(ctx, a.settings.HomeCourseURL, cookies)
	if err != nil {
		return false, err
	}
	if page.IsLoginPage {
		return false, nil
	}

	sink.OnStatusUpdate(interfaces.StageFetchHomeSuccess, "Portal home page loaded")
	return true, nil
}

func (a *Authenticator) interactiveLogin(ctx context.Context, username, password string, sink interfaces.ProgressSink) (models.CookieMap, error) {
	driver, err := a.launcher.NewSession(ctx)
	if err != nil {
		return nil, models.NewSyncError(models.ErrUnexpected, "failed to start browser session", err)
	}
	defer driver.Close()

	session := &loginSession{
		driver:   driver,
		username: username,
		password: password,
		sink:     sink,
		settings: a.settings,
		logger:   a.logger,
	}

	started := time.Now()
	if err := runLoginSteps(ctx, loginSteps(a.settings), session); err != nil {
		a.logger.Warn().Err(err).Str("username", username).Msg("Interactive login failed")
		return nil, err
	}

	sink.OnStatusUpdate(interfaces.StageFetchCookies, "Capturing session")
	navCtx, cancel := context.WithTimeout(ctx, a.settings.ElementTimeout)
	defer cancel()
	if err := driver.Navigate(navCtx, a.settings.HomeCourseURL); err != nil {
		return nil, classifyStepError(loginStep{stage: interfaces.StageFetchCookies, failKind: models.ErrUnexpected}, err)
	}

	cookies, err := driver.Cookies(navCtx, a.settings.HomeCourseURL)
	if err != nil {
		return nil, models.NewSyncError(models.ErrExtractionFailure, "failed to read session cookies", err)
	}
	if len(cookies) == 0 {
		return nil, models.NewSyncError(models.ErrExtractionFailure, "login succeeded but no session could be captured", nil)
	}

	sink.OnStatusUpdate(interfaces.StageFetchCookieSuccess, "Session captured")
	a.logger.Info().
		Str("username", username).
		Int("cookies", len(cookies)).
		Str("elapsed", time.Since(started).Round(time.Millisecond).String()).
		Msg("Interactive login complete")
	return cookies, nil
}
