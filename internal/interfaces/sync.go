package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/campussync/internal/models"
)

// Stage labels reported through a ProgressSink
const (
	StageAuthStart          = "AUTH_START"
	StageCookieAuth         = "COOKIE_AUTH"
	StageFetchHome          = "FETCH_HOME"
	StageFetchHomeSuccess   = "FETCH_HOME_SUCCESS"
	StageCookieFail         = "COOKIE_FAIL"
	StagePasswordAuth       = "PASSWORD_AUTH"
	StageAccessLoginPage    = "ACCESS_LOGIN_PAGE"
	StageInputUsername      = "INPUT_USERNAME"
	StageClickNext          = "CLICK_NEXT_1"
	StageInputPassword      = "INPUT_PASSWORD"
	StageClickSignIn        = "CLICK_SIGNIN"
	StagePasswordSubmitted  = "PASSWORD_SUBMITTED"
	StageConfirmKMSI        = "CONFIRM_KMSI"
	StageWaitingHome        = "WAITING_HOME"
	StageLoginSuccess       = "LOGIN_SUCCESS"
	StageFetchCookies       = "FETCH_COOKIE_PAGE"
	StageFetchCookieSuccess = "FETCH_COOKIE_SUCCESS"
	StageScrapeStart        = "SCRAPE_START"
	StageScrapeComplete     = "SCRAPE_COMPLETE"
	StageDataProcessing     = "DATA_PROCESSING"
	StageDataProcessingDone = "DATA_PROCESSING_COMPLETE"
	StageError              = "ERROR"
)

// ProgressSink receives live progress from a running sync. It is invoked synchronously
// on the goroutine performing the sync and is the only channel an MFA prompt travels on.
type ProgressSink interface {
	OnStatusUpdate(stage, message string)
	OnMfaRequired(code, message string)
}

// Vault encrypts secrets at rest
type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
}

// LoginDriver is one isolated browser session used for interactive login.
// Every wait carries its own timeout and reports expiry as context.DeadlineExceeded.
type LoginDriver interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// Probe reports whether selector becomes visible within timeout; expiry is not an error
	Probe(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	SendKeys(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	Text(ctx context.Context, selector string) (string, error)
	Value(ctx context.Context, selector string) (string, error)
	Location(ctx context.Context) (string, error)
	WaitURLContains(ctx context.Context, fragment string, timeout time.Duration) error
	// Cookies returns the cookies the browser would send to pageURL
	Cookies(ctx context.Context, pageURL string) (models.CookieMap, error)
	Close()
}

// BrowserLauncher hands out isolated login sessions
type BrowserLauncher interface {
	NewSession(ctx context.Context) (LoginDriver, error)
	Shutdown() error
}

// Page is the result of an authenticated page fetch
type Page struct {
	URL         string
	StatusCode  int
	Title       string
	IsLoginPage bool
	Body        []byte
}

// PageFetcher performs cookie-authenticated GETs against the portal
type PageFetcher interface {
	Fetch(ctx context.Context, url string, cookies models.CookieMap) (*Page, error)
}

// Extractor turns an authenticated session into raw timetable and assignment records
type Extractor interface {
	Extract(ctx context.Context, cookies models.CookieMap) ([]models.RawCourse, []models.RawAssignment, error)
}

// Authenticator runs the portal login state machine
type Authenticator interface {
	// Sync authenticates and extracts data, returning the sanitized result and fresh cookies
	Sync(ctx context.Context, username, password string, cookies models.CookieMap, sink ProgressSink) (*models.SyncOutcome, error)
	// Refresh authenticates only and returns the session cookies
	Refresh(ctx context.Context, username, password string, cookies models.CookieMap, sink ProgressSink) (models.CookieMap, error)
}

// SyncCoordinator reconciles authenticator results with stored credentials
type SyncCoordinator interface {
	ExecuteSync(ctx context.Context, userIDHint, username, password string, rememberMe bool, sink ProgressSink) (*models.SyncResult, error)
	RefreshSessionOnly(ctx context.Context, recordID string, sink ProgressSink) error
}

// JobManager runs sync jobs asynchronously
type JobManager interface {
	StartJob(userIDHint, username, password string, rememberMe bool) (string, error)
	GetJob(jobID string) (models.SyncJob, bool)
}
