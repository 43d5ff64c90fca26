package portal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/interfaces"
	"github.com/ternarybob/campussync/internal/models"
)

// --- fakes ---

type fakeDriver struct {
	mu         sync.Mutex
	visible    map[string]bool
	texts      map[string]string
	values     map[string]string
	waitErr    map[string]error
	location   string
	homeErr    error
	cookies    models.CookieMap
	typed      map[string]string
	clicks     []string
	closed     bool
	onClick    func(d *fakeDriver, selector string, n int)
	navigated  []string
	cookieURLs []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		visible:  map[string]bool{selUsernameInput: true, selPasswordInput: true, selSubmitButton: true},
		texts:    map[string]string{selSubmitButton: "Sign in"},
		values:   map[string]string{},
		waitErr:  map[string]error{},
		typed:    map[string]string{},
		location: "https://login.example.test/",
		cookies:  models.CookieMap{"sessionid": "fresh"},
	}
}

// reachHomeAfterSignIn moves the fake to the landing route on the second submit click
func (d *fakeDriver) reachHomeAfterSignIn() *fakeDriver {
	d.onClick = func(d *fakeDriver, selector string, n int) {
		if selector == selSubmitButton && n == 2 {
			d.location = "https://portal.example.test/ct/home"
		}
	}
	return d
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigated = append(d.navigated, url)
	return nil
}

func (d *fakeDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.waitErr[selector]; err != nil {
		return err
	}
	if !d.visible[selector] {
		return context.DeadlineExceeded
	}
	return nil
}

func (d *fakeDriver) Probe(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visible[selector], nil
}

func (d *fakeDriver) SendKeys(ctx context.Context, selector, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typed[selector] = text
	return nil
}

func (d *fakeDriver) Click(ctx context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks = append(d.clicks, selector)
	if d.onClick != nil {
		n := 0
		for _, c := range d.clicks {
			if c == selector {
				n++
			}
		}
		d.onClick(d, selector, n)
	}
	return nil
}

func (d *fakeDriver) Text(ctx context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.texts[selector], nil
}

func (d *fakeDriver) Value(ctx context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[selector], nil
}

func (d *fakeDriver) Location(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.location, nil
}

func (d *fakeDriver) WaitURLContains(ctx context.Context, fragment string, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.homeErr != nil {
		return d.homeErr
	}
	return nil
}

func (d *fakeDriver) Cookies(ctx context.Context, pageURL string) (models.CookieMap, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cookieURLs = append(d.cookieURLs, pageURL)
	return d.cookies, nil
}

func (d *fakeDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

type fakeLauncher struct {
	driver   *fakeDriver
	sessions int
}

func (l *fakeLauncher) NewSession(ctx context.Context) (interfaces.LoginDriver, error) {
	l.sessions++
	return l.driver, nil
}

func (l *fakeLauncher) Shutdown() error { return nil }

type fakeFetcher struct {
	page  *interfaces.Page
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, cookies models.CookieMap) (*interfaces.Page, error) {
	f.calls++
	return f.page, f.err
}

type fakeExtractor struct {
	gotCookies models.CookieMap
	err        error
	calls      int
}

func (e *fakeExtractor) Extract(ctx context.Context, cookies models.CookieMap) ([]models.RawCourse, []models.RawAssignment, error) {
	e.calls++
	e.gotCookies = cookies
	if e.err != nil {
		return nil, nil, e.err
	}
	return []models.RawCourse{{Day: "月", Period: "1", Name: "Calculus", Location: "B201"}},
		[]models.RawAssignment{{CourseName: "Calculus", Category: "レポート", Title: "HW1", Deadline: "2024/05/10(金) 23:59"}},
		nil
}

type recordingSink struct {
	stages  []string
	mfaCode string
	mfaMsg  string
}

func (s *recordingSink) OnStatusUpdate(stage, message string) { s.stages = append(s.stages, stage) }
func (s *recordingSink) OnMfaRequired(code, message string) {
	s.mfaCode = code
	s.mfaMsg = message
}

// --- helpers ---

func testSettings() Settings {
	return Settings{
		LoginURL:       "https://portal.example.test/ct/login",
		HomeCourseURL:  "https://portal.example.test/ct/home_course",
		HomePath:       "/ct/home",
		ElementTimeout: time.Second,
		MFATimeout:     10 * time.Millisecond,
		KMSITimeout:    50 * time.Millisecond,
		ErrorProbe:     10 * time.Millisecond,
	}
}

type authFixture struct {
	auth      *Authenticator
	driver    *fakeDriver
	launcher  *fakeLauncher
	fetcher   *fakeFetcher
	extractor *fakeExtractor
	sink      *recordingSink
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	driver := newFakeDriver().reachHomeAfterSignIn()
	f := &authFixture{
		driver:    driver,
		launcher:  &fakeLauncher{driver: driver},
		fetcher:   &fakeFetcher{page: &interfaces.Page{Title: "Home", StatusCode: 200}},
		extractor: &fakeExtractor{},
		sink:      &recordingSink{},
	}
	logger := arbor.NewLogger()
	f.auth = NewAuthenticator(testSettings(), f.launcher, f.fetcher, f.extractor,
		NewProjector(time.UTC, nil, logger), logger)
	return f
}

// --- tests ---

func TestSync_ValidCookiesSkipBrowser(t *testing.T) {
	f := newAuthFixture(t)
	cookies := models.CookieMap{"sessionid": "cached"}

	outcome, err := f.auth.Sync(context.Background(), "alice", "", cookies, f.sink)
	require.NoError(t, err)

	assert.Equal(t, 0, f.launcher.sessions)
	assert.Equal(t, cookies, outcome.Cookies)
	assert.Equal(t, cookies, f.extractor.gotCookies)
	assert.Equal(t, "alice", outcome.Result.Username)
	require.Len(t, outcome.Result.Assignments, 1)
	assert.Equal(t, "2024-05-10T23:59:00", *outcome.Result.Assignments[0].Deadline)
	assert.Contains(t, f.sink.stages, interfaces.StageFetchHomeSuccess)
	assert.Contains(t, f.sink.stages, interfaces.StageDataProcessingDone)
}

func TestSync_ExpiredCookiesFallBackToPassword(t *testing.T) {
	f := newAuthFixture(t)
	f.fetcher.page = &interfaces.Page{Title: "Sign in", IsLoginPage: true}

	outcome, err := f.auth.Sync(context.Background(), "alice", "pw", models.CookieMap{"sessionid": "stale"}, f.sink)
	require.NoError(t, err)

	assert.Equal(t, 1, f.launcher.sessions)
	assert.True(t, f.driver.closed)
	assert.Equal(t, models.CookieMap{"sessionid": "fresh"}, outcome.Cookies)
	assert.Equal(t, "alice", f.driver.typed[selUsernameInput])
	assert.Equal(t, "pw", f.driver.typed[selPasswordInput])
	assert.Contains(t, f.sink.stages, interfaces.StageCookieFail)
	assert.Contains(t, f.sink.stages, interfaces.StageLoginSuccess)
	assert.Contains(t, f.sink.stages, interfaces.StageFetchCookieSuccess)
	assert.Contains(t, f.driver.navigated, testSettings().HomeCourseURL)
	assert.Equal(t, []string{testSettings().HomeCourseURL}, f.driver.cookieURLs)
}

func TestSync_ExpiredCookiesWithoutPasswordIsInvalidState(t *testing.T) {
	f := newAuthFixture(t)
	f.fetcher.page = &interfaces.Page{IsLoginPage: true}

	_, err := f.auth.Sync(context.Background(), "alice", "", models.CookieMap{"sessionid": "stale"}, f.sink)
	require.Error(t, err)

	assert.True(t, models.IsKind(err, models.ErrInvalidState))
	assert.Equal(t, 0, f.launcher.sessions)
}

func TestSync_NoCredentialsIsInvalidState(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.auth.Sync(context.Background(), "alice", "", nil, f.sink)
	assert.True(t, models.IsKind(err, models.ErrInvalidState))
	assert.Equal(t, 0, f.fetcher.calls)
}

func TestSync_CookieFetchFailureIsFatal(t *testing.T) {
	f := newAuthFixture(t)
	f.fetcher.err = models.NewSyncError(models.ErrTimeout, "portal did not respond in time", nil)

	_, err := f.auth.Sync(context.Background(), "alice", "pw", models.CookieMap{"sessionid": "cached"}, f.sink)
	require.Error(t, err)

	assert.True(t, models.IsKind(err, models.ErrTimeout))
	assert.Equal(t, 0, f.launcher.sessions)
}

func TestSync_UnknownUsernameIsRejected(t *testing.T) {
	f := newAuthFixture(t)
	f.driver.visible[selUsernameError] = true
	f.driver.texts[selUsernameError] = "This username may be incorrect."

	_, err := f.auth.Sync(context.Background(), "nobody", "pw", nil, f.sink)
	require.Error(t, err)

	assert.True(t, models.IsKind(err, models.ErrLoginRejected))
	assert.Contains(t, err.Error(), "This username may be incorrect.")
	assert.Empty(t, f.driver.typed[selPasswordInput])
	assert.True(t, f.driver.closed)
}

func TestSync_WrongPasswordIsRejected(t *testing.T) {
	f := newAuthFixture(t)
	f.driver.visible[selPasswordError] = true

	_, err := f.auth.Sync(context.Background(), "alice", "bad", nil, f.sink)
	require.Error(t, err)

	assert.True(t, models.IsKind(err, models.ErrLoginRejected))
	assert.Contains(t, err.Error(), "rejected the password")
	assert.Contains(t, f.sink.stages, interfaces.StagePasswordSubmitted)
	assert.NotContains(t, f.sink.stages, interfaces.StageLoginSuccess)
}

func TestSync_MFACodeIsReportedAndLoginContinues(t *testing.T) {
	f := newAuthFixture(t)
	f.driver.visible[selMFADisplay] = true
	f.driver.texts[selMFADisplay] = " 42 "

	_, err := f.auth.Sync(context.Background(), "alice", "pw", nil, f.sink)
	require.NoError(t, err)

	assert.Equal(t, "42", f.sink.mfaCode)
	assert.Contains(t, f.sink.mfaMsg, "[42]")
	assert.Contains(t, f.sink.stages, interfaces.StageLoginSuccess)
}

func TestSync_StaySignedInPromptIsConfirmed(t *testing.T) {
	f := newAuthFixture(t)
	f.driver.onClick = func(d *fakeDriver, selector string, n int) {
		switch n {
		case 2:
			d.texts[selSubmitButton] = ""
			d.values[selSubmitButton] = "Yes"
		case 3:
			d.location = "https://portal.example.test/ct/home"
		}
	}

	_, err := f.auth.Sync(context.Background(), "alice", "pw", nil, f.sink)
	require.NoError(t, err)

	assert.Contains(t, f.sink.stages, interfaces.StageConfirmKMSI)
	assert.Len(t, f.driver.clicks, 3)
}

func TestSync_LandingTimeoutIsClassified(t *testing.T) {
	f := newAuthFixture(t)
	f.driver.onClick = nil
	f.driver.homeErr = context.DeadlineExceeded

	_, err := f.auth.Sync(context.Background(), "alice", "pw", nil, f.sink)
	require.Error(t, err)

	assert.True(t, models.IsKind(err, models.ErrTimeout))
	assert.Contains(t, err.Error(), "slow or unreachable")
}

func TestSync_MissingFormFieldIsTimeout(t *testing.T) {
	f := newAuthFixture(t)
	f.driver.visible[selUsernameInput] = false

	_, err := f.auth.Sync(context.Background(), "alice", "pw", nil, f.sink)
	assert.True(t, models.IsKind(err, models.ErrTimeout))
}

func TestSync_EmptyCookiesAfterLoginIsExtractionFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.driver.cookies = models.CookieMap{}

	_, err := f.auth.Sync(context.Background(), "alice", "pw", nil, f.sink)
	require.Error(t, err)

	assert.True(t, models.IsKind(err, models.ErrExtractionFailure))
	assert.Equal(t, 0, f.extractor.calls)
}

func TestSync_ExtractorErrorIsExtractionFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.extractor.err = errors.New("timetable table missing")

	_, err := f.auth.Sync(context.Background(), "alice", "", models.CookieMap{"sessionid": "cached"}, f.sink)
	assert.True(t, models.IsKind(err, models.ErrExtractionFailure))
}

func TestRefresh_ReturnsCookiesWithoutExtracting(t *testing.T) {
	f := newAuthFixture(t)
	f.fetcher.page = &interfaces.Page{IsLoginPage: true}

	cookies, err := f.auth.Refresh(context.Background(), "alice", "pw", models.CookieMap{"sessionid": "stale"}, f.sink)
	require.NoError(t, err)

	assert.Equal(t, models.CookieMap{"sessionid": "fresh"}, cookies)
	assert.Equal(t, 0, f.extractor.calls)
}

func TestRefresh_ExpiredCookiesWithoutPasswordIsInvalidState(t *testing.T) {
	f := newAuthFixture(t)
	f.fetcher.page = &interfaces.Page{Title: "Sign in", IsLoginPage: true}

	cookies, err := f.auth.Refresh(context.Background(), "alice", "", models.CookieMap{"sessionid": "stale"}, f.sink)
	require.Error(t, err)

	assert.Nil(t, cookies)
	assert.True(t, models.IsKind(err, models.ErrInvalidState))
	assert.Equal(t, 1, f.fetcher.calls)
	assert.Equal(t, 0, f.launcher.sessions)
	assert.Contains(t, f.sink.stages, interfaces.StageCookieFail)
}

func TestLoginSteps_Order(t *testing.T) {
	var stages []string
	for _, step := range loginSteps(testSettings()) {
		if step.stage != "" {
			stages = append(stages, step.stage)
		}
	}

	assert.Equal(t, []string{
		interfaces.StageAccessLoginPage,
		interfaces.StageInputUsername,
		interfaces.StageClickNext,
		interfaces.StageInputPassword,
		interfaces.StageClickSignIn,
		interfaces.StageWaitingHome,
	}, stages)
}
