// -----------------------------------------------------------------------
// Interactive login - ordered steps driven through a LoginDriver
// -----------------------------------------------------------------------

package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/interfaces"
	"github.com/ternarybob/campussync/internal/models"
)

// Identity provider element selectors
const (
	selUsernameInput = "#i0116"
	selPasswordInput = "#i0118"
	selSubmitButton  = "#idSIButton9"
	selMFADisplay    = "#idRichContext_DisplaySign"
	selUsernameError = "#usernameError"
	selPasswordError = "#passwordError"
)

const (
	kmsiPollInterval = 500 * time.Millisecond
	kmsiProbeWindow  = time.Second
	stepGrace        = 5 * time.Second
)

var affirmativeLabels = []string{"はい", "yes", "続行"}

// loginStep is one stage of the interactive flow. The step runs under its own
// deadline; a deadline expiry is reported as ErrTimeout, any other unclassified
// failure as failKind.
type loginStep struct {
	stage    string
	message  string
	timeout  time.Duration
	failKind models.ErrorKind
	run      func(ctx context.Context, s *loginSession) error
}

// loginSession is the state shared by the steps of one login attempt
type loginSession struct {
	driver   interfaces.LoginDriver
	username string
	password string
	sink     interfaces.ProgressSink
	settings Settings
	logger   arbor.ILogger
}

// loginSteps returns the interactive login sequence in execution order
func loginSteps(settings Settings) []loginStep {
	element := settings.ElementTimeout
	probe := settings.ErrorProbe

	return []loginStep{
		{
			stage: interfaces.StageAccessLoginPage, message: "Opening the login page",
			timeout: element, failKind: models.ErrUnexpected,
			run: func(ctx context.Context, s *loginSession) error {
				return s.driver.Navigate(ctx, s.settings.LoginURL)
			},
		},
		{
			stage: interfaces.StageInputUsername, message: "Entering username",
			timeout: element, failKind: models.ErrUnexpected,
			run: func(ctx context.Context, s *loginSession) error {
				if err := s.driver.WaitVisible(ctx, selUsernameInput, element); err != nil {
					return err
				}
				return s.driver.SendKeys(ctx, selUsernameInput, s.username)
			},
		},
		{
			stage: interfaces.StageClickNext, message: "Submitting username",
			timeout: element + probe, failKind: models.ErrUnexpected,
			run: func(ctx context.Context, s *loginSession) error {
				if err := s.driver.WaitVisible(ctx, selSubmitButton, element); err != nil {
					return err
				}
				if err := s.driver.Click(ctx, selSubmitButton); err != nil {
					return err
				}
				return s.rejectIfShown(ctx, selUsernameError, probe, "The portal did not recognise this username")
			},
		},
		{
			stage: interfaces.StageInputPassword, message: "Entering password",
			timeout: element, failKind: models.ErrUnexpected,
			run: func(ctx context.Context, s *loginSession) error {
				if err := s.driver.WaitVisible(ctx, selPasswordInput, element); err != nil {
					return err
				}
				return s.driver.SendKeys(ctx, selPasswordInput, s.password)
			},
		},
		{
			stage: interfaces.StageClickSignIn, message: "Signing in",
			timeout: element + probe, failKind: models.ErrUnexpected,
			run: func(ctx context.Context, s *loginSession) error {
				if err := s.driver.WaitVisible(ctx, selSubmitButton, element); err != nil {
					return err
				}
				if err := s.driver.Click(ctx, selSubmitButton); err != nil {
					return err
				}
				s.sink.OnStatusUpdate(interfaces.StagePasswordSubmitted, "Password submitted")
				return s.rejectIfShown(ctx, selPasswordError, probe, "The portal rejected the password")
			},
		},
		{
			stage: "", timeout: settings.MFATimeout, failKind: models.ErrUnexpected,
			run: func(ctx context.Context, s *loginSession) error { return s.detectMFA(ctx) },
		},
		{
			stage: "", timeout: settings.KMSITimeout, failKind: models.ErrUnexpected,
			run: func(ctx context.Context, s *loginSession) error { return s.confirmStaySignedIn(ctx) },
		},
		{
			stage: interfaces.StageWaitingHome, message: "Waiting for the portal home page",
			timeout: element, failKind: models.ErrTimeout,
			run: func(ctx context.Context, s *loginSession) error {
				return s.driver.WaitURLContains(ctx, s.settings.HomePath, element)
			},
		},
	}
}

// runLoginSteps executes steps in order and stops at the first failure
func runLoginSteps(ctx context.Context, steps []loginStep, s *loginSession) error {
	for _, step := range steps {
		if step.stage != "" {
			s.sink.OnStatusUpdate(step.stage, step.message)
		}

		stepCtx, cancel := context.WithTimeout(ctx, step.timeout+stepGrace)
		err := step.run(stepCtx, s)
		cancel()

		if err != nil {
			return classifyStepError(step, err)
		}
	}
	s.sink.OnStatusUpdate(interfaces.StageLoginSuccess, "Login confirmed")
	return nil
}

func classifyStepError(step loginStep, err error) error {
	var syncErr *models.SyncError
	if errors.As(err, &syncErr) {
		return err
	}
	label := step.stage
	if label == "" {
		label = "login"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewSyncError(models.ErrTimeout,
			fmt.Sprintf("portal slow or unreachable (step %s)", label), err)
	}
	return models.NewSyncError(step.failKind, fmt.Sprintf("login step %s failed", label), err)
}

// rejectIfShown fails with ErrLoginRejected when the identity provider displays an inline error
func (s *loginSession) rejectIfShown(ctx context.Context, selector string, window time.Duration, fallback string) error {
	shown, err := s.driver.Probe(ctx, selector, window)
	if err != nil || !shown {
		return err
	}

	text, _ := s.driver.Text(ctx, selector)
	text = strings.TrimSpace(text)
	if text == "" {
		text = fallback
	}
	s.logger.Warn().Str("username", s.username).Str("selector", selector).Msg("Portal rejected credentials")
	return models.NewSyncError(models.ErrLoginRejected, "login failed: "+text, nil)
}

// detectMFA surfaces a displayed verification code. Only the human can approve it;
// the flow keeps going and later waits for the landing page.
func (s *loginSession) detectMFA(ctx context.Context) error {
	shown, err := s.driver.Probe(ctx, selMFADisplay, s.settings.MFATimeout)
	if err != nil {
		s.logger.Warn().Err(err).Msg("MFA prompt detection failed, continuing")
		return nil
	}
	if !shown {
		s.logger.Debug().Msg("No MFA prompt displayed")
		return nil
	}

	code, err := s.driver.Text(ctx, selMFADisplay)
	code = strings.TrimSpace(code)
	if err != nil || code == "" {
		s.logger.Info().Msg("MFA element displayed without a code")
		return nil
	}

	s.logger.Info().Str("username", s.username).Msg("MFA approval required")
	s.sink.OnMfaRequired(code, fmt.Sprintf("Approve the sign-in request in your authenticator app [%s]", code))
	return nil
}

// confirmStaySignedIn clicks the affirmative "stay signed in" button if one appears.
// The prompt is optional: reaching the landing route or running out of time ends the step.
func (s *loginSession) confirmStaySignedIn(ctx context.Context) error {
	deadline := time.Now().Add(s.settings.KMSITimeout)

	for time.Now().Before(deadline) {
		if location, err := s.driver.Location(ctx); err == nil && strings.Contains(location, s.settings.HomePath) {
			s.logger.Debug().Msg("Already on the portal home page, skipping stay-signed-in prompt")
			return nil
		}

		shown, err := s.driver.Probe(ctx, selSubmitButton, kmsiProbeWindow)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Stay-signed-in detection failed, continuing")
			return nil
		}
		if shown && s.isAffirmative(ctx) {
			s.sink.OnStatusUpdate(interfaces.StageConfirmKMSI, "Confirming stay signed in")
			if err := s.driver.Click(ctx, selSubmitButton); err != nil {
				s.logger.Warn().Err(err).Msg("Stay-signed-in click failed, continuing")
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(kmsiPollInterval):
		}
	}

	s.logger.Debug().Msg("Stay-signed-in prompt not shown")
	return nil
}

func (s *loginSession) isAffirmative(ctx context.Context) bool {
	text, _ := s.driver.Text(ctx, selSubmitButton)
	value, _ := s.driver.Value(ctx, selSubmitButton)
	return containsAffirmative(text) || containsAffirmative(value)
}

func containsAffirmative(value string) bool {
	lower := strings.ToLower(value)
	for _, label := range affirmativeLabels {
		if strings.Contains(lower, label) {
			return true
		}
	}
	return false
}
