package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/interfaces"
	"github.com/ternarybob/campussync/internal/models"
)

const (
	readTimeout      = 5 * time.Second
	locationInterval = 250 * time.Millisecond
)

// Session is one live browser driven through the login flow
type Session struct {
	browserCtx context.Context
	release    func()
	closeOnce  sync.Once
	logger     arbor.ILogger
}

var _ interfaces.LoginDriver = (*Session)(nil)

// run executes actions in the browser, bounded by both ctx and timeout
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	defer cancel()

	// Propagate caller cancellation into the browser context
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && runCtx.Err() != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func deadlineOf(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	return fallback
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, deadlineOf(ctx, time.Minute), chromedp.Navigate(url))
}

func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Probe waits up to timeout for selector to become visible. Expiry yields (false, nil).
func (s *Session) Probe(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	err := s.WaitVisible(ctx, selector, timeout)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return false, nil
	default:
		return false, err
	}
}

func (s *Session) SendKeys(ctx context.Context, selector, text string) error {
	return s.run(ctx, readTimeout, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (s *Session) Click(ctx context.Context, selector string) error {
	return s.run(ctx, readTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := s.run(ctx, readTimeout, chromedp.Text(selector, &text, chromedp.ByQuery))
	return text, err
}

func (s *Session) Value(ctx context.Context, selector string) (string, error) {
	var value string
	err := s.run(ctx, readTimeout, chromedp.Value(selector, &value, chromedp.ByQuery))
	return value, err
}

func (s *Session) Location(ctx context.Context) (string, error) {
	var location string
	err := s.run(ctx, readTimeout, chromedp.Location(&location))
	return location, err
}

// WaitURLContains polls the current location until it contains fragment.
// Polling survives the navigations a login redirect chain performs.
func (s *Session) WaitURLContains(ctx context.Context, fragment string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		location, err := s.Location(ctx)
		if err == nil && strings.Contains(location, fragment) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: url never contained %q (last %q)", context.DeadlineExceeded, fragment, location)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(locationInterval):
		}
	}
}

// Cookies returns the cookies scoped to pageURL. Identity provider cookies set
// during the login redirect chain are left out.
func (s *Session) Cookies(ctx context.Context, pageURL string) (models.CookieMap, error) {
	cookies := models.CookieMap{}
	err := s.run(ctx, readTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		scoped, err := network.GetCookies().WithURLs([]string{pageURL}).Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range scoped {
			cookies[c.Name] = c.Value
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("read browser cookies for %s: %w", pageURL, err)
	}
	return cookies, nil
}

// Close tears down the browser process and frees the launcher slot
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.release != nil {
			s.release()
		}
		s.logger.Debug().Msg("Browser session closed")
	})
}
