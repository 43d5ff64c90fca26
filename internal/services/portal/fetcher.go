package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/interfaces"
	"github.com/ternarybob/campussync/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the per-request timeout for portal fetches
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default outbound request rate (requests per second)
	DefaultRateLimit = 4

	maxPageBytes = 8 << 20
)

// Fetcher performs cookie-authenticated GETs against the portal and recognizes login pages
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
	logger     arbor.ILogger
}

var _ interfaces.PageFetcher = (*Fetcher)(nil)

// FetcherOption configures the Fetcher
type FetcherOption func(*Fetcher)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.httpClient = httpClient
	}
}

// WithUserAgent sets the User-Agent header sent on every request
func WithUserAgent(userAgent string) FetcherOption {
	return func(f *Fetcher) {
		f.userAgent = userAgent
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.httpClient.Timeout = timeout
		}
	}
}

// WithRateLimit sets the outbound request rate
func WithRateLimit(requestsPerSecond float64) FetcherOption {
	return func(f *Fetcher) {
		if requestsPerSecond > 0 {
			burst := int(requestsPerSecond)
			if burst < 1 {
				burst = 1
			}
			f.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
		}
	}
}

// NewFetcher creates a portal page fetcher
func NewFetcher(logger arbor.ILogger, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch GETs url with cookies attached. The returned page is classified as a login
// page when its title or a login form marks it as one. Transport timeouts are
// reported as ErrTimeout; other transport failures and non-2xx responses as ErrUnexpected.
func (f *Fetcher) Fetch(ctx context.Context, url string, cookies models.CookieMap) (*interfaces.Page, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	f.logger.Debug().Str("url", url).Int("cookies", len(cookies)).Msg("Portal page request")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, models.NewSyncError(models.ErrTimeout, "portal did not respond in time", err)
		}
		return nil, models.NewSyncError(models.ErrUnexpected, "portal request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, models.NewSyncError(models.ErrUnexpected, "failed to read portal response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, models.NewSyncError(models.ErrUnexpected, fmt.Sprintf("portal returned status %d", resp.StatusCode), nil)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, models.NewSyncError(models.ErrUnexpected, "failed to parse portal page", err)
	}

	page := &interfaces.Page{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		IsLoginPage: IsLoginPage(doc),
		Body:        body,
	}

	f.logger.Debug().Str("url", page.URL).Str("title", page.Title).Bool("login_page", page.IsLoginPage).Msg("Portal page fetched")
	return page, nil
}

// IsLoginPage reports whether doc is a sign-in page rather than authenticated content
func IsLoginPage(doc *goquery.Document) bool {
	if doc == nil {
		return true
	}
	title := doc.Find("title").First().Text()
	lower := strings.ToLower(title)
	if strings.Contains(lower, "sign in") || strings.Contains(lower, "login") || strings.Contains(title, "サインイン") {
		return true
	}
	return doc.Find("form[action*='login']").Length() > 0
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
