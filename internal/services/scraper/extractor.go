package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/interfaces"
	"github.com/ternarybob/campussync/internal/models"
)

// Service extracts raw timetable and assignment records from authenticated portal pages
type Service struct {
	fetcher       interfaces.PageFetcher
	homeCourseURL string
	logger        arbor.ILogger
}

var _ interfaces.Extractor = (*Service)(nil)

// NewService creates a new extraction service
func NewService(fetcher interfaces.PageFetcher, homeCourseURL string, logger arbor.ILogger) *Service {
	return &Service{
		fetcher:       fetcher,
		homeCourseURL: homeCourseURL,
		logger:        logger,
	}
}

// Extract reads the course home page, then walks every course flagged with an
// outstanding deadline for its unsubmitted assignments.
func (s *Service) Extract(ctx context.Context, cookies models.CookieMap) ([]models.RawCourse, []models.RawAssignment, error) {
	home, err := s.fetchDocument(ctx, s.homeCourseURL, cookies)
	if err != nil {
		return nil, nil, err
	}

	courses := ParseTimetable(home.doc)
	s.logger.Debug().Int("courses", len(courses)).Msg("Timetable parsed")

	courseURLs := CourseURLsWithDeadlines(home.doc, home.base)
	s.logger.Debug().Int("courses_with_deadlines", len(courseURLs)).Msg("Courses with outstanding assignments found")

	var assignments []models.RawAssignment
	for _, courseURL := range courseURLs {
		found, err := s.courseAssignments(ctx, courseURL, cookies)
		if err != nil {
			return nil, nil, err
		}
		assignments = append(assignments, found...)
	}

	s.logger.Info().
		Int("courses", len(courses)).
		Int("assignments", len(assignments)).
		Msg("Portal extraction complete")

	return courses, assignments, nil
}

func (s *Service) courseAssignments(ctx context.Context, courseURL string, cookies models.CookieMap) ([]models.RawAssignment, error) {
	coursePage, err := s.fetchDocument(ctx, courseURL, cookies)
	if err != nil {
		return nil, err
	}

	courseName := cleanText(coursePage.doc.Find("#coursename").First().Text())

	var assignments []models.RawAssignment
	for _, category := range CategoryLinks(coursePage.doc, coursePage.base) {
		listPage, err := s.fetchDocument(ctx, category.URL, cookies)
		if err != nil {
			return nil, err
		}
		rows := ParseAssignmentRows(listPage.doc, listPage.base, courseName, category.Name)
		s.logger.Debug().
			Str("course", courseName).
			Str("category", category.Name).
			Int("assignments", len(rows)).
			Msg("Assignment list parsed")
		assignments = append(assignments, rows...)
	}
	return assignments, nil
}

type document struct {
	doc  *goquery.Document
	base *url.URL
}

func (s *Service) fetchDocument(ctx context.Context, pageURL string, cookies models.CookieMap) (*document, error) {
	page, err := s.fetcher.Fetch(ctx, pageURL, cookies)
	if err != nil {
		return nil, err
	}
	if page.IsLoginPage {
		return nil, models.NewSyncError(models.ErrSessionExpired, "session expired while reading portal pages", nil)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	location := page.URL
	if location == "" {
		location = pageURL
	}
	base, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse page url %s: %w", location, err)
	}
	return &document{doc: doc, base: base}, nil
}

// resolve turns href into an absolute URL against base; empty on failure
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// cleanText collapses whitespace the way rendered text reads
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
