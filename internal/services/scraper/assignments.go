package scraper

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/campussync/internal/models"
)

// Assignment categories as labelled by the portal
const (
	CategoryReport = "レポート"
	CategorySurvey = "アンケート"
	CategoryQuiz   = "小テスト"
)

const unsubmittedLabel = "未提出"

// categoryMenus is ordered so extraction output is stable
var categoryMenus = []struct {
	name     string
	selector string
}{
	{CategoryReport, ".course-menu-report"},
	{CategorySurvey, ".course-menu-survey"},
	{CategoryQuiz, ".course-menu-query"},
}

// CategoryLink is an assignment list page for one category of a course
type CategoryLink struct {
	Name string
	URL  string
}

// CourseURLsWithDeadlines returns the course pages whose status shows an open deadline
func CourseURLsWithDeadlines(home *goquery.Document, base *url.URL) []string {
	var urls []string
	home.Find("div.coursestatus:has(img[src*='icon-coursedeadline-on.png'])").Each(func(_ int, status *goquery.Selection) {
		block := status.Closest("div[onclick*='course_']")
		if block.Length() == 0 {
			return
		}
		href, ok := block.Find("a").First().Attr("href")
		if !ok {
			return
		}
		if abs := resolve(base, href); abs != "" {
			urls = append(urls, abs)
		}
	})
	return urls
}

// CategoryLinks returns the category menus that carry an unread counter
func CategoryLinks(coursePage *goquery.Document, base *url.URL) []CategoryLink {
	var links []CategoryLink
	for _, menu := range categoryMenus {
		item := coursePage.Find(menu.selector + ":has(span.my-unreadcount)").First()
		if item.Length() == 0 {
			continue
		}
		href, ok := item.Find("a").First().Attr("href")
		if !ok {
			continue
		}
		if abs := resolve(base, href); abs != "" {
			links = append(links, CategoryLink{Name: menu.name, URL: abs})
		}
	}
	return links
}

// ParseAssignmentRows extracts unsubmitted rows from a category list page
func ParseAssignmentRows(list *goquery.Document, base *url.URL, courseName, category string) []models.RawAssignment {
	titleSelector := "td.query-title a"
	if category == CategoryReport {
		titleSelector = "h3.report-title a"
	}

	var rows []models.RawAssignment
	list.Find("table.stdlist tr").Each(func(_ int, row *goquery.Selection) {
		if !strings.Contains(row.Find("span.deadline").Text(), unsubmittedLabel) {
			return
		}

		title := row.Find(titleSelector).First()
		deadline := row.Find("td.center:last-of-type").First()
		if title.Length() == 0 || deadline.Length() == 0 {
			return
		}

		rows = append(rows, models.RawAssignment{
			CourseName: courseName,
			Category:   category,
			Title:      cleanText(title.Text()),
			Deadline:   cleanText(deadline.Text()),
			URL:        resolve(base, title.AttrOr("href", "")),
		})
	})
	return rows
}
