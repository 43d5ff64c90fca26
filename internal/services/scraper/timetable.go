package scraper

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/campussync/internal/models"
)

var timetableDays = []string{"月", "火", "水", "木", "金", "土"}

const otherPeriodLabel = "他"

type cellCourse struct {
	name     string
	location string
}

// ParseTimetable reads the weekly course grid. Cells spanning several periods
// (rowspan) are repeated for every period they cover.
func ParseTimetable(doc *goquery.Document) []models.RawCourse {
	var courses []models.RawCourse

	table := doc.Find("#courselistweekly table.stdlist").First()
	if table.Length() == 0 {
		return courses
	}

	spanRemaining := make(map[int]int)
	spanCourses := make(map[int][]cellCourse)

	table.Find("tr:has(td.period)").Each(func(_ int, row *goquery.Selection) {
		period := cleanText(row.Find("td.period").First().Text())
		if period == otherPeriodLabel {
			return
		}

		cells := row.Find("td.course")
		cellIndex := 0

		for dayIndex, day := range timetableDays {
			if spanRemaining[dayIndex] > 0 {
				for _, c := range spanCourses[dayIndex] {
					courses = append(courses, models.RawCourse{Day: day, Period: period, Name: c.name, Location: c.location})
				}
				spanRemaining[dayIndex]--
				continue
			}
			if cellIndex >= cells.Length() {
				continue
			}

			cell := cells.Eq(cellIndex)
			cellIndex++
			if !cell.HasClass("course-cell") {
				continue
			}

			var inCell []cellCourse
			cell.Find("div[onclick*='course_']").Each(func(_ int, div *goquery.Selection) {
				c := cellCourse{
					name:     cleanText(div.Find("a").First().Text()),
					location: roomFromLocation(cleanText(div.Find(".couraselocationinfoV2").First().Text())),
				}
				inCell = append(inCell, c)
				courses = append(courses, models.RawCourse{Day: day, Period: period, Name: c.name, Location: c.location})
			})

			if span, err := strconv.Atoi(strings.TrimSpace(cell.AttrOr("rowspan", ""))); err == nil && span > 1 {
				spanRemaining[dayIndex] = span - 1
				spanCourses[dayIndex] = inCell
			}
		}
	})

	return courses
}

// roomFromLocation keeps the text after the first half- or full-width colon
func roomFromLocation(raw string) string {
	half := strings.Index(raw, ":")
	full := strings.Index(raw, "：")

	switch {
	case half >= 0 && (full < 0 || half < full):
		return strings.TrimSpace(raw[half+len(":"):])
	case full >= 0:
		return strings.TrimSpace(raw[full+len("："):])
	default:
		return raw
	}
}
