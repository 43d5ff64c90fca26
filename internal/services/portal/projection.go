package portal

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/models"
)

const (
	isoLocalLayout   = "2006-01-02T15:04:05"
	clockLayout      = "15:04"
	defaultClassSpan = 90 * time.Minute
	sourceAuto       = "AUTO"
)

type periodSlot struct {
	start string
	end   string
}

var periodTable = map[string]periodSlot{
	"1": {"09:00", "10:35"},
	"2": {"10:45", "12:20"},
	"3": {"13:10", "14:45"},
	"4": {"14:55", "16:30"},
	"5": {"16:40", "18:15"},
	"6": {"18:25", "20:00"},
	"7": {"20:10", "21:45"},
}

var weekdayLabels = map[string]time.Weekday{
	"月": time.Monday,
	"火": time.Tuesday,
	"水": time.Wednesday,
	"木": time.Thursday,
	"金": time.Friday,
	"土": time.Saturday,
	"日": time.Sunday,
}

// deadlinePattern is one accepted deadline shape. Annotated patterns expect a
// "(曜)" weekday after the date which must agree with the date itself.
// Go's "15" hour accepts one or two digits, so H:mm and HH:mm share a layout.
type deadlinePattern struct {
	name      string
	layout    string
	annotated bool
}

var deadlinePatterns = []deadlinePattern{
	{name: "dash", layout: "2006-01-02 15:04"},
	{name: "slash-weekday", layout: "2006/01/02 15:04", annotated: true},
	{name: "slash", layout: "2006/01/02 15:04"},
}

var weekdayAnnotation = regexp.MustCompile(`^(\d{4}/\d{2}/\d{2})\s*[(（]\s*([^)）\s]+)\s*[)）]\s*(.+)$`)

var nonDigits = regexp.MustCompile(`[^0-9]`)

// Projector turns raw extraction output into the sanitized result shape
type Projector struct {
	location *time.Location
	now      func() time.Time
	logger   arbor.ILogger
}

// NewProjector creates a projector for the portal's local time zone.
// now may be nil to use the wall clock.
func NewProjector(location *time.Location, now func() time.Time, logger arbor.ILogger) *Projector {
	if location == nil {
		location = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Projector{location: location, now: now, logger: logger}
}

// Project builds the full result for one user
func (p *Projector) Project(username string, courses []models.RawCourse, assignments []models.RawAssignment) *models.SyncResult {
	now := p.now().In(p.location)
	timetable := ProjectCourses(courses)

	return &models.SyncResult{
		Username:    username,
		SyncedAt:    now.Format(isoLocalLayout),
		Timetable:   timetable,
		Assignments: p.ProjectAssignments(assignments),
		NextClass:   NextClass(timetable, now),
	}
}

// ProjectCourses attaches period start/end times. Unknown periods keep nil times.
func ProjectCourses(raw []models.RawCourse) []models.CourseEntry {
	entries := make([]models.CourseEntry, 0, len(raw))
	for _, course := range raw {
		entry := models.CourseEntry{
			ID:       newEntryID("course"),
			Day:      course.Day,
			Period:   course.Period,
			Name:     course.Name,
			Location: course.Location,
			Source:   sourceAuto,
		}
		if slot, ok := periodTable[periodKey(course.Period)]; ok {
			start, end := slot.start, slot.end
			entry.StartTime = &start
			entry.EndTime = &end
		}
		entries = append(entries, entry)
	}
	return entries
}

// ProjectAssignments normalizes deadlines, logging any the patterns do not cover
func (p *Projector) ProjectAssignments(raw []models.RawAssignment) []models.AssignmentEntry {
	entries := make([]models.AssignmentEntry, 0, len(raw))
	for _, assignment := range raw {
		deadline, parsed := NormalizeDeadline(assignment.Deadline)
		if !parsed && deadline != nil && p.logger != nil {
			p.logger.Warn().
				Str("deadline", assignment.Deadline).
				Str("course", assignment.CourseName).
				Msg("Unparsed deadline format, keeping cleaned text")
		}
		entries = append(entries, models.AssignmentEntry{
			ID:         newEntryID("assignment"),
			CourseName: assignment.CourseName,
			Category:   assignment.Category,
			Title:      assignment.Title,
			Deadline:   deadline,
			URL:        assignment.URL,
		})
	}
	return entries
}

// NormalizeDeadline cleans free-text deadline and parses it as local ISO time.
// Returns (nil, false) for empty text and (cleaned, false) when no pattern matches.
func NormalizeDeadline(text string) (*string, bool) {
	cleaned := strings.ReplaceAll(text, "\u3000", " ")
	cleaned = strings.ReplaceAll(cleaned, "締切", "")
	cleaned = strings.ReplaceAll(cleaned, "まで", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil, false
	}

	for _, pattern := range deadlinePatterns {
		if parsed, ok := pattern.parse(cleaned); ok {
			iso := parsed.Format(isoLocalLayout)
			return &iso, true
		}
	}
	return &cleaned, false
}

func (p deadlinePattern) parse(value string) (time.Time, bool) {
	if p.annotated {
		match := weekdayAnnotation.FindStringSubmatch(value)
		if match == nil {
			return time.Time{}, false
		}
		parsed, err := time.Parse(p.layout, match[1]+" "+match[3])
		if err != nil || !weekdayMatches(match[2], parsed.Weekday()) {
			return time.Time{}, false
		}
		return parsed, true
	}

	parsed, err := time.Parse(p.layout, value)
	return parsed, err == nil
}

func weekdayMatches(label string, weekday time.Weekday) bool {
	if day, ok := weekdayLabels[label]; ok {
		return day == weekday
	}
	return strings.EqualFold(label, weekday.String()[:3])
}

// NextClass returns the soonest upcoming class relative to now, or nil.
// Ties keep the first entry in timetable order.
func NextClass(timetable []models.CourseEntry, now time.Time) *models.NextClassCard {
	var best *models.NextClassCard
	var bestUntil time.Duration

	for _, course := range timetable {
		weekday, ok := weekdayLabels[course.Day]
		if !ok {
			continue
		}
		startClock, ok := parseClock(course.StartTime)
		if !ok {
			continue
		}

		start := nextOccurrence(now, weekday, startClock)
		until := start.Sub(now)
		if until < 0 {
			continue
		}
		if best != nil && until >= bestUntil {
			continue
		}

		end := start.Add(defaultClassSpan)
		if endClock, ok := parseClock(course.EndTime); ok {
			end = atClock(start, endClock)
		}

		bestUntil = until
		best = &models.NextClassCard{
			CourseName:    course.Name,
			Day:           course.Day,
			Period:        course.Period,
			Location:      course.Location,
			StartDateTime: start.Format(isoLocalLayout),
			EndDateTime:   end.Format(isoLocalLayout),
			UntilStart:    FormatISODuration(until),
		}
	}
	return best
}

func nextOccurrence(now time.Time, weekday time.Weekday, clock time.Time) time.Time {
	diff := (int(weekday) - int(now.Weekday()) + 7) % 7
	candidate := atClock(now.AddDate(0, 0, diff), clock)
	if diff == 0 && candidate.Before(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

func atClock(day, clock time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, day.Location())
}

func parseClock(value *string) (time.Time, bool) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return time.Time{}, false
	}
	clock, err := time.Parse(clockLayout, strings.TrimSpace(*value))
	return clock, err == nil
}

// FormatISODuration renders d as an ISO-8601 duration at minute precision.
// Zero and negative durations render as PT0M.
func FormatISODuration(d time.Duration) string {
	if d <= 0 {
		return "PT0M"
	}
	days := int64(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int64(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int64(d / time.Minute)

	var b strings.Builder
	b.WriteString("P")
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if hours > 0 || minutes > 0 {
		b.WriteString("T")
		if hours > 0 {
			fmt.Fprintf(&b, "%dH", hours)
		}
		if minutes > 0 {
			fmt.Fprintf(&b, "%dM", minutes)
		}
	}
	if b.Len() == 1 {
		return "PT0M"
	}
	return b.String()
}

// periodKey reduces "3限" style labels to their digits
func periodKey(label string) string {
	if digits := nonDigits.ReplaceAllString(label, ""); digits != "" {
		return digits
	}
	return label
}

func newEntryID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
