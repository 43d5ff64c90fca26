package models

// CookieMap maps cookie name to value. Treat as a secret: never log it.
type CookieMap map[string]string

// RawCourse is one timetable cell as extracted from the portal
type RawCourse struct {
	Day      string
	Period   string
	Name     string
	Location string
}

// RawAssignment is one outstanding assignment row as extracted from the portal
type RawAssignment struct {
	CourseName string
	Category   string
	Title      string
	Deadline   string
	URL        string
}

// CourseEntry is a projected timetable entry. StartTime/EndTime are nil for unknown periods.
type CourseEntry struct {
	ID        string  `json:"id"`
	Day       string  `json:"day"`
	Period    string  `json:"period"`
	Name      string  `json:"name"`
	Location  string  `json:"location"`
	StartTime *string `json:"startTime"`
	EndTime   *string `json:"endTime"`
	Source    string  `json:"source"`
}

// AssignmentEntry is a projected assignment. Deadline is ISO local time when parsed,
// the cleaned portal text when not, and nil when the portal gave nothing.
type AssignmentEntry struct {
	ID         string  `json:"id"`
	CourseName string  `json:"courseName"`
	Category   string  `json:"category"`
	Title      string  `json:"title"`
	Deadline   *string `json:"deadline"`
	URL        string  `json:"url"`
}

// NextClassCard describes the soonest upcoming class
type NextClassCard struct {
	CourseName    string `json:"courseName"`
	Day           string `json:"day"`
	Period        string `json:"period"`
	Location      string `json:"location"`
	StartDateTime string `json:"startDateTime"`
	EndDateTime   string `json:"endDateTime"`
	UntilStart    string `json:"untilStart"`
}

// SyncResult is the sanitized payload returned to callers. It never carries cookies.
type SyncResult struct {
	UserID      *string           `json:"userId"`
	Username    string            `json:"username"`
	SyncedAt    string            `json:"syncedAt"`
	Timetable   []CourseEntry     `json:"timetable"`
	Assignments []AssignmentEntry `json:"assignments"`
	NextClass   *NextClassCard    `json:"nextClass"`
}

// SyncOutcome pairs a result with the session cookies that produced it.
// It stays inside the coordinator; only Result crosses into a job.
type SyncOutcome struct {
	Result  *SyncResult
	Cookies CookieMap
}
