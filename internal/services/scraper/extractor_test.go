package scraper

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/interfaces"
	"github.com/ternarybob/campussync/internal/models"
)

const baseURL = "https://portal.example.test/ct/"

const homeHTML = `<html><head><title>コース一覧</title></head><body>
<div id="courselistweekly"><table class="stdlist">
<tr><th></th><th>月</th><th>火</th><th>水</th><th>木</th><th>金</th><th>土</th></tr>
<tr><td class="period">1</td>
  <td class="course course-cell" rowspan="2"><div onclick="location.href='course_101'"><a href="course_101">線形代数</a><div class="couraselocationinfoV2">教室：A101</div></div></td>
  <td class="course"></td>
  <td class="course course-cell"><div onclick="location.href='course_102'"><a href="course_102">英語</a><div class="couraselocationinfoV2">Room: B2</div></div><div onclick="location.href='course_103'"><a href="course_103">独語</a><div class="couraselocationinfoV2">C3</div></div></td>
  <td class="course"></td><td class="course"></td><td class="course"></td>
</tr>
<tr><td class="period">2</td>
  <td class="course"></td><td class="course"></td><td class="course"></td><td class="course"></td><td class="course"></td>
</tr>
<tr><td class="period">他</td>
  <td class="course course-cell"><div onclick="location.href='course_199'"><a href="course_199">集中講義</a></div></td>
</tr>
</table></div>
<div class="courselist">
  <div onclick="location.href='course_101'"><a href="course_101">線形代数</a><div class="coursestatus"><img src="/img/icon-coursedeadline-on.png"></div></div>
  <div onclick="location.href='course_102'"><a href="course_102">英語</a><div class="coursestatus"><img src="/img/icon-coursedeadline-off.png"></div></div>
</div>
</body></html>`

const courseHTML = `<html><head><title>線形代数</title></head><body>
<div id="coursename"> 線形代数 </div>
<ul>
  <li class="course-menu-report"><a href="course_101_report">レポート</a><span class="my-unreadcount">1</span></li>
  <li class="course-menu-survey"><a href="course_101_survey">アンケート</a></li>
  <li class="course-menu-query"><a href="course_101_query">小テスト</a><span class="my-unreadcount">2</span></li>
</ul></body></html>`

const reportHTML = `<html><body><table class="stdlist">
<tr><th>title</th><th>status</th><th>start</th><th>deadline</th></tr>
<tr><td><h3 class="report-title"><a href="course_101_report_1">Essay 1</a></h3></td><td><span class="deadline">未提出</span></td><td class="center">2024-05-01 10:00</td><td class="center">2024/05/10(金) 23:59</td></tr>
<tr><td><h3 class="report-title"><a href="course_101_report_0">Essay 0</a></h3></td><td><span class="deadline">提出済み</span></td><td class="center">x</td><td class="center">y</td></tr>
</table></body></html>`

const queryHTML = `<html><body><table class="stdlist">
<tr><td class="query-title"><a href="/ct/course_101_query_7">Quiz 7</a></td><td><span class="deadline">未提出</span></td><td class="center">2024/06/01 9:00</td></tr>
<tr><td class="query-title">no link</td><td><span class="deadline">未提出</span></td><td class="center">2024/06/02 9:00</td></tr>
</table></body></html>`

type fakeFetcher struct {
	pages      map[string]string
	loginPages map[string]bool
	requested  []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, cookies models.CookieMap) (*interfaces.Page, error) {
	f.requested = append(f.requested, url)
	body, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("unexpected url %s", url)
	}
	return &interfaces.Page{URL: url, StatusCode: 200, Body: []byte(body), IsLoginPage: f.loginPages[url]}, nil
}

func newFixtureFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: map[string]string{
			baseURL + "home_course":       homeHTML,
			baseURL + "course_101":        courseHTML,
			baseURL + "course_101_report": reportHTML,
			baseURL + "course_101_query":  queryHTML,
		},
		loginPages: map[string]bool{},
	}
}

func TestExtract_TimetableAndAssignments(t *testing.T) {
	fetcher := newFixtureFetcher()
	s := NewService(fetcher, baseURL+"home_course", arbor.NewLogger())

	courses, assignments, err := s.Extract(context.Background(), models.CookieMap{"sessionid": "abc"})
	require.NoError(t, err)

	assert.Equal(t, []models.RawCourse{
		{Day: "月", Period: "1", Name: "線形代数", Location: "A101"},
		{Day: "水", Period: "1", Name: "英語", Location: "B2"},
		{Day: "水", Period: "1", Name: "独語", Location: "C3"},
		{Day: "月", Period: "2", Name: "線形代数", Location: "A101"},
	}, courses)

	assert.Equal(t, []models.RawAssignment{
		{CourseName: "線形代数", Category: CategoryReport, Title: "Essay 1", Deadline: "2024/05/10(金) 23:59", URL: baseURL + "course_101_report_1"},
		{CourseName: "線形代数", Category: CategoryQuiz, Title: "Quiz 7", Deadline: "2024/06/01 9:00", URL: baseURL + "course_101_query_7"},
	}, assignments)

	assert.NotContains(t, fetcher.requested, baseURL+"course_102")
	assert.NotContains(t, fetcher.requested, baseURL+"course_101_survey")
}

func TestExtract_LoginPageMeansSessionExpired(t *testing.T) {
	fetcher := newFixtureFetcher()
	fetcher.loginPages[baseURL+"course_101"] = true
	s := NewService(fetcher, baseURL+"home_course", arbor.NewLogger())

	_, _, err := s.Extract(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrSessionExpired))
}

func TestExtract_MissingTimetableIsEmpty(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{baseURL + "home_course": `<html><body>nothing here</body></html>`}}
	s := NewService(fetcher, baseURL+"home_course", arbor.NewLogger())

	courses, assignments, err := s.Extract(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, courses)
	assert.Empty(t, assignments)
}

func TestRoomFromLocation(t *testing.T) {
	assert.Equal(t, "A101", roomFromLocation("教室：A101"))
	assert.Equal(t, "B2", roomFromLocation("Room: B2"))
	assert.Equal(t, "x：y", roomFromLocation("a:x：y"))
	assert.Equal(t, "C3", roomFromLocation("C3"))
}
