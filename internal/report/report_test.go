package report

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/harvester/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeQueries — ReportRepository, запоминающий аргументы.
type fakeQueries struct {
	points     map[string][]repository.Point
	cells      []repository.ScheduleCell
	shares     []repository.SubredditShare
	tablesSeen []string
	userTables []string
}

func (f *fakeQueries) TermCounts(_ context.Context, table string, terms []string, _, _ time.Time, _ repository.Bucket) ([]repository.Point, error) {
	f.tablesSeen = append(f.tablesSeen, table)
	return f.points[table], nil
}

func (f *fakeQueries) TableCounts(_ context.Context, table string, _ []string, _, _ time.Time, _ repository.Bucket) ([]repository.Point, error) {
	f.tablesSeen = append(f.tablesSeen, table)
	return f.points[table], nil
}

func (f *fakeQueries) UserSchedule(_ context.Context, _ string, tables []string) ([]repository.ScheduleCell, error) {
	f.userTables = tables
	return f.cells, nil
}

func (f *fakeQueries) UserSubreddits(_ context.Context, _ string) ([]repository.SubredditShare, error) {
	return f.shares, nil
}

type fakeRegistry []repository.SubredditTable

func (f fakeRegistry) Tables(context.Context) ([]repository.SubredditTable, error) {
	return f, nil
}

var day0 = time.Date(2020, 3, 2, 0, 0, 0, 0, time.UTC)

func TestPivot(t *testing.T) {
	points := []repository.Point{
		{Bucket: day0.AddDate(0, 0, 1), Series: "rust", Count: 2},
		{Bucket: day0, Series: "go", Count: 5},
		{Bucket: day0.AddDate(0, 0, 1), Series: "go", Count: 1},
	}

	p := Pivot(points, repository.BucketDay)
	if !reflect.DeepEqual(p.Labels, []string{"2020-03-02", "2020-03-03"}) {
		t.Errorf("Labels = %v", p.Labels)
	}
	if !reflect.DeepEqual(p.Series, []string{"go", "rust"}) {
		t.Errorf("Series = %v", p.Series)
	}
	if !reflect.DeepEqual(p.Values["go"], []int{5, 1}) {
		t.Errorf("go = %v, хотели [5 1]", p.Values["go"])
	}
	if !reflect.DeepEqual(p.Values["rust"], []int{0, 2}) {
		t.Errorf("rust = %v, хотели [0 2]", p.Values["rust"])
	}
}

func TestBucketLabel(t *testing.T) {
	ts := time.Date(2021, 1, 3, 17, 0, 0, 0, time.UTC)
	tests := []struct {
		bucket repository.Bucket
		want   string
	}{
		{repository.BucketHour, "2021-01-03 17h"},
		{repository.BucketDay, "2021-01-03"},
		// 3 января 2021 — воскресенье 53-й недели 2020 года
		{repository.BucketWeek, "2020-W53"},
	}
	for _, tt := range tests {
		if got := BucketLabel(ts, tt.bucket); got != tt.want {
			t.Errorf("BucketLabel(%s) = %q, хотели %q", tt.bucket, got, tt.want)
		}
	}
}

func TestBubbleSize(t *testing.T) {
	if got := BubbleSize(0, 10); got != 0 {
		t.Errorf("BubbleSize(0) = %d, хотели 0", got)
	}
	if got := BubbleSize(10, 10); got != maxBubble {
		t.Errorf("BubbleSize(max) = %d, хотели %d", got, maxBubble)
	}
	if got := BubbleSize(1, 1000); got != minBubble {
		t.Errorf("BubbleSize(1, 1000) = %d, хотели %d", got, minBubble)
	}
}

func TestReporter_Subreddits(t *testing.T) {
	q := &fakeQueries{points: map[string][]repository.Point{
		"comments_2007": {{Bucket: day0, Series: "comments_2007", Count: 3}},
		"golang":        {{Bucket: day0, Series: "golang", Count: 4}},
	}}
	registry := fakeRegistry{{Name: "2007scape", Table: "comments_2007"}}
	r := NewReporter(q, registry, testLogger())

	var html, tbl bytes.Buffer
	err := r.Subreddits(context.Background(), SeriesOptions{
		Subreddits: []string{"2007scape", "golang"},
		Terms:      []string{"bot"},
		From:       day0,
		To:         day0.AddDate(0, 0, 7),
		Bucket:     repository.BucketDay,
	}, Output{HTML: &html, Table: &tbl})
	if err != nil {
		t.Fatalf("Subreddits() ошибка: %v", err)
	}

	if !reflect.DeepEqual(q.tablesSeen, []string{"comments_2007", "golang"}) {
		t.Errorf("таблицы = %v", q.tablesSeen)
	}
	page := html.String()
	for _, want := range []string{"echarts", "2007scape", "golang", "total"} {
		if !strings.Contains(page, want) {
			t.Errorf("HTML не содержит %q", want)
		}
	}
	if !strings.Contains(tbl.String(), "2007scape") || !strings.Contains(tbl.String(), "Всего") {
		t.Errorf("таблица:\n%s", tbl.String())
	}
}

func TestReporter_Terms(t *testing.T) {
	q := &fakeQueries{points: map[string][]repository.Point{
		"golang": {
			{Bucket: day0, Series: "generics", Count: 2},
			{Bucket: day0, Series: "errors", Count: 0},
		},
	}}
	r := NewReporter(q, fakeRegistry{}, testLogger())
	opts := SeriesOptions{Terms: []string{"generics", "errors"}, From: day0, To: day0.AddDate(0, 0, 1), Bucket: repository.BucketDay}

	opts.Subreddits = []string{"golang", "rust"}
	if err := r.Terms(context.Background(), opts, Output{}); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("Terms() с двумя сабреддитами: ошибка = %v, хотели ErrInvalidOptions", err)
	}

	opts.Subreddits = []string{"golang"}
	var tbl bytes.Buffer
	if err := r.Terms(context.Background(), opts, Output{Table: &tbl}); err != nil {
		t.Fatalf("Terms() ошибка: %v", err)
	}
	if !strings.Contains(tbl.String(), "generics") {
		t.Errorf("таблица:\n%s", tbl.String())
	}
}

func TestReporter_EmptyReport(t *testing.T) {
	q := &fakeQueries{points: map[string][]repository.Point{
		"golang": {{Bucket: day0, Series: "golang", Count: 0}},
	}}
	r := NewReporter(q, fakeRegistry{}, testLogger())

	err := r.Subreddits(context.Background(), SeriesOptions{
		Subreddits: []string{"golang"}, From: day0, To: day0.AddDate(0, 0, 1), Bucket: repository.BucketDay,
	}, Output{})
	if !errors.Is(err, ErrEmptyReport) {
		t.Errorf("ошибка = %v, хотели ErrEmptyReport", err)
	}
}

func TestReporter_Schedule(t *testing.T) {
	q := &fakeQueries{
		cells: []repository.ScheduleCell{
			{Weekday: 1, Hour: 9, Count: 4},
			{Weekday: 7, Hour: 23, Count: 1},
		},
		shares: []repository.SubredditShare{{Subreddit: "golang", Count: 5, Percent: 100}},
	}
	registry := fakeRegistry{{Name: "golang", Table: "golang"}}
	r := NewReporter(q, registry, testLogger())

	var html, tbl bytes.Buffer
	if err := r.Schedule(context.Background(), "spez", Output{HTML: &html, Table: &tbl}); err != nil {
		t.Fatalf("Schedule() ошибка: %v", err)
	}

	if !reflect.DeepEqual(q.userTables, []string{"user_comments", "golang"}) {
		t.Errorf("таблицы = %v", q.userTables)
	}
	if !strings.Contains(html.String(), "spez") {
		t.Error("HTML не содержит имени пользователя")
	}
	if !strings.Contains(tbl.String(), "100.0%") {
		t.Errorf("таблица долей:\n%s", tbl.String())
	}
}

func TestOutputPath(t *testing.T) {
	if got := OutputPath("/tmp/r", "terms", ""); got != filepath.Join("/tmp/r", "terms.html") {
		t.Errorf("OutputPath() = %q", got)
	}
	if got := OutputPath("/tmp/r", "terms", "x.html"); got != "x.html" {
		t.Errorf("OutputPath() = %q, хотели x.html", got)
	}
}
