package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/harvester/internal/domain/model"
	"github.com/bigkaa/harvester/internal/domain/scan"
	"github.com/bigkaa/harvester/internal/reddit"
	"github.com/bigkaa/harvester/internal/twitter"
)

var (
	rangeStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	rangeEnd   = time.Date(2020, 2, 15, 0, 0, 0, 0, time.UTC)
)

func mustTarget(t *testing.T, kind model.JobKind, name string) model.Target {
	t.Helper()
	target, err := model.NewTarget(kind, name, "")
	require.NoError(t, err)
	return target
}

func TestSubredditSubmissionsJob_Idempotent(t *testing.T) {
	env := newTestEnv()
	api := &fakeReddit{pageSize: 10, submissions: daily(rangeStart, 30)}
	opts := RangeOptions{
		Target: mustTarget(t, model.JobSubredditSubmissions, "golang"),
		Start:  rangeStart,
		End:    rangeEnd,
	}
	ctx := context.Background()

	first, err := NewSubredditSubmissionsJob(env.Env, api, opts).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BatchResult{Inserted: 30}, first.BatchResult)
	assert.Equal(t, model.StatusCompleted, first.Status)
	require.NotNil(t, first.Genesis)
	assert.Equal(t, 3, first.Pages)

	second, err := NewSubredditSubmissionsJob(env.Env, api, opts).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BatchResult{Skipped: 30}, second.BatchResult)
	assert.Equal(t, 30, env.records.count("reddit_submissions"))
}

func TestSubredditSubmissionsJob_ResumeAfterFailure(t *testing.T) {
	env := newTestEnv()
	// Вызовы 1-3 — поиск первой записи, 4 — первая страница обхода
	api := &fakeReddit{pageSize: 10, submissions: daily(rangeStart, 30), failSearchAt: 5}
	opts := RangeOptions{
		Target: mustTarget(t, model.JobSubredditSubmissions, "golang"),
		Start:  rangeStart,
		End:    rangeEnd,
	}
	ctx := context.Background()

	first, err := NewSubredditSubmissionsJob(env.Env, api, opts).Run(ctx)
	require.ErrorIs(t, err, reddit.ErrTransient)
	assert.Equal(t, ExitCollection, Classify(err))
	assert.Equal(t, 10, first.Inserted)

	saved := env.checkpoints.last()
	assert.Equal(t, model.StatusFailed, saved.Status)
	require.NotNil(t, saved.Cursor)
	require.NotNil(t, saved.LastError)
	cursor := *saved.Cursor

	api.failSearchAt = 0
	api.searchCalls = nil
	second, err := NewSubredditSubmissionsJob(env.Env, api, opts).Run(ctx)
	require.NoError(t, err)

	require.NotEmpty(t, api.searchCalls)
	assert.True(t, api.searchCalls[0][1].Equal(cursor), "обход продолжается с курсора %v, а не %v", cursor, api.searchCalls[0][1])
	assert.Equal(t, 20, second.Inserted)
	assert.Equal(t, 0, second.Failed)

	final := env.checkpoints.last()
	assert.Equal(t, model.StatusCompleted, final.Status)
	assert.Equal(t, int64(30), final.Inserted, "счётчики накапливаются между запусками")
	assert.Equal(t, 30, env.records.count("reddit_submissions"))
}

func TestSubredditSubmissionsJob_EmptyRange(t *testing.T) {
	env := newTestEnv()
	api := &fakeReddit{pageSize: 10}
	opts := RangeOptions{
		Target: mustTarget(t, model.JobSubredditSubmissions, "golang"),
		Start:  rangeStart,
		End:    rangeEnd,
	}

	result, err := NewSubredditSubmissionsJob(env.Env, api, opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.Zero(t, result.Total())
}

func TestRangeJobs_InvalidInput(t *testing.T) {
	env := newTestEnv()
	api := &fakeReddit{pageSize: 10}

	_, err := NewSubredditSubmissionsJob(env.Env, api, RangeOptions{
		Target: mustTarget(t, model.JobSubredditSubmissions, "golang"),
		Start:  rangeEnd,
		End:    rangeStart,
	}).Run(context.Background())
	require.ErrorIs(t, err, scan.ErrInvalidRange)
	assert.Equal(t, ExitInvalid, Classify(err))

	_, err = NewSubredditCommentsJob(env.Env, api, RangeOptions{
		Target: mustTarget(t, model.JobSubredditSubmissions, "golang"),
		Start:  rangeStart,
		End:    rangeEnd,
	}).Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSubredditCommentsJob(t *testing.T) {
	env := newTestEnv()
	subs := daily(rangeStart, 3)
	api := &fakeReddit{
		pageSize:    10,
		submissions: subs,
		comments: map[string][]*model.Comment{
			subs[0].ID: {comment("c1", rangeStart), comment("c2", rangeStart)},
			subs[2].ID: {comment("c3", rangeStart)},
		},
	}
	opts := RangeOptions{
		Target: mustTarget(t, model.JobSubredditComments, "AskHistorians"),
		Start:  rangeStart,
		End:    rangeEnd,
	}

	result, err := NewSubredditCommentsJob(env.Env, api, opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Inserted)
	assert.Equal(t, 3, env.records.count("askhistorians"))
	assert.Equal(t, "askhistorians", env.registry.tables["askhistorians"])
}

func TestSubredditStreamJob_Window(t *testing.T) {
	env := newTestEnv()
	base := time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(id string, min int) *model.Comment { return comment(id, base.Add(time.Duration(min)*time.Minute)) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeReddit{
		// Ответы — от новых к старым; порядок появления: a b c a d b
		stream: []streamReply{
			{comments: []*model.Comment{at("b", 2), at("a", 1)}},
			{comments: []*model.Comment{at("c", 3)}},
			{comments: []*model.Comment{at("a", 1)}},
			{comments: []*model.Comment{at("d", 4)}},
			// b вытеснен из окна размера 3 и снова передан в запись
			{comments: []*model.Comment{at("b", 2)}},
		},
		onStreamEnd: cancel,
	}

	target := mustTarget(t, model.JobSubredditStream, "golang")
	result, err := NewSubredditStreamJob(env.Env, api, target).Run(ctx)
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, ExitInterrupted, Classify(err))

	assert.Equal(t, model.BatchResult{Inserted: 4, Skipped: 1, Failed: 1}, result.BatchResult)
	assert.Equal(t, model.StatusInterrupted, result.Status)

	last := env.checkpoints.last()
	require.NotNil(t, last.Cursor)
	assert.True(t, last.Cursor.Equal(base.Add(4*time.Minute)))
	assert.Equal(t, "golang", env.registry.tables["golang"])
}

func TestSubredditStreamJob_OverlapNotSkipped(t *testing.T) {
	env := newTestEnv()
	env.Settings.StreamWindow = 10
	base := time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(id string, min int) *model.Comment { return comment(id, base.Add(time.Duration(min)*time.Minute)) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeReddit{
		// Каждый опрос возвращает последние комментарии, в том числе прежние
		stream: []streamReply{
			{comments: []*model.Comment{at("b", 2), at("a", 1)}},
			{comments: []*model.Comment{at("c", 3), at("b", 2), at("a", 1)}},
			{comments: []*model.Comment{at("c", 3), at("b", 2), at("a", 1)}},
			{comments: []*model.Comment{at("c", 3)}},
			// a отсутствовал в предыдущем ответе: это пропуск окном
			{comments: []*model.Comment{at("d", 4), at("a", 1)}},
		},
		onStreamEnd: cancel,
	}

	result, err := NewSubredditStreamJob(env.Env, api, mustTarget(t, model.JobSubredditStream, "golang")).Run(ctx)
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, model.BatchResult{Inserted: 4, Skipped: 1}, result.BatchResult)
	assert.Equal(t, int64(1), env.checkpoints.last().Skipped)
}

func TestSubredditStreamJob_SeedAndRetry(t *testing.T) {
	env := newTestEnv()
	base := time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, env.records.Insert(context.Background(), "golang", comment("x", base)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeReddit{
		stream: []streamReply{
			{err: fmt.Errorf("%w: 503", reddit.ErrTransient)},
			{comments: []*model.Comment{comment("y", base.Add(time.Minute)), comment("x", base)}},
		},
		onStreamEnd: cancel,
	}

	result, err := NewSubredditStreamJob(env.Env, api, mustTarget(t, model.JobSubredditStream, "golang")).Run(ctx)
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, model.BatchResult{Inserted: 1, Skipped: 1}, result.BatchResult)
	assert.Equal(t, 2, api.streamCalls, "временная ошибка повторяется")
}

func TestSubredditStreamJob_CheckReady(t *testing.T) {
	env := newTestEnv()
	env.Settings.RetryDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeReddit{
		stream:      []streamReply{{comments: []*model.Comment{comment("a", time.Now())}}},
		onStreamEnd: cancel,
	}
	job := NewSubredditStreamJob(env.Env, api, mustTarget(t, model.JobSubredditStream, "golang"))

	status, _ := job.CheckReady()
	assert.Equal(t, "degraded", status, "до первого цикла")

	_, err := job.Run(ctx)
	require.ErrorIs(t, err, ErrInterrupted)

	status, msg := job.CheckReady()
	assert.Equal(t, "ok", status, msg)
}

func TestSubredditStreamJob_Unauthorized(t *testing.T) {
	env := newTestEnv()
	api := &fakeReddit{
		stream: []streamReply{{err: fmt.Errorf("%w: 401", reddit.ErrUnauthorized)}},
	}

	result, err := NewSubredditStreamJob(env.Env, api, mustTarget(t, model.JobSubredditStream, "golang")).Run(context.Background())
	require.ErrorIs(t, err, reddit.ErrUnauthorized)
	assert.Equal(t, ExitConnection, Classify(err))
	assert.Equal(t, model.StatusFailed, result.Status)
	assert.Equal(t, 1, api.streamCalls)
}

func TestRedditorHistoryJob_StopsAtCollected(t *testing.T) {
	env := newTestEnv()
	base := time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC)
	uc := func(id string, day int) *model.UserComment {
		created := base.AddDate(0, 0, day)
		return &model.UserComment{ID: id, Author: "spez", Subreddit: "golang", Created: created, CreatedUTC: created}
	}
	ctx := context.Background()
	require.NoError(t, env.records.Insert(ctx, "user_comments", uc("u1", 0)))

	api := &fakeReddit{userPages: map[string]userPage{
		"":   {items: []*model.UserComment{uc("u3", 3), uc("u2", 2)}, next: "p2"},
		"p2": {items: []*model.UserComment{uc("u1", 0)}, next: "p3"},
		"p3": {items: []*model.UserComment{uc("u0", -1)}},
	}}
	opts := HistoryOptions{Target: mustTarget(t, model.JobRedditorHistory, "spez")}

	first, err := NewRedditorHistoryJob(env.Env, api, opts).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BatchResult{Inserted: 2, Skipped: 1}, first.BatchResult)
	assert.Equal(t, []string{"", "p2"}, api.userCalls, "страница p3 старше собранного")

	last := env.checkpoints.last()
	require.NotNil(t, last.Cursor)
	assert.True(t, last.Cursor.Equal(base.AddDate(0, 0, 3)))

	api.userCalls = nil
	second, err := NewRedditorHistoryJob(env.Env, api, opts).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BatchResult{Skipped: 2}, second.BatchResult)
	assert.Equal(t, []string{""}, api.userCalls)
}

type fakeTwitter struct {
	pages  map[string]twitterPage
	calls  []string
	errs   map[string]error
	onPage func(maxID string)
}

type twitterPage struct {
	items []*model.Tweet
	next  string
}

func (f *fakeTwitter) UserTimeline(ctx context.Context, _ string, maxID string) ([]*model.Tweet, string, error) {
	f.calls = append(f.calls, maxID)
	if f.onPage != nil {
		f.onPage(maxID)
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if err := f.errs[maxID]; err != nil {
		return nil, "", err
	}
	p := f.pages[maxID]
	return p.items, p.next, nil
}

func TestTwitterTimelineJob_CSV(t *testing.T) {
	env := newTestEnv()
	created := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	author := "rob"
	api := &fakeTwitter{pages: map[string]twitterPage{
		"": {items: []*model.Tweet{
			{ID: "2", Author: "jack", CreatedUTC: created, Lang: "en", FavoriteCount: 5, RetweetCount: 2,
				Hashtags: []string{"go", "db"}, URLs: []string{"https://go.dev"}, Text: "hello, world"},
			{ID: "1", Author: "jack", CreatedUTC: created.Add(-time.Hour), Lang: "en",
				RetweetAuthor: &author, Text: "rt"},
		}, next: "0"},
		"0": {},
	}}

	var out bytes.Buffer
	opts := HistoryOptions{Target: mustTarget(t, model.JobTwitterTimeline, "jack")}
	result, err := NewTwitterTimelineJob(env.Env, api, opts, &out).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 2, env.records.count("tweets"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(tweetCSVHeader, ","), lines[0])
	assert.Equal(t, `jack,1577836800,en,5,2,,go db,https://go.dev,"hello, world"`, lines[1])
	assert.Equal(t, `jack,1577833200,en,0,0,rob,,,rt`, lines[2])
}

// historyFixture — задача обхода ленты с пятью записями на трёх страницах:
// "" → 5, 4; p2 → 3, 2; p3 → 1.
type historyFixture struct {
	table string
	// newest — время самой новой записи ленты
	newest    time.Time
	transient error
	run       func(ctx context.Context) (*model.RunResult, error)
	// calls возвращает запрошенные токены страниц и очищает список
	calls   func() []string
	failAt  func(token string, err error)
	onPage  func(fn func(token string))
	restore func()
}

func redditHistoryFixture(t *testing.T, env *testEnv) historyFixture {
	base := time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC)
	uc := func(id string, day int) *model.UserComment {
		created := base.AddDate(0, 0, day)
		return &model.UserComment{ID: id, Author: "spez", Subreddit: "golang", Created: created, CreatedUTC: created}
	}
	api := &fakeReddit{
		userPages: map[string]userPage{
			"":   {items: []*model.UserComment{uc("u5", 5), uc("u4", 4)}, next: "p2"},
			"p2": {items: []*model.UserComment{uc("u3", 3), uc("u2", 2)}, next: "p3"},
			"p3": {items: []*model.UserComment{uc("u1", 1)}},
		},
		userErrs: map[string]error{},
	}
	opts := HistoryOptions{Target: mustTarget(t, model.JobRedditorHistory, "spez")}

	return historyFixture{
		table:     "user_comments",
		newest:    base.AddDate(0, 0, 5),
		transient: fmt.Errorf("%w: 503", reddit.ErrTransient),
		run: func(ctx context.Context) (*model.RunResult, error) {
			return NewRedditorHistoryJob(env.Env, api, opts).Run(ctx)
		},
		calls: func() []string {
			c := api.userCalls
			api.userCalls = nil
			return c
		},
		failAt: func(token string, err error) { api.userErrs[token] = err },
		onPage: func(fn func(token string)) { api.onUserPage = fn },
		restore: func() {
			api.userErrs = map[string]error{}
			api.onUserPage = nil
		},
	}
}

func twitterTimelineFixture(t *testing.T, env *testEnv) historyFixture {
	base := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	tw := func(id string, hour int) *model.Tweet {
		return &model.Tweet{ID: id, Author: "jack", CreatedUTC: base.Add(time.Duration(hour) * time.Hour), Lang: "en", Text: id}
	}
	api := &fakeTwitter{
		pages: map[string]twitterPage{
			"":   {items: []*model.Tweet{tw("5", 5), tw("4", 4)}, next: "p2"},
			"p2": {items: []*model.Tweet{tw("3", 3), tw("2", 2)}, next: "p3"},
			"p3": {items: []*model.Tweet{tw("1", 1)}},
		},
		errs: map[string]error{},
	}
	opts := HistoryOptions{Target: mustTarget(t, model.JobTwitterTimeline, "jack")}

	return historyFixture{
		table:     "tweets",
		newest:    base.Add(5 * time.Hour),
		transient: fmt.Errorf("%w: 503", twitter.ErrTransient),
		run: func(ctx context.Context) (*model.RunResult, error) {
			return NewTwitterTimelineJob(env.Env, api, opts, nil).Run(ctx)
		},
		calls: func() []string {
			c := api.calls
			api.calls = nil
			return c
		},
		failAt: func(token string, err error) { api.errs[token] = err },
		onPage: func(fn func(token string)) { api.onPage = fn },
		restore: func() {
			api.errs = map[string]error{}
			api.onPage = nil
		},
	}
}

func TestHistoryJobs_ResumeAfterIncompleteRun(t *testing.T) {
	jobs := []struct {
		name  string
		build func(t *testing.T, env *testEnv) historyFixture
	}{
		{"redditor-history", redditHistoryFixture},
		{"twitter-timeline", twitterTimelineFixture},
	}
	stops := []struct {
		name   string
		status model.CheckpointStatus
		exit   int
		stop   func(f historyFixture, cancel context.CancelFunc)
	}{
		{
			name:   "ошибка API",
			status: model.StatusFailed,
			exit:   ExitCollection,
			stop:   func(f historyFixture, _ context.CancelFunc) { f.failAt("p2", f.transient) },
		},
		{
			name:   "отмена",
			status: model.StatusInterrupted,
			exit:   ExitInterrupted,
			stop: func(f historyFixture, cancel context.CancelFunc) {
				f.onPage(func(token string) {
					if token == "p2" {
						cancel()
					}
				})
			},
		},
	}

	for _, job := range jobs {
		for _, st := range stops {
			t.Run(job.name+"/"+st.name, func(t *testing.T) {
				env := newTestEnv()
				env.Settings.BatchSize = 2
				f := job.build(t, env)

				ctx, cancel := context.WithCancel(context.Background())
				defer cancel()
				st.stop(f, cancel)

				first, err := f.run(ctx)
				require.Error(t, err)
				assert.Equal(t, st.exit, Classify(err))
				require.NotNil(t, first)
				assert.Equal(t, 2, first.Inserted)

				saved := env.checkpoints.last()
				assert.Equal(t, st.status, saved.Status)
				assert.Nil(t, saved.Cursor, "точка появляется только после полного обхода")
				f.calls()
				f.restore()

				second, err := f.run(context.Background())
				require.NoError(t, err)
				assert.Equal(t, []string{"", "p2", "p3"}, f.calls(), "незавершённый обход читается заново целиком")
				assert.Equal(t, model.BatchResult{Inserted: 3, Skipped: 2}, second.BatchResult)
				assert.Equal(t, 5, env.records.count(f.table))

				final := env.checkpoints.last()
				assert.Equal(t, model.StatusCompleted, final.Status)
				assert.Equal(t, int64(5), final.Inserted, "счётчики накапливаются между запусками")
				require.NotNil(t, final.Cursor)
				assert.True(t, final.Cursor.Equal(f.newest), "курсор %v, ожидался %v", *final.Cursor, f.newest)

				third, err := f.run(context.Background())
				require.NoError(t, err)
				assert.Equal(t, []string{""}, f.calls())
				assert.Equal(t, model.BatchResult{Skipped: 2}, third.BatchResult)
			})
		}
	}
}
