package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/harvester/internal/domain/model"
	"github.com/bigkaa/harvester/internal/reddit"
	"github.com/bigkaa/harvester/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRecords — RecordRepository в памяти.
type fakeRecords struct {
	mu        sync.Mutex
	tables    map[string]map[string]model.Record
	recentErr error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{tables: make(map[string]map[string]model.Record)}
}

func (f *fakeRecords) EnsureTable(_ context.Context, _ model.Schema, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tables[table] == nil {
		f.tables[table] = make(map[string]model.Record)
	}
	return nil
}

func (f *fakeRecords) RecentIDs(_ context.Context, table string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	recs := make([]model.Record, 0, len(f.tables[table]))
	for _, r := range f.tables[table] {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt().After(recs[j].CreatedAt()) })
	ids := make([]string, 0, len(recs))
	for i := 0; i < len(recs) && i < limit; i++ {
		ids = append(ids, recs[i].RecordID())
	}
	return ids, nil
}

func (f *fakeRecords) Insert(_ context.Context, table string, r model.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.RecordID() == "" {
		return fmt.Errorf("%w: пустой id", repository.ErrConstraint)
	}
	if f.tables[table] == nil {
		f.tables[table] = make(map[string]model.Record)
	}
	if _, ok := f.tables[table][r.RecordID()]; ok {
		return fmt.Errorf("%w: id %s", repository.ErrConflict, r.RecordID())
	}
	f.tables[table][r.RecordID()] = r
	return nil
}

func (f *fakeRecords) NewestByAuthor(_ context.Context, table, author string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest *time.Time
	for _, r := range f.tables[table] {
		var a string
		switch v := r.(type) {
		case *model.UserComment:
			a = v.Author
		case *model.Tweet:
			a = v.Author
		case *model.Comment:
			a = v.Author
		}
		if !strings.EqualFold(a, author) {
			continue
		}
		if c := r.CreatedAt(); newest == nil || c.After(*newest) {
			newest = &c
		}
	}
	return newest, nil
}

func (f *fakeRecords) count(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

// fakeWriter — Writer поверх fakeRecords, запоминает вызовы.
type fakeWriter struct {
	records *fakeRecords
	calls   [][]model.Record
	// closed — хранилище освобождено; запись после этого — ошибка
	closed bool
	err    error
}

func (w *fakeWriter) Write(ctx context.Context, table string, recs []model.Record) (model.BatchResult, error) {
	if w.closed {
		return model.BatchResult{}, errors.New("хранилище закрыто")
	}
	w.calls = append(w.calls, append([]model.Record(nil), recs...))
	if w.err != nil {
		return model.BatchResult{}, w.err
	}
	var res model.BatchResult
	for _, r := range recs {
		if err := w.records.Insert(ctx, table, r); err != nil {
			res.Failed++
			continue
		}
		res.Inserted++
	}
	return res, nil
}

// fakeCheckpoints — CheckpointRepository в памяти, хранит историю сохранений.
type fakeCheckpoints struct {
	mu     sync.Mutex
	points map[string]model.Checkpoint
	saves  []model.Checkpoint
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{points: make(map[string]model.Checkpoint)}
}

func cpKey(kind model.JobKind, target, table string) string {
	return string(kind) + "/" + target + "/" + table
}

func (f *fakeCheckpoints) Get(_ context.Context, kind model.JobKind, target, table string) (*model.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp, ok := f.points[cpKey(kind, target, table)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &cp, nil
}

func (f *fakeCheckpoints) Save(_ context.Context, cp *model.Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[cpKey(cp.Kind, cp.Target, cp.Table)] = *cp
	f.saves = append(f.saves, *cp)
	return nil
}

func (f *fakeCheckpoints) List(_ context.Context) ([]*model.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Checkpoint, 0, len(f.points))
	for _, cp := range f.points {
		cp := cp
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeCheckpoints) Delete(_ context.Context, kind model.JobKind, target, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := cpKey(kind, target, table)
	if _, ok := f.points[key]; !ok {
		return repository.ErrNotFound
	}
	delete(f.points, key)
	return nil
}

func (f *fakeCheckpoints) last() model.Checkpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves[len(f.saves)-1]
}

// fakeRegistry — SubredditRegistry в памяти.
type fakeRegistry struct {
	tables map[string]string
}

func (f *fakeRegistry) Register(_ context.Context, name, table string) error {
	f.tables[strings.ToLower(name)] = table
	return nil
}

func (f *fakeRegistry) Tables(_ context.Context) ([]repository.SubredditTable, error) {
	var out []repository.SubredditTable
	for n, t := range f.tables {
		out = append(out, repository.SubredditTable{Name: n, Table: t})
	}
	return out, nil
}

// testEnv — окружение задач поверх fake-хранилища.
type testEnv struct {
	*Env
	records     *fakeRecords
	checkpoints *fakeCheckpoints
	writer      *fakeWriter
	registry    *fakeRegistry
}

func newTestEnv() *testEnv {
	records := newFakeRecords()
	checkpoints := newFakeCheckpoints()
	writer := &fakeWriter{records: records}
	registry := &fakeRegistry{tables: make(map[string]string)}

	return &testEnv{
		Env: &Env{
			Records:     records,
			Checkpoints: checkpoints,
			Subreddits:  registry,
			Writer:      writer,
			Settings: Settings{
				BatchSize:    10,
				DedupWindow:  1000,
				StreamWindow: 3,
				PollInterval: time.Millisecond,
				RetryDelay:   time.Millisecond,
				FlushTimeout: time.Second,
			},
			Logger: testLogger(),
		},
		records:     records,
		checkpoints: checkpoints,
		writer:      writer,
		registry:    registry,
	}
}

// fakeReddit — RedditAPI поверх списков в памяти.
type fakeReddit struct {
	mu       sync.Mutex
	pageSize int

	submissions []*model.Submission
	comments    map[string][]*model.Comment
	searchCalls [][2]time.Time
	// failSearchAt — номер вызова поиска (с 1), начиная с которого поиск падает
	failSearchAt int

	stream      []streamReply
	streamCalls int
	// onStreamEnd вызывается, когда ответы потока закончились
	onStreamEnd func()

	userPages map[string]userPage
	userCalls []string
	// userErrs — ошибки страниц истории по токену
	userErrs map[string]error
	// onUserPage вызывается перед ответом на запрос страницы истории
	onUserPage func(after string)
}

type streamReply struct {
	comments []*model.Comment
	err      error
}

type userPage struct {
	items []*model.UserComment
	next  string
}

func (f *fakeReddit) SearchSubmissions(ctx context.Context, _ string, start, end time.Time) ([]*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.searchCalls = append(f.searchCalls, [2]time.Time{start, end})
	if f.failSearchAt > 0 && len(f.searchCalls) >= f.failSearchAt {
		return nil, fmt.Errorf("%w: 503", reddit.ErrTransient)
	}

	var page []*model.Submission
	for _, s := range f.submissions {
		sec := s.CreatedUTC.Unix()
		if sec >= start.Unix() && sec <= end.Unix() {
			page = append(page, s)
		}
	}
	sort.Slice(page, func(i, j int) bool { return page[i].CreatedUTC.After(page[j].CreatedUTC) })
	if len(page) > f.pageSize {
		page = page[:f.pageSize]
	}
	return page, nil
}

func (f *fakeReddit) SubmissionComments(_ context.Context, id string) ([]*model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.comments[id], nil
}

func (f *fakeReddit) NewComments(ctx context.Context, _ string, _ int) ([]*model.Comment, error) {
	f.mu.Lock()
	if f.streamCalls >= len(f.stream) {
		f.mu.Unlock()
		if f.onStreamEnd != nil {
			f.onStreamEnd()
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	reply := f.stream[f.streamCalls]
	f.streamCalls++
	f.mu.Unlock()
	return reply.comments, reply.err
}

func (f *fakeReddit) UserComments(ctx context.Context, _ string, after string) ([]*model.UserComment, string, error) {
	f.mu.Lock()
	f.userCalls = append(f.userCalls, after)
	hook := f.onUserPage
	f.mu.Unlock()

	if hook != nil {
		hook(after)
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.userErrs[after]; err != nil {
		return nil, "", err
	}
	p := f.userPages[after]
	return p.items, p.next, nil
}

// daily создаёт n постов, по одному в день начиная с from.
func daily(from time.Time, n int) []*model.Submission {
	out := make([]*model.Submission, n)
	for i := range out {
		created := from.AddDate(0, 0, i)
		out[i] = &model.Submission{
			ID:         fmt.Sprintf("s%03d", i),
			Subreddit:  "golang",
			Author:     "gopher",
			Created:    created,
			CreatedUTC: created,
			Title:      fmt.Sprintf("post %d", i),
		}
	}
	return out
}

func comment(id string, created time.Time) *model.Comment {
	return &model.Comment{ID: id, Author: "gopher", Created: created, CreatedUTC: created, Body: id}
}
