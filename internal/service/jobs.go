// jobs.go — общее окружение задач сбора.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/harvester/internal/config"
	"github.com/bigkaa/harvester/internal/domain/model"
	"github.com/bigkaa/harvester/internal/repository"
)

// RedditAPI — операции Reddit API, нужные задачам (*reddit.Client).
type RedditAPI interface {
	SearchSubmissions(ctx context.Context, subreddit string, start, end time.Time) ([]*model.Submission, error)
	SubmissionComments(ctx context.Context, submissionID string) ([]*model.Comment, error)
	NewComments(ctx context.Context, subreddit string, limit int) ([]*model.Comment, error)
	UserComments(ctx context.Context, user, after string) ([]*model.UserComment, string, error)
}

// TwitterAPI — лента пользователя (*twitter.Client).
type TwitterAPI interface {
	UserTimeline(ctx context.Context, user, maxID string) ([]*model.Tweet, string, error)
}

// Settings — параметры сбора из конфигурации.
type Settings struct {
	BatchSize    int
	DedupWindow  int
	StreamWindow int
	PollInterval time.Duration
	RetryDelay   time.Duration
	FlushTimeout time.Duration
}

// SettingsFromConfig извлекает параметры сбора из конфигурации.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		BatchSize:    cfg.BatchSize,
		DedupWindow:  cfg.DedupWindow,
		StreamWindow: cfg.StreamWindow,
		PollInterval: cfg.StreamPollInterval,
		RetryDelay:   cfg.StreamRetryDelay,
		FlushTimeout: cfg.FlushTimeout,
	}
}

// Env — зависимости, общие для всех задач сбора.
type Env struct {
	Records     repository.RecordRepository
	Checkpoints repository.CheckpointRepository
	Subreddits  repository.SubredditRegistry
	Writer      Writer
	Settings    Settings
	Logger      *slog.Logger
}

// prepare создаёт таблицу назначения и возвращает сохранённую точку
// возобновления цели (nil, если её нет).
func (e *Env) prepare(ctx context.Context, target model.Target) (*model.Checkpoint, error) {
	if err := e.Records.EnsureTable(ctx, target.Kind.Schema(), target.Table); err != nil {
		return nil, err
	}

	cp, err := e.Checkpoints.Get(ctx, target.Kind, target.Name, target.Table)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return cp, nil
}

// newCheckpoint создаёт точку для нового запуска с нулевыми счётчиками.
func newCheckpoint(target model.Target, mode model.CheckpointMode) *model.Checkpoint {
	return &model.Checkpoint{
		Kind:   target.Kind,
		Target: target.Name,
		Table:  target.Table,
		Mode:   mode,
		RunID:  uuid.NewString(),
	}
}

// collector создаёт конвейер запуска. unsafe отключает запрос существующих id.
func (e *Env) collector(target model.Target, cp *model.Checkpoint, unsafe bool, window int) *Collector {
	opts := CollectorOptions{
		BatchSize:    e.Settings.BatchSize,
		DedupWindow:  window,
		FlushTimeout: e.Settings.FlushTimeout,
	}
	if !unsafe {
		opts.IDs = e.Records
	}
	return NewCollector(target, cp, e.Writer, e.Checkpoints, opts, e.Logger)
}

// checkTarget проверяет вид задачи цели.
func checkTarget(target model.Target, kind model.JobKind) error {
	if target.Kind != kind {
		return fmt.Errorf("%w: цель %s предназначена для %s, а не %s", ErrInvalidInput, target.Name, target.Kind, kind)
	}
	return nil
}

// toRecords переводит срез конкретных записей в []model.Record.
func toRecords[R model.Record](items []R) []model.Record {
	out := make([]model.Record, len(items))
	for i, r := range items {
		out[i] = r
	}
	return out
}

// sleepCtx ждёт d или отмены ctx.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
