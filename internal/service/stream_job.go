// stream_job.go — потоковый сбор новых комментариев сабреддита.
//
// Задача опрашивает последние комментарии с интервалом HV_STREAM_POLL_INTERVAL,
// отсекает уже виденные окном последних id и записывает новые каждый цикл.
// Временные ошибки API и записи повторяются через HV_STREAM_RETRY_DELAY;
// завершение — только по отмене или при отказе в доступе.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bigkaa/harvester/internal/domain/dedup"
	"github.com/bigkaa/harvester/internal/domain/model"
)

// SubredditStreamJob — потоковый сбор комментариев.
type SubredditStreamJob struct {
	env    *Env
	api    RedditAPI
	target model.Target
	logger *slog.Logger

	// lastCycle — unix nano последнего цикла опроса, записанного без ошибок
	lastCycle atomic.Int64
}

// NewSubredditStreamJob создаёт задачу потокового сбора.
func NewSubredditStreamJob(env *Env, api RedditAPI, target model.Target) *SubredditStreamJob {
	return &SubredditStreamJob{
		env:    env,
		api:    api,
		target: target,
		logger: env.Logger.With(
			slog.String("component", "stream_job"),
			slog.String("target", target.Name),
		),
	}
}

// Run выполняет сбор до отмены ctx.
func (j *SubredditStreamJob) Run(ctx context.Context) (*model.RunResult, error) {
	if err := checkTarget(j.target, model.JobSubredditStream); err != nil {
		return nil, err
	}

	prev, err := j.env.prepare(ctx, j.target)
	if err != nil {
		return nil, err
	}
	if err := j.env.Subreddits.Register(ctx, j.target.Name, j.target.Table); err != nil {
		return nil, err
	}

	window, err := dedup.NewWindow(j.env.Settings.StreamWindow)
	if err != nil {
		return nil, fmt.Errorf("%w: окно потока: %v", ErrInvalidInput, err)
	}
	ids, err := j.env.Records.RecentIDs(ctx, j.target.Table, j.env.Settings.StreamWindow)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDedupUnavailable, err)
	}
	window.Seed(ids)

	cp := newCheckpoint(j.target, model.ModeStream)
	if prev != nil {
		cp.Cursor = prev.Cursor
		cp.Inserted, cp.Skipped, cp.Failed = prev.Inserted, prev.Skipped, prev.Failed
	}

	// Дубликаты отсекает окно, фильтр конвейера не нужен
	c := NewCollector(j.target, cp, j.env.Writer, j.env.Checkpoints, CollectorOptions{
		BatchSize:    j.env.Settings.BatchSize,
		FlushTimeout: j.env.Settings.FlushTimeout,
		NoFilter:     true,
	}, j.env.Logger)
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	j.logger.Info("Потоковый сбор запущен",
		slog.Int("window", j.env.Settings.StreamWindow),
		slog.Int("seeded", window.Len()),
		slog.Duration("poll_interval", j.env.Settings.PollInterval),
	)

	return c.Finish(ctx, j.poll(ctx, c, window, cp.Cursor))
}

// poll — цикл опроса. Возвращает ошибку отмены или фатальную ошибку API.
func (j *SubredditStreamJob) poll(ctx context.Context, c *Collector, window *dedup.Window, newest *time.Time) error {
	var latest time.Time
	if newest != nil {
		latest = *newest
	}

	// id предыдущего ответа: их повтор в следующем ответе не считается пропуском
	var previous map[string]struct{}

	for {
		comments, err := j.api.NewComments(ctx, j.target.Name, 100)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if fatalAPIError(err) {
				return err
			}
			j.logger.Warn("Ошибка получения комментариев, повтор",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", j.env.Settings.RetryDelay),
			)
			if err := sleepCtx(ctx, j.env.Settings.RetryDelay); err != nil {
				return err
			}
			continue
		}
		c.PageFetched()

		// Ответ — от новых к старым; окно заполняется в порядке появления
		fresh := make([]model.Record, 0, len(comments))
		current := make(map[string]struct{}, len(comments))
		overlap, skipped := 0, 0
		for i := len(comments) - 1; i >= 0; i-- {
			id := comments[i].RecordID()
			current[id] = struct{}{}
			if window.Seen(id) {
				if _, ok := previous[id]; ok {
					overlap++
				} else {
					skipped++
				}
				continue
			}
			fresh = append(fresh, comments[i])
		}
		previous = current
		c.Skip(skipped)
		if overlap > 0 {
			j.logger.Debug("Ответ повторяет предыдущий опрос", slog.Int("overlap", overlap))
		}

		if err := j.write(ctx, c, fresh, &latest); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			j.logger.Warn("Ошибка записи, повтор в следующем цикле",
				slog.String("error", err.Error()),
				slog.Int("buffered", c.Buffered()),
			)
			if err := sleepCtx(ctx, j.env.Settings.RetryDelay); err != nil {
				return err
			}
			continue
		}

		j.lastCycle.Store(time.Now().UnixNano())

		if err := sleepCtx(ctx, j.env.Settings.PollInterval); err != nil {
			return err
		}
	}
}

// CheckReady — готовность потока для /health/ready: последний успешный
// цикл опроса не старше трёх интервалов опроса с повтором.
func (j *SubredditStreamJob) CheckReady() (status string, message string) {
	last := j.lastCycle.Load()
	if last == 0 {
		return "degraded", "ожидание первого цикла опроса"
	}
	age := time.Since(time.Unix(0, last)).Round(time.Second)
	if age > 3*(j.env.Settings.PollInterval+j.env.Settings.RetryDelay) {
		return "degraded", fmt.Sprintf("последний успешный цикл %s назад", age)
	}
	return "ok", fmt.Sprintf("последний цикл %s назад", age)
}

// write передаёт новые записи в конвейер и сбрасывает буфер.
// Курсор — самая новая записанная запись потока.
func (j *SubredditStreamJob) write(ctx context.Context, c *Collector, fresh []model.Record, latest *time.Time) error {
	if err := c.Add(ctx, fresh...); err != nil {
		return err
	}
	if n := model.NewestCreated(fresh); n.After(*latest) {
		*latest = n
		c.Advance(n)
	}
	return c.Flush(ctx)
}
