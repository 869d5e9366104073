// history_jobs.go — задачи обхода ленты от новых записей к старым:
// история комментариев пользователя Reddit и лента Twitter.
//
// Точка возобновления — время самой новой сохранённой записи. Обход
// останавливается на первой странице, все записи которой не новее точки.
// Новая точка сохраняется только после полного обхода: прерванный запуск
// оставляет прежнюю, и следующий запуск дочитывает пропущенное. Если
// прежней точки не было, следующий запуск читает ленту целиком.
package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/harvester/internal/domain/model"
)

// HistoryOptions — параметры обхода ленты.
type HistoryOptions struct {
	Target model.Target
	// Unsafe — не запрашивать существующие id
	Unsafe bool
}

// pageFunc возвращает страницу ленты по токену и токен следующей страницы.
type pageFunc func(ctx context.Context, token string) ([]model.Record, string, error)

// RedditorHistoryJob собирает последние комментарии пользователя Reddit.
type RedditorHistoryJob struct {
	env  *Env
	api  RedditAPI
	opts HistoryOptions
}

// NewRedditorHistoryJob создаёт задачу сбора истории пользователя.
func NewRedditorHistoryJob(env *Env, api RedditAPI, opts HistoryOptions) *RedditorHistoryJob {
	return &RedditorHistoryJob{env: env, api: api, opts: opts}
}

// Run выполняет сбор.
func (j *RedditorHistoryJob) Run(ctx context.Context) (*model.RunResult, error) {
	if err := checkTarget(j.opts.Target, model.JobRedditorHistory); err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context, after string) ([]model.Record, string, error) {
		page, next, err := j.api.UserComments(ctx, j.opts.Target.Name, after)
		return toRecords(page), next, err
	}
	return runHistory(ctx, j.env, j.opts, fetch)
}

// TwitterTimelineJob собирает ленту пользователя Twitter.
type TwitterTimelineJob struct {
	env  *Env
	api  TwitterAPI
	opts HistoryOptions
	csv  io.Writer
}

// NewTwitterTimelineJob создаёт задачу сбора ленты. csvOut — необязательный
// приёмник CSV-выгрузки всех полученных твитов.
func NewTwitterTimelineJob(env *Env, api TwitterAPI, opts HistoryOptions, csvOut io.Writer) *TwitterTimelineJob {
	return &TwitterTimelineJob{env: env, api: api, opts: opts, csv: csvOut}
}

// tweetCSVHeader — колонки CSV-выгрузки ленты.
var tweetCSVHeader = []string{
	"author.screen_name", "created_at_utc", "lang", "favorite_count", "retweet_count",
	"retweet_status.author.name", "hashtags", "urls", "text",
}

// Run выполняет сбор.
func (j *TwitterTimelineJob) Run(ctx context.Context) (*model.RunResult, error) {
	if err := checkTarget(j.opts.Target, model.JobTwitterTimeline); err != nil {
		return nil, err
	}

	var w *csv.Writer
	if j.csv != nil {
		w = csv.NewWriter(j.csv)
		if err := w.Write(tweetCSVHeader); err != nil {
			return nil, fmt.Errorf("ошибка записи CSV: %w", err)
		}
	}

	fetch := func(ctx context.Context, maxID string) ([]model.Record, string, error) {
		page, next, err := j.api.UserTimeline(ctx, j.opts.Target.Name, maxID)
		if err != nil {
			return nil, "", err
		}
		if w != nil {
			for _, t := range page {
				if err := w.Write(tweetRow(t)); err != nil {
					return nil, "", fmt.Errorf("ошибка записи CSV: %w", err)
				}
			}
		}
		return toRecords(page), next, nil
	}

	result, err := runHistory(ctx, j.env, j.opts, fetch)
	if w != nil {
		w.Flush()
		if csvErr := w.Error(); csvErr != nil && err == nil {
			err = fmt.Errorf("ошибка записи CSV: %w", csvErr)
		}
	}
	return result, err
}

// tweetRow — строка CSV-выгрузки.
func tweetRow(t *model.Tweet) []string {
	retweetAuthor := ""
	if t.RetweetAuthor != nil {
		retweetAuthor = *t.RetweetAuthor
	}
	return []string{
		t.Author,
		strconv.FormatInt(t.CreatedUTC.Unix(), 10),
		t.Lang,
		strconv.Itoa(t.FavoriteCount),
		strconv.Itoa(t.RetweetCount),
		retweetAuthor,
		strings.Join(t.Hashtags, " "),
		strings.Join(t.URLs, " "),
		t.Text,
	}
}

// runHistory — общий ход обхода ленты.
func runHistory(ctx context.Context, env *Env, opts HistoryOptions, fetch pageFunc) (*model.RunResult, error) {
	target := opts.Target
	logger := env.Logger.With(
		slog.String("component", "history_job"),
		slog.String("kind", string(target.Kind)),
		slog.String("target", target.Name),
	)

	prev, err := env.prepare(ctx, target)
	if err != nil {
		return nil, err
	}

	cp := newCheckpoint(target, model.ModeHistory)
	var since *time.Time
	switch {
	case prev == nil:
		// Точки нет: опираемся на уже сохранённые записи автора
		since, err = env.Records.NewestByAuthor(ctx, target.Table, target.Name)
		if err != nil {
			return nil, err
		}
	case prev.Cursor == nil && prev.Status != model.StatusCompleted:
		// Первый обход не завершён: лента читается заново целиком,
		// уже записанное отсекает фильтр дубликатов
		logger.Info("Повтор незавершённого обхода ленты", slog.String("status", string(prev.Status)))
		cp.Inserted, cp.Skipped, cp.Failed = prev.Inserted, prev.Skipped, prev.Failed
	default:
		since = prev.Cursor
		cp.Inserted, cp.Skipped, cp.Failed = prev.Inserted, prev.Skipped, prev.Failed
	}
	cp.Cursor = since
	if since != nil {
		logger.Info("Сбор новых записей ленты", slog.Time("since", *since))
	}

	c := env.collector(target, cp, opts.Unsafe, env.Settings.DedupWindow)
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c.Finish(ctx, walkHistory(ctx, c, since, fetch, logger))
}

func walkHistory(ctx context.Context, c *Collector, since *time.Time, fetch pageFunc, logger *slog.Logger) error {
	var newest time.Time
	if since != nil {
		newest = *since
	}

	token := ""
	for {
		page, next, err := fetch(ctx, token)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		c.PageFetched()

		pageNewest := model.NewestCreated(page)
		if pageNewest.After(newest) {
			newest = pageNewest
		}
		if err := c.Add(ctx, page...); err != nil {
			return err
		}

		if since != nil && !pageNewest.After(*since) {
			logger.Debug("Достигнута уже собранная часть ленты", slog.Time("since", *since))
			break
		}
		if next == "" {
			break
		}
		token = next

		logger.Debug("Страница ленты обработана",
			slog.Int("count", len(page)),
			slog.Time("oldest", model.OldestCreated(page)),
		)
	}

	if !newest.IsZero() {
		c.SetFinalCursor(newest)
	}
	return nil
}
