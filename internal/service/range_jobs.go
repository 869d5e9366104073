// range_jobs.go — задачи обхода диапазона дат: посты и комментарии сабреддита.
//
// Порядок: поиск самой ранней записи диапазона (genesis), затем постраничный
// обход от конца диапазона к его началу. После каждой полностью обработанной
// страницы курсор обхода передаётся в конвейер; повторный запуск той же
// цели с тем же диапазоном продолжает с сохранённого курсора, в том числе
// после ошибки.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/harvester/internal/domain/model"
	"github.com/bigkaa/harvester/internal/domain/scan"
)

// RangeOptions — параметры обхода диапазона.
type RangeOptions struct {
	Target model.Target
	Start  time.Time
	End    time.Time
	// Unsafe — не запрашивать существующие id (дубликаты отсекает первичный ключ)
	Unsafe bool
}

// SubredditSubmissionsJob собирает посты сабреддита за диапазон дат.
type SubredditSubmissionsJob struct {
	env  *Env
	api  RedditAPI
	opts RangeOptions
}

// NewSubredditSubmissionsJob создаёт задачу сбора постов.
func NewSubredditSubmissionsJob(env *Env, api RedditAPI, opts RangeOptions) *SubredditSubmissionsJob {
	return &SubredditSubmissionsJob{env: env, api: api, opts: opts}
}

// Run выполняет сбор.
func (j *SubredditSubmissionsJob) Run(ctx context.Context) (*model.RunResult, error) {
	if err := checkTarget(j.opts.Target, model.JobSubredditSubmissions); err != nil {
		return nil, err
	}

	src := scan.SourceFunc[*model.Submission](func(ctx context.Context, start, end time.Time) ([]*model.Submission, error) {
		return j.api.SearchSubmissions(ctx, j.opts.Target.Name, start, end)
	})
	return runRange(ctx, j.env, j.opts, src,
		func(ctx context.Context, c *Collector, page []*model.Submission) error {
			return c.Add(ctx, toRecords(page)...)
		})
}

// SubredditCommentsJob собирает комментарии всех постов сабреддита за диапазон дат.
type SubredditCommentsJob struct {
	env  *Env
	api  RedditAPI
	opts RangeOptions
}

// NewSubredditCommentsJob создаёт задачу сбора комментариев.
func NewSubredditCommentsJob(env *Env, api RedditAPI, opts RangeOptions) *SubredditCommentsJob {
	return &SubredditCommentsJob{env: env, api: api, opts: opts}
}

// Run выполняет сбор.
func (j *SubredditCommentsJob) Run(ctx context.Context) (*model.RunResult, error) {
	if err := checkTarget(j.opts.Target, model.JobSubredditComments); err != nil {
		return nil, err
	}
	if err := j.env.Subreddits.Register(ctx, j.opts.Target.Name, j.opts.Target.Table); err != nil {
		return nil, err
	}

	src := scan.SourceFunc[*model.Submission](func(ctx context.Context, start, end time.Time) ([]*model.Submission, error) {
		return j.api.SearchSubmissions(ctx, j.opts.Target.Name, start, end)
	})
	return runRange(ctx, j.env, j.opts, src, j.handlePage)
}

// handlePage загружает дерево комментариев каждого поста страницы.
func (j *SubredditCommentsJob) handlePage(ctx context.Context, c *Collector, page []*model.Submission) error {
	for _, s := range page {
		comments, err := j.api.SubmissionComments(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("комментарии поста %s: %w", s.ID, err)
		}
		if err := c.Add(ctx, toRecords(comments)...); err != nil {
			return err
		}
	}
	return nil
}

// runRange — общий ход задачи обхода диапазона.
func runRange[R model.Record](
	ctx context.Context,
	env *Env,
	opts RangeOptions,
	src scan.Source[R],
	handle func(ctx context.Context, c *Collector, page []R) error,
) (*model.RunResult, error) {
	start, end := opts.Start.UTC(), opts.End.UTC()
	if !end.After(start) {
		return nil, fmt.Errorf("%w: %s — %s", scan.ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	target := opts.Target
	logger := env.Logger.With(
		slog.String("component", "range_job"),
		slog.String("kind", string(target.Kind)),
		slog.String("target", target.Name),
	)

	prev, err := env.prepare(ctx, target)
	if err != nil {
		return nil, err
	}

	cp := newCheckpoint(target, model.ModeRange)
	cp.RangeStart, cp.RangeEnd = &start, &end
	resuming := prev != nil && prev.Mode == model.ModeRange && prev.SameRange(start, end) && prev.Resumable()
	if resuming {
		cp.Cursor = prev.Cursor
		cp.Genesis = prev.Genesis
		cp.Inserted, cp.Skipped, cp.Failed = prev.Inserted, prev.Skipped, prev.Failed
	}

	c := env.collector(target, cp, opts.Unsafe, env.Settings.DedupWindow)
	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	runErr := walkRange(ctx, c, cp, start, end, resuming, src, handle, logger)
	if errors.Is(runErr, scan.ErrNoRecords) {
		logger.Info("В диапазоне нет записей")
		runErr = nil
	}
	return c.Finish(ctx, runErr)
}

func walkRange[R model.Record](
	ctx context.Context,
	c *Collector,
	cp *model.Checkpoint,
	start, end time.Time,
	resuming bool,
	src scan.Source[R],
	handle func(ctx context.Context, c *Collector, page []R) error,
	logger *slog.Logger,
) error {
	if !resuming || cp.Genesis == nil {
		genesis, err := scan.FindGenesis(ctx, src, start, end, logger)
		if err != nil {
			return err
		}
		c.SetGenesis(genesis)
		logger.Info("Найдена самая ранняя запись диапазона", slog.Time("genesis", genesis))
	}

	// genesis — для отчёта оператору: обход идёт от начала диапазона, так как
	// страница источника ограничена и genesis может быть позже первой записи
	walker := scan.NewWalker(src, start, end)
	if resuming && cp.Cursor != nil && walker.Resume(*cp.Cursor) {
		logger.Info("Продолжение обхода с сохранённого курсора",
			slog.Time("cursor", *cp.Cursor),
			slog.String("progress", fmt.Sprintf("%.2f%%", walker.Progress())),
		)
	}
	c.SetProgress(walker.Progress)

	for {
		page, err := walker.Next(ctx)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		c.PageFetched()

		if err := handle(ctx, c, page); err != nil {
			return err
		}
		c.Advance(walker.Cursor())

		logger.Debug("Страница обработана",
			slog.Int("count", len(page)),
			slog.Time("cursor", walker.Cursor()),
			slog.String("progress", fmt.Sprintf("%.2f%%", walker.Progress())),
			slog.Int("buffered", c.Buffered()),
		)
	}
}
