// Пакет report — отчёты по собранным комментариям: HTML-графики (go-echarts)
// и таблицы в терминале (go-pretty).
//
// Отчёты:
//   - terms — упоминания каждого термина в одном сабреддите по интервалам
//   - subreddits — упоминания терминов в нескольких сабреддитах (ряд на сабреддит)
//   - schedule — активность пользователя по дню недели и часу (UTC)
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bigkaa/harvester/internal/domain/model"
	"github.com/bigkaa/harvester/internal/repository"
)

var (
	// ErrEmptyReport — запрос не вернул ни одной записи.
	ErrEmptyReport = errors.New("нет данных для отчёта")
	// ErrInvalidOptions — параметры отчёта противоречат его виду.
	ErrInvalidOptions = errors.New("некорректные параметры отчёта")
)

// Registry — таблицы сабреддитов (repository.SubredditRegistry).
type Registry interface {
	Tables(ctx context.Context) ([]repository.SubredditTable, error)
}

// SeriesOptions — параметры отчётов terms и subreddits.
type SeriesOptions struct {
	// Subreddits — один сабреддит для terms, один или несколько для subreddits
	Subreddits []string
	Terms      []string
	From       time.Time
	To         time.Time
	Bucket     repository.Bucket
}

// Output — куда пишется отчёт: HTML-график и таблица (любой может быть nil).
type Output struct {
	HTML  io.Writer
	Table io.Writer
}

// Reporter строит отчёты по данным хранилища.
type Reporter struct {
	queries  repository.ReportRepository
	registry Registry
	logger   *slog.Logger
}

// NewReporter создаёт построитель отчётов.
func NewReporter(queries repository.ReportRepository, registry Registry, logger *slog.Logger) *Reporter {
	return &Reporter{
		queries:  queries,
		registry: registry,
		logger:   logger.With(slog.String("component", "report")),
	}
}

// Terms строит отчёт по терминам в одном сабреддите.
func (r *Reporter) Terms(ctx context.Context, opts SeriesOptions, out Output) error {
	if len(opts.Subreddits) != 1 {
		return fmt.Errorf("%w: отчёт terms строится по одному сабреддиту, передано %d", ErrInvalidOptions, len(opts.Subreddits))
	}
	if len(opts.Terms) == 0 {
		return fmt.Errorf("%w: отчёт terms: не заданы термины", ErrInvalidOptions)
	}
	tables, err := r.tables(ctx, opts.Subreddits)
	if err != nil {
		return err
	}

	points, err := r.queries.TermCounts(ctx, tables[0], opts.Terms, opts.From, opts.To, opts.Bucket)
	if err != nil {
		return err
	}
	if total(points) == 0 {
		return ErrEmptyReport
	}

	r.logger.Info("Отчёт по терминам построен",
		slog.String("subreddit", opts.Subreddits[0]),
		slog.Int("terms", len(opts.Terms)),
		slog.Int("comments", total(points)),
	)
	title := fmt.Sprintf("r/%s: %s", opts.Subreddits[0], strings.Join(opts.Terms, ", "))
	return writeSeries(out, title, subtitle(opts), points, opts.Bucket)
}

// Subreddits строит отчёт по терминам в нескольких сабреддитах:
// один ряд на сабреддит.
func (r *Reporter) Subreddits(ctx context.Context, opts SeriesOptions, out Output) error {
	if len(opts.Subreddits) == 0 {
		return fmt.Errorf("%w: отчёт subreddits: не заданы сабреддиты", ErrInvalidOptions)
	}
	tables, err := r.tables(ctx, opts.Subreddits)
	if err != nil {
		return err
	}

	var points []repository.Point
	for i, table := range tables {
		part, err := r.queries.TableCounts(ctx, table, opts.Terms, opts.From, opts.To, opts.Bucket)
		if err != nil {
			return fmt.Errorf("сабреддит %s: %w", opts.Subreddits[i], err)
		}
		for _, p := range part {
			p.Series = opts.Subreddits[i]
			points = append(points, p)
		}
	}
	if total(points) == 0 {
		return ErrEmptyReport
	}

	r.logger.Info("Отчёт по сабреддитам построен",
		slog.Int("subreddits", len(tables)),
		slog.Int("comments", total(points)),
	)
	title := "Комментарии по сабреддитам"
	if len(opts.Terms) > 0 {
		title += ": " + strings.Join(opts.Terms, ", ")
	}
	return writeSeries(out, title, subtitle(opts), points, opts.Bucket)
}

// Schedule строит отчёт об активности пользователя.
func (r *Reporter) Schedule(ctx context.Context, user string, out Output) error {
	registered, err := r.registry.Tables(ctx)
	if err != nil {
		return err
	}

	cells, err := r.queries.UserSchedule(ctx, user, repository.UserTables(registered))
	if err != nil {
		return err
	}
	shares, err := r.queries.UserSubreddits(ctx, user)
	if err != nil {
		return err
	}

	count := 0
	for _, c := range cells {
		count += c.Count
	}
	if count == 0 {
		return ErrEmptyReport
	}
	r.logger.Info("Отчёт об активности построен",
		slog.String("user", user),
		slog.Int("comments", count),
		slog.Int("subreddits", len(shares)),
	)

	if out.HTML != nil {
		if err := ScheduleChart(out.HTML, "Активность u/"+user, "UTC, комментарии по дню недели и часу", cells); err != nil {
			return err
		}
	}
	if out.Table != nil {
		WriteScheduleTable(out.Table, cells)
		WriteSharesTable(out.Table, shares)
	}
	return nil
}

// tables возвращает таблицы сабреддитов: из реестра, иначе таблицу по умолчанию.
func (r *Reporter) tables(ctx context.Context, subreddits []string) ([]string, error) {
	registered, err := r.registry.Tables(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(registered))
	for _, t := range registered {
		byName[strings.ToLower(t.Name)] = t.Table
	}

	out := make([]string, len(subreddits))
	for i, name := range subreddits {
		table, ok := byName[strings.ToLower(name)]
		if !ok {
			target, err := model.NewTarget(model.JobSubredditComments, name, "")
			if err != nil {
				return nil, err
			}
			table = target.Table
		}
		out[i] = table
	}
	return out, nil
}

func writeSeries(out Output, title, sub string, points []repository.Point, bucket repository.Bucket) error {
	if out.HTML != nil {
		if err := StackedBar(out.HTML, title, sub, points, bucket); err != nil {
			return err
		}
	}
	if out.Table != nil {
		WriteSeriesTable(out.Table, points, bucket)
	}
	return nil
}

func subtitle(opts SeriesOptions) string {
	return fmt.Sprintf("%s - %s, шаг: %s",
		opts.From.UTC().Format("2006-01-02 15:04"),
		opts.To.UTC().Format("2006-01-02 15:04"),
		opts.Bucket,
	)
}

func total(points []repository.Point) int {
	n := 0
	for _, p := range points {
		n += p.Count
	}
	return n
}

// OutputPath возвращает путь HTML-файла: explicit, если задан, иначе
// <report>.html в каталоге dir.
func OutputPath(dir, report, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, report+".html")
}
