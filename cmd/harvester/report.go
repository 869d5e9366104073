package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/harvester/internal/output"
	"github.com/bigkaa/harvester/internal/report"
	"github.com/bigkaa/harvester/internal/repository"
	"github.com/bigkaa/harvester/internal/service"
)

func newReportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Отчёты по собранным комментариям (HTML и таблица)",
	}
	cmd.AddCommand(
		newSeriesReportCmd(a, "subreddits", "Упоминания терминов в нескольких сабреддитах",
			func(r *report.Reporter) seriesFunc { return r.Subreddits }),
		newSeriesReportCmd(a, "terms", "Упоминания каждого термина в одном сабреддите",
			func(r *report.Reporter) seriesFunc { return r.Terms }),
		newScheduleReportCmd(a),
	)
	return cmd
}

type seriesFunc func(ctx context.Context, opts report.SeriesOptions, out report.Output) error

func newSeriesReportCmd(a *app, name, short string, pick func(*report.Reporter) seriesFunc) *cobra.Command {
	var (
		subreddits []string
		terms      []string
		dates      []string
		bucket     string
		htmlPath   string
	)
	cmd := &cobra.Command{
		Use:   name + " -s NAME[,NAME] -r START END",
		Short: short,
		Args:  invalidArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			start, end, err := parseRange(append(dates, args...))
			if err != nil {
				return err
			}
			b, err := repository.ParseBucket(bucket)
			if err != nil {
				return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
			}
			opts := report.SeriesOptions{
				Subreddits: subreddits,
				Terms:      terms,
				From:       start,
				To:         end,
				Bucket:     b,
			}
			return a.renderReport(ctx, name, htmlPath, func(r *report.Reporter, out report.Output) error {
				return pick(r)(ctx, opts, out)
			})
		},
	}
	cmd.Flags().StringSliceVarP(&subreddits, "subreddits", "s", nil, "сабреддиты")
	cmd.Flags().StringSliceVarP(&terms, "terms", "t", nil, "термины (любой из списка)")
	cmd.Flags().StringSliceVarP(&dates, "range", "r", nil, "диапазон START END в формате yyyymmddhhmmss")
	cmd.Flags().StringVarP(&bucket, "group", "g", string(repository.BucketDay), "шаг группировки: hour, day, week")
	cmd.Flags().StringVarP(&htmlPath, "output", "o", "", "HTML-файл отчёта")
	return cmd
}

func newScheduleReportCmd(a *app) *cobra.Command {
	var user, htmlPath string
	cmd := &cobra.Command{
		Use:   "schedule -u USER",
		Short: "Активность пользователя по дню недели и часу",
		Args:  invalidArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if user == "" {
				return fmt.Errorf("%w: не задан пользователь", service.ErrInvalidInput)
			}
			return a.renderReport(ctx, "schedule", htmlPath, func(r *report.Reporter, out report.Output) error {
				return r.Schedule(ctx, user, out)
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "пользователь Reddit")
	cmd.Flags().StringVarP(&htmlPath, "output", "o", "", "HTML-файл отчёта")
	return cmd
}

// renderReport строит отчёт: таблица печатается сразу, HTML записывается
// в файл только при успехе. Пустой отчёт не ошибка.
func (a *app) renderReport(ctx context.Context, name, htmlPath string, build func(*report.Reporter, report.Output) error) error {
	pool, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	r := report.NewReporter(
		repository.NewReportRepository(pool),
		repository.NewSubredditRegistry(pool),
		a.logger,
	)

	var html bytes.Buffer
	err = build(r, report.Output{HTML: &html, Table: a.out})
	switch {
	case errors.Is(err, report.ErrEmptyReport):
		a.logger.Warn("Отчёт пуст, файл не создан", slog.String("report", name))
		return nil
	case errors.Is(err, report.ErrInvalidOptions):
		return fmt.Errorf("%w: %w", service.ErrInvalidInput, err)
	case err != nil:
		return err
	}

	path := report.OutputPath(a.cfg.ReportDir, name, htmlPath)
	if err := output.WriteFile(path, html.Bytes()); err != nil {
		return fmt.Errorf("ошибка записи отчёта %s: %w", path, err)
	}
	a.logger.Info("Отчёт записан", slog.String("report", name), slog.String("path", path))
	return nil
}
