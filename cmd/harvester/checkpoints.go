package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/bigkaa/harvester/internal/domain/model"
	"github.com/bigkaa/harvester/internal/report"
	"github.com/bigkaa/harvester/internal/repository"
	"github.com/bigkaa/harvester/internal/service"
)

func newCheckpointsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Точки возобновления сбора",
		Args:  invalidArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			list, err := repository.NewCheckpointRepository(pool).List(ctx)
			if err != nil {
				return err
			}
			printCheckpoints(a.out, list)
			return nil
		},
	}
	cmd.AddCommand(newCheckpointResetCmd(a))
	return cmd
}

func newCheckpointResetCmd(a *app) *cobra.Command {
	var kind, name, table string
	cmd := &cobra.Command{
		Use:   "reset -k KIND -n NAME [-t TABLE]",
		Short: "Удалить точку возобновления: следующий запуск начнёт сбор заново",
		Args:  invalidArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			k, err := model.ParseJobKind(kind)
			if err != nil {
				return err
			}
			target, err := model.NewTarget(k, name, table)
			if err != nil {
				return err
			}
			ok, err := a.confirm(ctx, fmt.Sprintf("Удалить точку возобновления %s %s → %s?", target.Kind, target.Name, target.Table))
			if err != nil {
				return err
			}
			if !ok {
				a.logger.Info("Удаление отменено оператором")
				return nil
			}

			pool, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			err = repository.NewCheckpointRepository(pool).Delete(ctx, target.Kind, target.Name, target.Table)
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: точка возобновления %s %s → %s не найдена",
					service.ErrInvalidInput, target.Kind, target.Name, target.Table)
			}
			if err != nil {
				return err
			}
			a.logger.Info("Точка возобновления удалена",
				slog.String("kind", string(target.Kind)),
				slog.String("target", target.Name),
				slog.String("table", target.Table),
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "вид задачи (subreddit_comments, subreddit_submissions, ...)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "сабреддит или пользователь")
	cmd.Flags().StringVarP(&table, "table", "t", "", "таблица назначения")
	return cmd
}

func printCheckpoints(w io.Writer, list []*model.Checkpoint) {
	t := report.NewTable(w)
	t.AppendHeader(table.Row{"Задача", "Цель", "Таблица", "Статус", "Диапазон", "Курсор", "Вставлено", "Пропущено", "Ошибок", "Обновлено"})
	for _, cp := range list {
		rng := ""
		if cp.RangeStart != nil && cp.RangeEnd != nil {
			rng = formatTime(cp.RangeStart) + " - " + formatTime(cp.RangeEnd)
		}
		t.AppendRow(table.Row{
			cp.Kind, cp.Target, cp.Table, cp.Status, rng, formatTime(cp.Cursor),
			cp.Inserted, cp.Skipped, cp.Failed, cp.UpdatedAt.UTC().Format(time.DateTime),
		})
	}
	t.AppendFooter(table.Row{"Всего", len(list)})
	t.Render()
}

func formatTime(ts *time.Time) string {
	if ts == nil {
		return "-"
	}
	return ts.UTC().Format(time.DateTime)
}
