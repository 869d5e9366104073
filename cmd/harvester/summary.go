package main

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/bigkaa/harvester/internal/domain/model"
	"github.com/bigkaa/harvester/internal/report"
)

// printSummary печатает итог запуска задачи сбора.
func printSummary(w io.Writer, r *model.RunResult) {
	t := report.NewTable(w)
	t.SetTitle("%s %s → %s", r.Target.Kind, r.Target.Name, r.Target.Table)
	t.AppendRows([]table.Row{
		{"Статус", r.Status},
		{"Вставлено", r.Inserted},
		{"Пропущено", r.Skipped},
		{"Ошибок", r.Failed},
		{"Страниц", r.Pages},
		{"Пачек", r.Flushes},
		{"Курсор", formatTime(r.Cursor)},
		{"Длительность", r.CompletedAt.Sub(r.StartedAt).Round(time.Second)},
	})
	if r.Genesis != nil {
		t.AppendRow(table.Row{"Самая ранняя запись", formatTime(r.Genesis)})
	}
	t.AppendFooter(table.Row{"Запуск", r.RunID})
	t.Render()
}
