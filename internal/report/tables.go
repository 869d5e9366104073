package report

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/bigkaa/harvester/internal/repository"
)

// NewTable создаёт таблицу в стиле, общем для всех команд.
func NewTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	// Заголовки и итоги печатаются как есть, без перевода в верхний регистр
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	t.SetOutputMirror(w)
	return t
}

// WriteSeriesTable печатает сводную таблицу интервал × ряд с итогами.
func WriteSeriesTable(w io.Writer, points []repository.Point, bucket repository.Bucket) {
	p := Pivot(points, bucket)

	t := NewTable(w)
	header := table.Row{"Интервал"}
	for _, s := range p.Series {
		header = append(header, s)
	}
	t.AppendHeader(append(header, "Всего"))

	totals := make([]int, len(p.Series))
	sum := 0
	for i, label := range p.Labels {
		row := table.Row{label}
		rowSum := 0
		for j, s := range p.Series {
			v := p.Values[s][i]
			row = append(row, v)
			rowSum += v
			totals[j] += v
		}
		sum += rowSum
		t.AppendRow(append(row, rowSum))
	}

	footer := table.Row{"Всего"}
	for _, v := range totals {
		footer = append(footer, v)
	}
	t.AppendFooter(append(footer, sum))
	t.Render()
}

// WriteScheduleTable печатает активность: день недели × час.
func WriteScheduleTable(w io.Writer, cells []repository.ScheduleCell) {
	var grid [7][24]int
	for _, c := range cells {
		if c.Weekday < 1 || c.Weekday > 7 || c.Hour < 0 || c.Hour > 23 {
			continue
		}
		grid[c.Weekday-1][c.Hour] += c.Count
	}

	t := NewTable(w)
	header := table.Row{"День"}
	for h := 0; h < 24; h++ {
		header = append(header, fmt.Sprintf("%02d", h))
	}
	t.AppendHeader(header)

	for d, name := range weekdays {
		row := table.Row{name}
		for h := 0; h < 24; h++ {
			if grid[d][h] == 0 {
				row = append(row, "")
				continue
			}
			row = append(row, grid[d][h])
		}
		t.AppendRow(row)
	}
	t.Render()
}

// WriteSharesTable печатает распределение комментариев по сабреддитам.
func WriteSharesTable(w io.Writer, shares []repository.SubredditShare) {
	if len(shares) == 0 {
		return
	}
	t := NewTable(w)
	t.AppendHeader(table.Row{"Сабреддит", "Комментарии", "Доля"})
	for _, s := range shares {
		t.AppendRow(table.Row{s.Subreddit, s.Count, fmt.Sprintf("%.1f%%", s.Percent)})
	}
	t.Render()
}
