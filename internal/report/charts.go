package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/bigkaa/harvester/internal/repository"
)

// weekdays — подписи дней недели (ISO: 1 — понедельник).
var weekdays = []string{"Пн", "Вт", "Ср", "Чт", "Пт", "Сб", "Вс"}

// Размер пузырька графика активности, px.
const (
	minBubble = 4
	maxBubble = 40
)

// Table — ряды, сведённые по интервалам.
type Table struct {
	// Labels — подписи интервалов по возрастанию
	Labels []string
	// Series — имена рядов по алфавиту
	Series []string
	// Values — значения ряда по интервалам, len == len(Labels)
	Values map[string][]int
}

// Pivot сводит точки в таблицу интервал × ряд. Отсутствующие точки — ноль.
func Pivot(points []repository.Point, bucket repository.Bucket) Table {
	bucketSet := make(map[time.Time]struct{})
	seriesSet := make(map[string]struct{})
	for _, p := range points {
		bucketSet[p.Bucket.UTC()] = struct{}{}
		seriesSet[p.Series] = struct{}{}
	}

	buckets := make([]time.Time, 0, len(bucketSet))
	for b := range bucketSet {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Before(buckets[j]) })

	index := make(map[time.Time]int, len(buckets))
	t := Table{Labels: make([]string, len(buckets)), Values: make(map[string][]int, len(seriesSet))}
	for i, b := range buckets {
		index[b] = i
		t.Labels[i] = BucketLabel(b, bucket)
	}
	for s := range seriesSet {
		t.Series = append(t.Series, s)
		t.Values[s] = make([]int, len(buckets))
	}
	sort.Strings(t.Series)

	for _, p := range points {
		t.Values[p.Series][index[p.Bucket.UTC()]] += p.Count
	}
	return t
}

// BucketLabel форматирует начало интервала.
func BucketLabel(t time.Time, bucket repository.Bucket) string {
	t = t.UTC()
	switch bucket {
	case repository.BucketHour:
		return t.Format("2006-01-02 15h")
	case repository.BucketWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	default:
		return t.Format("2006-01-02")
	}
}

// StackedBar рисует столбчатую диаграмму с накоплением: ряд на термин или сабреддит.
func StackedBar(w io.Writer, title, subtitle string, points []repository.Point, bucket repository.Bucket) error {
	t := Pivot(points, bucket)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	bar.SetXAxis(t.Labels)
	for _, s := range t.Series {
		data := make([]opts.BarData, len(t.Values[s]))
		for i, v := range t.Values[s] {
			data[i] = opts.BarData{Value: v}
		}
		bar.AddSeries(s, data, charts.WithBarChartOpts(opts.BarChart{Stack: "total"}))
	}

	if err := bar.Render(w); err != nil {
		return fmt.Errorf("ошибка отрисовки графика: %w", err)
	}
	return nil
}

// BubbleSize масштабирует число комментариев в размер пузырька.
func BubbleSize(count, peak int) int {
	if count <= 0 || peak <= 0 {
		return 0
	}
	return minBubble + (maxBubble-minBubble)*count/peak
}

// ScheduleChart рисует активность: час по горизонтали, день недели по
// вертикали, размер пузырька — число комментариев.
func ScheduleChart(w io.Writer, title, subtitle string, cells []repository.ScheduleCell) error {
	peak := 0
	for _, c := range cells {
		if c.Count > peak {
			peak = c.Count
		}
	}

	hours := make([]string, 24)
	for h := range hours {
		hours[h] = fmt.Sprintf("%02d", h)
	}

	data := make([]opts.ScatterData, 0, len(cells))
	for _, c := range cells {
		if c.Count == 0 || c.Weekday < 1 || c.Weekday > 7 {
			continue
		}
		data = append(data, opts.ScatterData{
			Name:       fmt.Sprintf("%s %02d:00", weekdays[c.Weekday-1], c.Hour),
			Value:      []any{c.Hour, c.Weekday - 1, c.Count},
			SymbolSize: BubbleSize(c.Count, peak),
		})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "час", Type: "category"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "день", Type: "category", Data: weekdays}),
	)
	scatter.SetXAxis(hours).AddSeries("комментарии", data)

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("ошибка отрисовки графика: %w", err)
	}
	return nil
}
