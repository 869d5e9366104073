// collector.go — конвейер сбора: буфер → фильтр дубликатов → пакетная запись →
// точка возобновления.
//
// Курсор точки возобновления сдвигается только после успешной записи
// буфера, в который попали все записи новее курсора. При прерывании буфер
// записывается ровно один раз с отвязанным от отмены контекстом, затем
// сохраняется точка со статусом interrupted.
//
// Prometheus-метрики:
//   - harvester_collect_records_total — записи по исходу (inserted, skipped, failed)
//   - harvester_collect_runs_total — запуски по итоговому статусу
//   - harvester_collect_flush_duration_seconds — длительность сброса буфера
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/harvester/internal/domain/dedup"
	"github.com/bigkaa/harvester/internal/domain/model"
)

var (
	collectRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_collect_records_total",
		Help: "Количество собранных записей по исходу",
	}, []string{"kind", "outcome"}) // outcome: inserted, skipped, failed

	collectRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_collect_runs_total",
		Help: "Количество запусков сбора по итоговому статусу",
	}, []string{"kind", "status"})

	collectFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_collect_flush_duration_seconds",
		Help:    "Длительность сброса буфера (фильтр дубликатов и запись)",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms … ~80s
	}, []string{"kind"})
)

// IDSource — последние id таблицы назначения (repository.RecordRepository).
type IDSource interface {
	RecentIDs(ctx context.Context, table string, limit int) ([]string, error)
}

// CheckpointSaver — сохранение точки возобновления (repository.CheckpointRepository).
type CheckpointSaver interface {
	Save(ctx context.Context, cp *model.Checkpoint) error
}

// CollectorOptions — параметры конвейера.
type CollectorOptions struct {
	// BatchSize — размер буфера, при котором он сбрасывается
	BatchSize int
	// DedupWindow — сколько последних id таблицы загружать в фильтр
	DedupWindow int
	// FlushTimeout — таймаут сброса буфера при завершении
	FlushTimeout time.Duration
	// IDs — источник существующих id; nil отключает запрос (--unsafe)
	IDs IDSource
	// NoFilter — записи уже отфильтрованы вызывающим кодом (окно потока)
	NoFilter bool
}

// Collector — конвейер одного запуска сбора. Не безопасен для
// конкурентного использования: задачи сбора однопоточны.
type Collector struct {
	target      model.Target
	writer      Writer
	checkpoints CheckpointSaver
	cp          *model.Checkpoint
	opts        CollectorOptions
	logger      *slog.Logger

	buffer   []model.Record
	seen     *dedup.IDSet
	pending  *time.Time
	final    *time.Time
	progress func() float64
	result   model.RunResult
}

// NewCollector создаёт конвейер для цели target. cp — точка возобновления
// запуска (режим, диапазон, курсор при возобновлении); конвейер обновляет
// в ней статус, курсор и счётчики.
func NewCollector(
	target model.Target,
	cp *model.Checkpoint,
	writer Writer,
	checkpoints CheckpointSaver,
	opts CollectorOptions,
	logger *slog.Logger,
) *Collector {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 30 * time.Second
	}

	return &Collector{
		target:      target,
		writer:      writer,
		checkpoints: checkpoints,
		cp:          cp,
		opts:        opts,
		logger: logger.With(
			slog.String("component", "collector"),
			slog.String("kind", string(target.Kind)),
			slog.String("target", target.Name),
			slog.String("table", target.Table),
			slog.String("run_id", cp.RunID),
		),
		result: model.RunResult{
			RunID:     cp.RunID,
			Target:    target,
			Genesis:   cp.Genesis,
			Cursor:    cp.Cursor,
			StartedAt: time.Now().UTC(),
		},
	}
}

// Start сохраняет точку со статусом running.
func (c *Collector) Start(ctx context.Context) error {
	c.cp.Status = model.StatusRunning
	c.cp.LastError = nil
	if err := c.checkpoints.Save(ctx, c.cp); err != nil {
		return err
	}
	c.logger.Info("Сбор запущен",
		slog.String("mode", string(c.cp.Mode)),
		slog.Int("batch_size", c.opts.BatchSize),
		slog.Bool("unsafe", c.opts.IDs == nil && !c.opts.NoFilter),
	)
	return nil
}

// SetProgress задаёт функцию доли пройденного диапазона для логов.
func (c *Collector) SetProgress(fn func() float64) {
	c.progress = fn
}

// SetGenesis запоминает самую раннюю запись диапазона.
func (c *Collector) SetGenesis(t time.Time) {
	c.cp.Genesis = &t
	c.result.Genesis = &t
}

// PageFetched учитывает полученную страницу источника.
func (c *Collector) PageFetched() {
	c.result.Pages++
}

// Add добавляет записи в буфер; заполненный буфер сбрасывается.
// Записи попадают в буфер до сброса, поэтому при ошибке они не теряются.
func (c *Collector) Add(ctx context.Context, records ...model.Record) error {
	c.buffer = append(c.buffer, records...)
	if len(c.buffer) >= c.opts.BatchSize {
		return c.Flush(ctx)
	}
	return nil
}

// Skip учитывает записи, отброшенные до буфера (окно потока).
func (c *Collector) Skip(n int) {
	if n <= 0 {
		return
	}
	c.result.Skipped += n
	c.cp.Skipped += int64(n)
	collectRecordsTotal.WithLabelValues(string(c.target.Kind), "skipped").Add(float64(n))
}

// Advance сообщает, что все записи новее cursor уже переданы в Add.
// Курсор станет действительным после следующей успешной записи буфера.
func (c *Collector) Advance(cursor time.Time) {
	c.pending = &cursor
	if len(c.buffer) == 0 {
		c.commitCursor()
	}
}

// SetFinalCursor задаёт курсор, который сохраняется только при успешном
// завершении (режим history: самая новая собранная запись).
func (c *Collector) SetFinalCursor(cursor time.Time) {
	c.final = &cursor
}

func (c *Collector) commitCursor() {
	if c.pending == nil {
		return
	}
	c.cp.Cursor = c.pending
	c.result.Cursor = c.pending
	c.pending = nil
}

// Buffered возвращает число записей в буфере.
func (c *Collector) Buffered() int {
	return len(c.buffer)
}

// Flush фильтрует дубликаты, записывает буфер и сохраняет точку возобновления.
// При ошибке буфер сохраняется для повторной попытки.
func (c *Collector) Flush(ctx context.Context) error {
	if len(c.buffer) == 0 {
		c.commitCursor()
		return nil
	}
	start := time.Now()
	kind := string(c.target.Kind)

	if c.seen == nil && !c.opts.NoFilter {
		if c.opts.IDs == nil {
			c.seen = dedup.NewIDSet(nil)
		} else {
			ids, err := c.opts.IDs.RecentIDs(ctx, c.target.Table, c.opts.DedupWindow)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrDedupUnavailable, err)
			}
			c.seen = dedup.NewIDSet(ids)
			c.logger.Debug("Загружены существующие id",
				slog.Int("count", len(ids)),
				slog.Int("window", c.opts.DedupWindow),
			)
		}
	}

	fresh, skipped := c.buffer, 0
	if c.seen != nil {
		fresh, skipped = dedup.Filter(c.seen, c.buffer)
	}

	res := model.BatchResult{Skipped: skipped}
	if len(fresh) > 0 {
		written, err := c.writer.Write(ctx, c.target.Table, fresh)
		if err != nil {
			return err
		}
		res.Inserted = written.Inserted
		res.Failed = written.Failed
	}
	if c.seen != nil {
		for _, r := range fresh {
			c.seen.Add(r.RecordID())
		}
	}

	c.buffer = nil
	c.commitCursor()
	c.result.Add(res)
	c.result.Flushes++
	c.cp.Inserted += int64(res.Inserted)
	c.cp.Skipped += int64(res.Skipped)
	c.cp.Failed += int64(res.Failed)

	collectRecordsTotal.WithLabelValues(kind, "inserted").Add(float64(res.Inserted))
	collectRecordsTotal.WithLabelValues(kind, "skipped").Add(float64(res.Skipped))
	collectRecordsTotal.WithLabelValues(kind, "failed").Add(float64(res.Failed))
	collectFlushDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err := c.checkpoints.Save(ctx, c.cp); err != nil {
		return err
	}

	attrs := []any{
		slog.Int("inserted", res.Inserted),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
		slog.Int("total_inserted", c.result.Inserted),
		slog.Int("total_skipped", c.result.Skipped),
		slog.Int("total_failed", c.result.Failed),
	}
	if c.progress != nil {
		attrs = append(attrs, slog.String("progress", fmt.Sprintf("%.2f%%", c.progress())))
	}
	if c.cp.Cursor != nil {
		attrs = append(attrs, slog.Time("cursor", *c.cp.Cursor))
	}
	c.logger.Info("Пачка записана", attrs...)
	return nil
}

// Finish завершает запуск: записывает остаток буфера (один раз, с
// контекстом, не зависящим от отмены) и сохраняет итоговую точку.
// runErr — ошибка, на которой остановился сбор.
func (c *Collector) Finish(ctx context.Context, runErr error) (*model.RunResult, error) {
	status := model.StatusCompleted
	switch {
	case ctx.Err() != nil || errors.Is(runErr, context.Canceled):
		status = model.StatusInterrupted
	case runErr != nil:
		status = model.StatusFailed
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FlushTimeout)
	defer cancel()

	if n := len(c.buffer); n > 0 {
		c.logger.Info("Запись буфера перед завершением", slog.Int("buffered", n))
		if err := c.Flush(fctx); err != nil {
			c.logger.Error("Буфер не записан, записи потеряны",
				slog.Int("lost", n),
				slog.String("error", err.Error()),
			)
			runErr = errors.Join(runErr, err)
			if status == model.StatusCompleted {
				status = model.StatusFailed
			}
		}
	}

	if status == model.StatusCompleted && c.final != nil {
		c.cp.Cursor = c.final
		c.result.Cursor = c.final
	}

	c.cp.Status = status
	c.cp.LastError = nil
	if runErr != nil && status == model.StatusFailed {
		msg := runErr.Error()
		c.cp.LastError = &msg
	}
	if err := c.checkpoints.Save(fctx, c.cp); err != nil {
		c.logger.Error("Ошибка сохранения точки возобновления", slog.String("error", err.Error()))
		runErr = errors.Join(runErr, err)
	}

	c.result.Status = status
	c.result.CompletedAt = time.Now().UTC()
	collectRunsTotal.WithLabelValues(string(c.target.Kind), string(status)).Inc()

	logAttrs := []any{
		slog.String("status", string(status)),
		slog.Int("inserted", c.result.Inserted),
		slog.Int("skipped", c.result.Skipped),
		slog.Int("failed", c.result.Failed),
		slog.Int("pages", c.result.Pages),
		slog.Int("flushes", c.result.Flushes),
		slog.Duration("duration", c.result.CompletedAt.Sub(c.result.StartedAt)),
	}
	switch status {
	case model.StatusCompleted:
		c.logger.Info("Сбор завершён", logAttrs...)
	case model.StatusInterrupted:
		c.logger.Warn("Сбор прерван", logAttrs...)
		runErr = errors.Join(ErrInterrupted, runErr)
	default:
		c.logger.Error("Сбор завершён с ошибкой", append(logAttrs, slog.String("error", runErr.Error()))...)
	}

	return &c.result, runErr
}
