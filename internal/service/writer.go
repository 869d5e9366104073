// writer.go — пакетная запись собранных записей.
//
// Пачка пишется одной транзакцией; каждая запись вставляется в своей
// точке сохранения, поэтому ошибка одной записи откатывает только её.
// Ошибка начала или фиксации транзакции отбрасывает всю пачку.
//
// Prometheus-метрики:
//   - harvester_writer_records_total — записи по исходу (inserted, failed, abandoned)
//   - harvester_writer_batch_duration_seconds — длительность записи пачки
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/harvester/internal/domain/model"
	"github.com/bigkaa/harvester/internal/repository"
)

var (
	writerRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_writer_records_total",
		Help: "Количество записей, обработанных при пакетной записи",
	}, []string{"table", "outcome"}) // outcome: inserted, failed, abandoned

	writerBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_writer_batch_duration_seconds",
		Help:    "Длительность записи пачки",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms … ~20s
	}, []string{"table"})
)

// Writer — запись пачки в таблицу назначения.
type Writer interface {
	Write(ctx context.Context, table string, records []model.Record) (model.BatchResult, error)
}

// TxRunner — выполнение функции в транзакции (repository.TxRunner).
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx repository.Tx) error) error
}

// BatchWriter — Writer поверх PostgreSQL.
type BatchWriter struct {
	tx     TxRunner
	logger *slog.Logger
}

// NewBatchWriter создаёт пакетную запись.
func NewBatchWriter(tx TxRunner, logger *slog.Logger) *BatchWriter {
	return &BatchWriter{
		tx:     tx,
		logger: logger.With(slog.String("component", "batch_writer")),
	}
}

// Write вставляет записи по одной. Возвращает inserted и failed;
// skipped заполняет вызывающий код (фильтр дубликатов).
func (w *BatchWriter) Write(ctx context.Context, table string, records []model.Record) (model.BatchResult, error) {
	start := time.Now()

	var res model.BatchResult
	err := w.tx.RunInTx(ctx, func(tx repository.Tx) error {
		res = model.BatchResult{}
		for _, rec := range records {
			err := tx.Savepoint(ctx, func(db repository.DBTX) error {
				return repository.NewRecordRepository(db).Insert(ctx, table, rec)
			})
			switch {
			case errors.Is(err, repository.ErrTxAborted):
				return err
			case err != nil:
				res.Failed++
				w.logger.Warn("Запись не вставлена",
					slog.String("table", table),
					slog.String("id", rec.RecordID()),
					slog.Time("created_utc", rec.CreatedAt()),
					slog.String("error", err.Error()),
				)
			default:
				res.Inserted++
			}
		}
		return nil
	})
	writerBatchDuration.WithLabelValues(table).Observe(time.Since(start).Seconds())

	if err != nil {
		writerRecordsTotal.WithLabelValues(table, "abandoned").Add(float64(len(records)))
		return model.BatchResult{}, fmt.Errorf("пачка из %d записей в %s не записана: %w", len(records), table, err)
	}

	writerRecordsTotal.WithLabelValues(table, "inserted").Add(float64(res.Inserted))
	writerRecordsTotal.WithLabelValues(table, "failed").Add(float64(res.Failed))

	w.logger.Debug("Пачка записана",
		slog.String("table", table),
		slog.Int("inserted", res.Inserted),
		slog.Int("failed", res.Failed),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}
