package model

import "time"

// BatchResult — результат записи пачки: три счётчика, которые видит оператор.
type BatchResult struct {
	// Inserted — записей вставлено
	Inserted int
	// Skipped — отброшено как дубликаты до записи
	Skipped int
	// Failed — записей с ошибкой вставки
	Failed int
}

// Add суммирует счётчики.
func (r *BatchResult) Add(other BatchResult) {
	r.Inserted += other.Inserted
	r.Skipped += other.Skipped
	r.Failed += other.Failed
}

// Total возвращает число обработанных записей.
func (r BatchResult) Total() int {
	return r.Inserted + r.Skipped + r.Failed
}

// RunResult — итог запуска задачи сбора.
type RunResult struct {
	RunID  string
	Target Target
	BatchResult
	// Pages — получено страниц от источника
	Pages int
	// Flushes — записано пачек
	Flushes int
	// Genesis — найденная самая ранняя запись диапазона (ModeRange)
	Genesis *time.Time
	// Cursor — курсор после последней записанной пачки
	Cursor      *time.Time
	Status      CheckpointStatus
	StartedAt   time.Time
	CompletedAt time.Time
}
