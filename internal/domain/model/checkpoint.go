package model

import "time"

// CheckpointMode — способ продвижения курсора.
type CheckpointMode string

const (
	// ModeRange — обход диапазона дат назад во времени.
	ModeRange CheckpointMode = "range"
	// ModeHistory — постраничный обход ленты от новых к старым до уже собранного.
	ModeHistory CheckpointMode = "history"
	// ModeStream — потоковый сбор, курсор — окно последних id в памяти.
	ModeStream CheckpointMode = "stream"
)

// CheckpointStatus — состояние последнего запуска.
type CheckpointStatus string

const (
	StatusRunning     CheckpointStatus = "running"
	StatusCompleted   CheckpointStatus = "completed"
	StatusInterrupted CheckpointStatus = "interrupted"
	StatusFailed      CheckpointStatus = "failed"
)

// Checkpoint — точка возобновления сбора для цели.
// Хранится в таблице collection_checkpoints (ключ kind, target, table_name).
type Checkpoint struct {
	Kind   JobKind
	Target string
	Table  string
	Mode   CheckpointMode

	// RangeStart, RangeEnd — запрошенный диапазон (ModeRange)
	RangeStart *time.Time
	RangeEnd   *time.Time
	// Cursor — всё, что новее курсора, уже записано в таблицу.
	// Для ModeHistory — время самой новой записанной записи.
	Cursor *time.Time
	// Genesis — самая ранняя доступная запись в диапазоне
	Genesis *time.Time

	Status CheckpointStatus
	// Накопленные счётчики по всем запускам
	Inserted  int64
	Skipped   int64
	Failed    int64
	LastError *string
	// RunID — идентификатор последнего запуска
	RunID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SameRange сообщает, что точка относится к тому же диапазону дат.
// Возобновлять можно только обход того же диапазона.
func (c *Checkpoint) SameRange(start, end time.Time) bool {
	if c.RangeStart == nil || c.RangeEnd == nil {
		return false
	}
	return c.RangeStart.Equal(start) && c.RangeEnd.Equal(end)
}

// Resumable сообщает, что обход был прерван и курсор можно продолжить.
func (c *Checkpoint) Resumable() bool {
	return c.Cursor != nil && c.Status != StatusCompleted
}
