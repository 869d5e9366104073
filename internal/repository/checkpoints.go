package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/harvester/internal/domain/model"
)

// CheckpointRepository — интерфейс для таблицы collection_checkpoints.
type CheckpointRepository interface {
	// Get возвращает точку возобновления цели или ErrNotFound.
	Get(ctx context.Context, kind model.JobKind, target, table string) (*model.Checkpoint, error)
	// Save создаёт или обновляет точку возобновления.
	Save(ctx context.Context, cp *model.Checkpoint) error
	// List возвращает все точки, последние обновлённые — первыми.
	List(ctx context.Context) ([]*model.Checkpoint, error)
	// Delete удаляет точку возобновления (следующий запуск начнёт заново).
	Delete(ctx context.Context, kind model.JobKind, target, table string) error
}

// checkpointRepo — реализация CheckpointRepository.
type checkpointRepo struct {
	db DBTX
}

// NewCheckpointRepository создаёт репозиторий точек возобновления.
func NewCheckpointRepository(db DBTX) CheckpointRepository {
	return &checkpointRepo{db: db}
}

const checkpointColumns = `kind, target, table_name, mode, range_start, range_end,
	cursor_at, genesis_at, status, inserted, skipped, failed, last_error, run_id,
	created_at, updated_at`

// scanCheckpoint читает строку collection_checkpoints.
func scanCheckpoint(row pgx.Row) (*model.Checkpoint, error) {
	cp := &model.Checkpoint{}
	var kind, mode, status string
	err := row.Scan(
		&kind, &cp.Target, &cp.Table, &mode, &cp.RangeStart, &cp.RangeEnd,
		&cp.Cursor, &cp.Genesis, &status, &cp.Inserted, &cp.Skipped, &cp.Failed,
		&cp.LastError, &cp.RunID, &cp.CreatedAt, &cp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	cp.Kind = model.JobKind(kind)
	cp.Mode = model.CheckpointMode(mode)
	cp.Status = model.CheckpointStatus(status)
	return cp, nil
}

func (r *checkpointRepo) Get(ctx context.Context, kind model.JobKind, target, table string) (*model.Checkpoint, error) {
	query := `SELECT ` + checkpointColumns + `
		FROM collection_checkpoints
		WHERE kind = $1 AND target = $2 AND table_name = $3`

	cp, err := scanCheckpoint(r.db.QueryRow(ctx, query, string(kind), target, table))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения точки возобновления: %w", err)
	}
	return cp, nil
}

func (r *checkpointRepo) Save(ctx context.Context, cp *model.Checkpoint) error {
	query := `
		INSERT INTO collection_checkpoints (kind, target, table_name, mode, range_start,
			range_end, cursor_at, genesis_at, status, inserted, skipped, failed,
			last_error, run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (kind, target, table_name) DO UPDATE SET
			mode = EXCLUDED.mode,
			range_start = EXCLUDED.range_start,
			range_end = EXCLUDED.range_end,
			cursor_at = EXCLUDED.cursor_at,
			genesis_at = EXCLUDED.genesis_at,
			status = EXCLUDED.status,
			inserted = EXCLUDED.inserted,
			skipped = EXCLUDED.skipped,
			failed = EXCLUDED.failed,
			last_error = EXCLUDED.last_error,
			run_id = EXCLUDED.run_id,
			updated_at = now()
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		string(cp.Kind), cp.Target, cp.Table, string(cp.Mode), cp.RangeStart,
		cp.RangeEnd, cp.Cursor, cp.Genesis, string(cp.Status), cp.Inserted, cp.Skipped, cp.Failed,
		cp.LastError, cp.RunID,
	).Scan(&cp.CreatedAt, &cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения точки возобновления %s/%s: %w", cp.Kind, cp.Target, err)
	}
	return nil
}

func (r *checkpointRepo) List(ctx context.Context) ([]*model.Checkpoint, error) {
	query := `SELECT ` + checkpointColumns + `
		FROM collection_checkpoints
		ORDER BY updated_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка точек возобновления: %w", err)
	}
	defer rows.Close()

	var result []*model.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения точки возобновления: %w", err)
		}
		result = append(result, cp)
	}
	return result, rows.Err()
}

func (r *checkpointRepo) Delete(ctx context.Context, kind model.JobKind, target, table string) error {
	query := `DELETE FROM collection_checkpoints WHERE kind = $1 AND target = $2 AND table_name = $3`

	tag, err := r.db.Exec(ctx, query, string(kind), target, table)
	if err != nil {
		return fmt.Errorf("ошибка удаления точки возобновления: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
