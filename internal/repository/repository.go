// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM. Имена таблиц попадают в SQL
// только после model.ValidateTableName и экранирования pgx.Identifier.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/harvester/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — запись с таким id уже есть.
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrConstraint — запись нарушает ограничение таблицы.
	ErrConstraint = errors.New("запись нарушает ограничение таблицы")
	// ErrTxAborted — транзакция больше не пригодна: пачку нужно отбросить.
	ErrTxAborted = errors.New("транзакция прервана")
)

// DBTX — выполнение SQL-запросов: *pgxpool.Pool, pgx.Tx или точка сохранения.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx — транзакция пачки.
type Tx interface {
	DBTX
	// Savepoint выполняет fn в точке сохранения. Ошибка fn откатывает
	// только её изменения и возвращается как есть; ошибки самой точки
	// сохранения оборачивают ErrTxAborted.
	Savepoint(ctx context.Context, fn func(db DBTX) error) error
}

type pgTx struct {
	pgx.Tx
}

func (t pgTx) Savepoint(ctx context.Context, fn func(db DBTX) error) error {
	// вложенная транзакция pgx — SAVEPOINT
	sp, err := t.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: ошибка создания точки сохранения: %v", ErrTxAborted, err)
	}
	if err := fn(sp); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w: ошибка отката точки сохранения: %v", ErrTxAborted, rbErr)
		}
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("%w: ошибка фиксации точки сохранения: %v", ErrTxAborted, err)
	}
	return nil
}

// TxRunner выполняет пачки в транзакциях пула.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn в транзакции: ошибка fn откатывает всё, иначе фиксация.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(pgTx{tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// quoteTable проверяет и экранирует имя таблицы.
func quoteTable(table string) (string, error) {
	validated, err := model.ValidateTableName(table)
	if err != nil {
		return "", err
	}
	return pgx.Identifier{validated}.Sanitize(), nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == pgerrcode.UniqueViolation
}

// isConstraintViolation — запись не проходит CHECK, NOT NULL, длину или кодировку.
func isConstraintViolation(err error) bool {
	switch pgCode(err) {
	case pgerrcode.CheckViolation,
		pgerrcode.NotNullViolation,
		pgerrcode.StringDataRightTruncationDataException,
		pgerrcode.CharacterNotInRepertoire,
		pgerrcode.UntranslatableCharacter:
		return true
	}
	return false
}
