package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/harvester/internal/domain/model"
)

// RecordRepository — запись собранных данных в таблицы назначения.
type RecordRepository interface {
	// EnsureTable создаёт таблицу схемы schema, если её нет.
	EnsureTable(ctx context.Context, schema model.Schema, table string) error
	// RecentIDs возвращает до limit последних id таблицы (по created_utc, от новых к старым).
	RecentIDs(ctx context.Context, table string, limit int) ([]string, error)
	// Insert вставляет одну запись.
	Insert(ctx context.Context, table string, r model.Record) error
	// NewestByAuthor возвращает created_utc самой новой записи автора или nil.
	NewestByAuthor(ctx context.Context, table, author string) (*time.Time, error)
}

// recordRepo — реализация RecordRepository.
type recordRepo struct {
	db DBTX
}

// NewRecordRepository создаёт репозиторий записей.
func NewRecordRepository(db DBTX) RecordRepository {
	return &recordRepo{db: db}
}

// tableDDL — DDL таблиц по схемам. %[1]s — экранированное имя таблицы.
var tableDDL = map[model.Schema]string{
	model.SchemaComments: `
		CREATE TABLE IF NOT EXISTS %[1]s (
			id                 VARCHAR(16)  PRIMARY KEY CHECK (id <> ''),
			parent_id          VARCHAR(32),
			link_id            VARCHAR(32),
			author             VARCHAR(64),
			created            TIMESTAMP    NOT NULL,
			created_utc        TIMESTAMPTZ  NOT NULL,
			author_flair_text  TEXT,
			author_flair_css   TEXT,
			edited             BOOLEAN      NOT NULL DEFAULT false,
			body               TEXT
		)`,
	model.SchemaUserComments: `
		CREATE TABLE IF NOT EXISTS %[1]s (
			id                 VARCHAR(16)  PRIMARY KEY CHECK (id <> ''),
			author             VARCHAR(64)  NOT NULL,
			subreddit          VARCHAR(64),
			created            TIMESTAMP    NOT NULL,
			created_utc        TIMESTAMPTZ  NOT NULL,
			author_flair_text  TEXT,
			author_flair_css   TEXT,
			link_permalink     TEXT,
			body               TEXT
		)`,
	model.SchemaSubmissions: `
		CREATE TABLE IF NOT EXISTS %[1]s (
			id                 VARCHAR(16)  PRIMARY KEY CHECK (id <> ''),
			subreddit          VARCHAR(64)  NOT NULL,
			author             VARCHAR(64),
			author_flair_text  TEXT,
			author_flair_css   TEXT,
			created            TIMESTAMP    NOT NULL,
			created_utc        TIMESTAMPTZ  NOT NULL,
			domain             TEXT,
			downs              INTEGER,
			ups                INTEGER,
			score              INTEGER,
			num_comments       INTEGER,
			name               VARCHAR(32),
			permalink          TEXT,
			url                TEXT,
			selftext           TEXT,
			title              TEXT
		)`,
	model.SchemaTweets: `
		CREATE TABLE IF NOT EXISTS %[1]s (
			id              VARCHAR(32)  PRIMARY KEY CHECK (id <> ''),
			author          VARCHAR(64)  NOT NULL,
			created_utc     TIMESTAMPTZ  NOT NULL,
			lang            VARCHAR(16),
			favorite_count  INTEGER,
			retweet_count   INTEGER,
			retweet_author  VARCHAR(64),
			hashtags        TEXT,
			urls            TEXT,
			text            TEXT
		)`,
}

func (r *recordRepo) EnsureTable(ctx context.Context, schema model.Schema, table string) error {
	ddl, ok := tableDDL[schema]
	if !ok {
		return fmt.Errorf("неизвестная схема таблицы %q", schema)
	}
	quoted, err := quoteTable(table)
	if err != nil {
		return err
	}

	if _, err := r.db.Exec(ctx, fmt.Sprintf(ddl, quoted)); err != nil {
		return fmt.Errorf("ошибка создания таблицы %s: %w", table, err)
	}

	// Индекс для запроса последних id и отчётов
	index := pgx.Identifier{table + "_created_utc_idx"}.Sanitize()
	query := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (created_utc DESC)`, index, quoted)
	if _, err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("ошибка создания индекса таблицы %s: %w", table, err)
	}
	return nil
}

func (r *recordRepo) RecentIDs(ctx context.Context, table string, limit int) ([]string, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id FROM %s ORDER BY created_utc DESC LIMIT $1`, quoted)
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения последних id из %s: %w", table, err)
	}
	defer rows.Close()

	ids := make([]string, 0, min(limit, 4096))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка чтения id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка получения последних id из %s: %w", table, err)
	}
	return ids, nil
}

func (r *recordRepo) Insert(ctx context.Context, table string, rec model.Record) error {
	quoted, err := quoteTable(table)
	if err != nil {
		return err
	}

	cols := rec.Columns()
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoted, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := r.db.Exec(ctx, query, rec.Values()...); err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("%w: id %s", ErrConflict, rec.RecordID())
		case isConstraintViolation(err):
			return fmt.Errorf("%w: id %q: %v", ErrConstraint, rec.RecordID(), err)
		}
		return fmt.Errorf("ошибка вставки записи %q в %s: %w", rec.RecordID(), table, err)
	}
	return nil
}

func (r *recordRepo) NewestByAuthor(ctx context.Context, table, author string) (*time.Time, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT max(created_utc) FROM %s WHERE lower(author) = lower($1)`, quoted)
	var newest *time.Time
	if err := r.db.QueryRow(ctx, query, author).Scan(&newest); err != nil {
		return nil, fmt.Errorf("ошибка получения последней записи %s из %s: %w", author, table, err)
	}
	return newest, nil
}
