package repository

import (
	"context"
	"fmt"
)

// SubredditRegistry — реестр таблиц комментариев сабреддитов (reddit_subreddits).
// Отчёт schedule обходит все зарегистрированные таблицы.
type SubredditRegistry interface {
	// Register запоминает таблицу сабреддита.
	Register(ctx context.Context, name, table string) error
	// Tables возвращает имена зарегистрированных таблиц.
	Tables(ctx context.Context) ([]SubredditTable, error)
}

// SubredditTable — строка реестра.
type SubredditTable struct {
	Name  string
	Table string
}

// subredditRegistry — реализация SubredditRegistry.
type subredditRegistry struct {
	db DBTX
}

// NewSubredditRegistry создаёт реестр таблиц сабреддитов.
func NewSubredditRegistry(db DBTX) SubredditRegistry {
	return &subredditRegistry{db: db}
}

func (r *subredditRegistry) Register(ctx context.Context, name, table string) error {
	query := `
		INSERT INTO reddit_subreddits (name, table_name)
		VALUES (lower($1), $2)
		ON CONFLICT (name) DO UPDATE SET table_name = EXCLUDED.table_name`

	if _, err := r.db.Exec(ctx, query, name, table); err != nil {
		return fmt.Errorf("ошибка регистрации таблицы сабреддита %s: %w", name, err)
	}
	return nil
}

func (r *subredditRegistry) Tables(ctx context.Context) ([]SubredditTable, error) {
	rows, err := r.db.Query(ctx, `SELECT name, table_name FROM reddit_subreddits ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения реестра сабреддитов: %w", err)
	}
	defer rows.Close()

	var result []SubredditTable
	for rows.Next() {
		var st SubredditTable
		if err := rows.Scan(&st.Name, &st.Table); err != nil {
			return nil, fmt.Errorf("ошибка чтения реестра сабреддитов: %w", err)
		}
		result = append(result, st)
	}
	return result, rows.Err()
}
