package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bigkaa/harvester/internal/domain/model"
)

// Bucket — шаг группировки временного ряда.
type Bucket string

const (
	BucketHour Bucket = "hour"
	BucketDay  Bucket = "day"
	BucketWeek Bucket = "week"
)

// ParseBucket проверяет шаг группировки.
func ParseBucket(s string) (Bucket, error) {
	switch b := Bucket(strings.ToLower(s)); b {
	case BucketHour, BucketDay, BucketWeek:
		return b, nil
	}
	return "", fmt.Errorf("недопустимый шаг группировки %q, допустимые: hour, day, week", s)
}

// Point — значение ряда series в интервале, начинающемся в Bucket.
type Point struct {
	Bucket time.Time
	Series string
	Count  int
}

// ScheduleCell — число комментариев в день недели (1 — понедельник) и час (UTC).
type ScheduleCell struct {
	Weekday int
	Hour    int
	Count   int
}

// SubredditShare — доля комментариев пользователя в сабреддите.
type SubredditShare struct {
	Subreddit string
	Count     int
	Percent   float64
}

// ReportRepository — агрегирующие запросы для отчётов.
type ReportRepository interface {
	// TermCounts считает комментарии таблицы, содержащие каждый из terms, по интервалам.
	TermCounts(ctx context.Context, table string, terms []string, from, to time.Time, bucket Bucket) ([]Point, error)
	// TableCounts считает комментарии, содержащие любой из terms (пустой список — все), по интервалам.
	TableCounts(ctx context.Context, table string, terms []string, from, to time.Time, bucket Bucket) ([]Point, error)
	// UserSchedule считает комментарии пользователя по дню недели и часу во всех таблицах.
	UserSchedule(ctx context.Context, user string, tables []string) ([]ScheduleCell, error)
	// UserSubreddits возвращает распределение комментариев пользователя по сабреддитам.
	UserSubreddits(ctx context.Context, user string) ([]SubredditShare, error)
}

// reportRepo — реализация ReportRepository.
type reportRepo struct {
	db DBTX
}

// NewReportRepository создаёт репозиторий отчётов.
func NewReportRepository(db DBTX) ReportRepository {
	return &reportRepo{db: db}
}

// likePattern экранирует спецсимволы LIKE и оборачивает term в %…%.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

func likePatterns(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		out = append(out, likePattern(t))
	}
	return out
}

func (r *reportRepo) TermCounts(ctx context.Context, table string, terms []string, from, to time.Time, bucket Bucket) ([]Point, error) {
	if len(terms) == 0 {
		return nil, fmt.Errorf("не задано ни одного термина")
	}
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}

	// Календарь интервалов LEFT JOIN совпадения: пустые интервалы дают 0.
	query := fmt.Sprintf(`
		WITH calendar AS (
			SELECT generate_series(date_trunc($1, $2::timestamptz), date_trunc($1, $3::timestamptz),
				('1 ' || $1)::interval) AS bucket
		),
		terms AS (
			SELECT t.term, t.pattern
			FROM unnest($4::text[], $5::text[]) AS t(term, pattern)
		),
		hits AS (
			SELECT date_trunc($1, c.created_utc) AS bucket, t.term, count(*) AS n
			FROM %s c
			JOIN terms t ON c.body ILIKE t.pattern
			WHERE c.created_utc >= $2 AND c.created_utc < $3
			GROUP BY 1, 2
		)
		SELECT cal.bucket, t.term, coalesce(h.n, 0)
		FROM calendar cal
		CROSS JOIN terms t
		LEFT JOIN hits h ON h.bucket = cal.bucket AND h.term = t.term
		ORDER BY cal.bucket, t.term`, quoted)

	return r.queryPoints(ctx, query, string(bucket), from, to, terms, likePatterns(terms))
}

func (r *reportRepo) TableCounts(ctx context.Context, table string, terms []string, from, to time.Time, bucket Bucket) ([]Point, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		WITH calendar AS (
			SELECT generate_series(date_trunc($1, $2::timestamptz), date_trunc($1, $3::timestamptz),
				('1 ' || $1)::interval) AS bucket
		),
		hits AS (
			SELECT date_trunc($1, c.created_utc) AS bucket, count(*) AS n
			FROM %s c
			WHERE c.created_utc >= $2 AND c.created_utc < $3
				AND (cardinality($4::text[]) = 0 OR c.body ILIKE ANY($4::text[]))
			GROUP BY 1
		)
		SELECT cal.bucket, $5::text, coalesce(h.n, 0)
		FROM calendar cal
		LEFT JOIN hits h ON h.bucket = cal.bucket
		ORDER BY cal.bucket`, quoted)

	return r.queryPoints(ctx, query, string(bucket), from, to, likePatterns(terms), table)
}

// queryPoints выполняет запрос, возвращающий (bucket, series, count).
func (r *reportRepo) queryPoints(ctx context.Context, query string, args ...any) ([]Point, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса отчёта: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		var n int64
		if err := rows.Scan(&p.Bucket, &p.Series, &n); err != nil {
			return nil, fmt.Errorf("ошибка чтения строки отчёта: %w", err)
		}
		p.Count = int(n)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка запроса отчёта: %w", err)
	}
	return points, nil
}

func (r *reportRepo) UserSchedule(ctx context.Context, user string, tables []string) ([]ScheduleCell, error) {
	counts := make(map[[2]int]int)
	if len(tables) == 0 {
		return nil, nil
	}

	// Комментарий из истории пользователя и из таблицы сабреддита
	// считается один раз
	parts := make([]string, 0, len(tables))
	for _, table := range tables {
		quoted, err := quoteTable(table)
		if err != nil {
			return nil, err
		}
		parts = append(parts, fmt.Sprintf(
			"SELECT id, created_utc FROM %s WHERE lower(author) = lower($1)", quoted))
	}
	query := fmt.Sprintf(`
		SELECT extract(isodow FROM created_utc AT TIME ZONE 'UTC')::int,
			extract(hour FROM created_utc AT TIME ZONE 'UTC')::int,
			count(*)
		FROM (
			SELECT DISTINCT ON (id) id, created_utc
			FROM (%s) AS all_comments
			ORDER BY id, created_utc
		) AS c
		GROUP BY 1, 2`, strings.Join(parts, "\n\t\t\tUNION ALL\n\t\t\t"))

	rows, err := r.db.Query(ctx, query, user)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса расписания пользователя: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var day, hour int
		var n int64
		if err := rows.Scan(&day, &hour, &n); err != nil {
			return nil, fmt.Errorf("ошибка чтения расписания: %w", err)
		}
		counts[[2]int{day, hour}] += int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка запроса расписания пользователя: %w", err)
	}

	cells := make([]ScheduleCell, 0, len(counts))
	for day := 1; day <= 7; day++ {
		for hour := 0; hour < 24; hour++ {
			if n := counts[[2]int{day, hour}]; n > 0 {
				cells = append(cells, ScheduleCell{Weekday: day, Hour: hour, Count: n})
			}
		}
	}
	return cells, nil
}

func (r *reportRepo) UserSubreddits(ctx context.Context, user string) ([]SubredditShare, error) {
	query := `
		SELECT coalesce(subreddit, ''), count(*)
		FROM user_comments
		WHERE lower(author) = lower($1)
		GROUP BY 1
		ORDER BY 2 DESC, 1`

	rows, err := r.db.Query(ctx, query, user)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории пользователя: %w", err)
	}
	defer rows.Close()

	var shares []SubredditShare
	total := 0
	for rows.Next() {
		var s SubredditShare
		var n int64
		if err := rows.Scan(&s.Subreddit, &n); err != nil {
			return nil, fmt.Errorf("ошибка чтения истории пользователя: %w", err)
		}
		s.Count = int(n)
		total += s.Count
		shares = append(shares, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка запроса истории пользователя: %w", err)
	}

	for i := range shares {
		shares[i].Percent = float64(shares[i].Count) / float64(total) * 100
	}
	return shares, nil
}

// UserTables возвращает user_comments и все таблицы реестра сабреддитов.
func UserTables(registered []SubredditTable) []string {
	tables := []string{model.DefaultTable(model.JobRedditorHistory, "")}
	seen := map[string]bool{tables[0]: true}
	for _, st := range registered {
		if !seen[st.Table] {
			seen[st.Table] = true
			tables = append(tables, st.Table)
		}
	}
	return tables
}
