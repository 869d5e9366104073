package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// JobKind — вид задачи сбора. Вместе с именем цели и таблицей образует
// ключ точки возобновления.
type JobKind string

const (
	JobSubredditComments    JobKind = "subreddit_comments"
	JobSubredditSubmissions JobKind = "subreddit_submissions"
	JobSubredditStream      JobKind = "subreddit_stream"
	JobRedditorHistory      JobKind = "redditor_history"
	JobTwitterTimeline      JobKind = "twitter_timeline"
)

// JobKinds — все виды задач сбора.
var JobKinds = []JobKind{
	JobSubredditComments,
	JobSubredditSubmissions,
	JobSubredditStream,
	JobRedditorHistory,
	JobTwitterTimeline,
}

// ParseJobKind проверяет вид задачи. Дефисы допускаются вместо подчёркиваний.
func ParseJobKind(s string) (JobKind, error) {
	k := JobKind(strings.ReplaceAll(strings.ToLower(s), "-", "_"))
	for _, known := range JobKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: неизвестный вид задачи %q", ErrInvalidTarget, s)
}

// Schema возвращает форму таблицы, в которую пишет задача.
func (k JobKind) Schema() Schema {
	switch k {
	case JobSubredditSubmissions:
		return SchemaSubmissions
	case JobRedditorHistory:
		return SchemaUserComments
	case JobTwitterTimeline:
		return SchemaTweets
	default:
		return SchemaComments
	}
}

// Ошибки валидации цели.
var (
	// ErrInvalidTarget — имя цели содержит недопустимые символы.
	ErrInvalidTarget = errors.New("недопустимое имя цели сбора")
	// ErrInvalidTable — имя таблицы не прошло проверку.
	ErrInvalidTable = errors.New("недопустимое имя таблицы")
)

var (
	targetNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	tableNameRe  = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
)

// reservedTables — служебные таблицы, в которые задачи сбора писать не могут.
var reservedTables = map[string]bool{
	"collection_checkpoints": true,
	"reddit_subreddits":      true,
	"schema_migrations":      true,
}

// Target — цель сбора: что собираем и куда пишем.
type Target struct {
	// Kind — вид задачи
	Kind JobKind
	// Name — сабреддит или имя пользователя
	Name string
	// Table — проверенное имя таблицы назначения
	Table string
}

// NewTarget проверяет имя цели и таблицы. Пустой table заменяется
// таблицей по умолчанию для вида задачи.
func NewTarget(kind JobKind, name, table string) (Target, error) {
	if !targetNameRe.MatchString(name) {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, name)
	}

	if table == "" {
		table = DefaultTable(kind, name)
	}
	validated, err := ValidateTableName(table)
	if err != nil {
		return Target{}, err
	}

	return Target{Kind: kind, Name: name, Table: validated}, nil
}

// DefaultTable возвращает таблицу по умолчанию для вида задачи.
// Комментарии сабреддита пишутся в таблицу с именем сабреддита.
func DefaultTable(kind JobKind, name string) string {
	switch kind.Schema() {
	case SchemaSubmissions:
		return "reddit_submissions"
	case SchemaUserComments:
		return "user_comments"
	case SchemaTweets:
		return "tweets"
	default:
		return strings.ToLower(name)
	}
}

// ValidateTableName приводит имя к нижнему регистру и проверяет его по
// списку допустимых символов. Только прошедшие проверку имена попадают в SQL.
func ValidateTableName(name string) (string, error) {
	lower := strings.ToLower(name)
	if !tableNameRe.MatchString(lower) {
		return "", fmt.Errorf("%w: %q (допустимы a-z, 0-9, _; первый символ не цифра; до 63 символов)", ErrInvalidTable, name)
	}
	if reservedTables[lower] {
		return "", fmt.Errorf("%w: %q — служебная таблица", ErrInvalidTable, name)
	}
	return lower, nil
}
