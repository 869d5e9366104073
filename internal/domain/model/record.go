// Пакет model — доменные типы harvester: собираемые записи, цели сбора,
// точки возобновления и результаты записи.
package model

import (
	"strings"
	"time"
)

// Schema — форма таблицы назначения для записей одного вида.
type Schema string

const (
	// SchemaComments — комментарии сабреддита (таблица на сабреддит).
	SchemaComments Schema = "comments"
	// SchemaUserComments — история комментариев пользователя.
	SchemaUserComments Schema = "user_comments"
	// SchemaSubmissions — посты сабреддита.
	SchemaSubmissions Schema = "submissions"
	// SchemaTweets — твиты пользователя.
	SchemaTweets Schema = "tweets"
)

// Record — одна собранная запись (комментарий, пост, твит).
// RecordID стабилен между повторными запросами и служит ключом дедупликации.
type Record interface {
	// RecordID возвращает глобально уникальный идентификатор записи.
	RecordID() string
	// CreatedAt возвращает время создания в UTC.
	CreatedAt() time.Time
	// Schema возвращает форму таблицы назначения.
	Schema() Schema
	// Columns возвращает имена колонок в порядке Values.
	Columns() []string
	// Values возвращает значения колонок; текстовые поля очищены от NUL.
	Values() []any
}

// StripNUL удаляет NUL-байты: PostgreSQL не принимает их в text.
func StripNUL(s string) string {
	if strings.IndexByte(s, 0) < 0 {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// stripNULPtr — StripNUL для опциональных полей.
func stripNULPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := StripNUL(*s)
	return &v
}

// Comment — комментарий в сабреддите.
// Хранится в таблице сабреддита (по умолчанию — имя сабреддита).
type Comment struct {
	// ID — идентификатор комментария (base36)
	ID string
	// ParentID — fullname родителя (t1_… или t3_…)
	ParentID string
	// LinkID — fullname поста (t3_…)
	LinkID string
	// Author — автор ("[deleted]" для удалённых)
	Author string
	// Created — время создания по часам сервиса
	Created time.Time
	// CreatedUTC — время создания в UTC
	CreatedUTC time.Time
	AuthorFlairText *string
	AuthorFlairCSS  *string
	// Edited — комментарий редактировался
	Edited bool
	Body   string
}

func (c *Comment) RecordID() string     { return c.ID }
func (c *Comment) CreatedAt() time.Time { return c.CreatedUTC.UTC() }
func (c *Comment) Schema() Schema       { return SchemaComments }

func (c *Comment) Columns() []string {
	return []string{
		"id", "parent_id", "link_id", "author", "created", "created_utc",
		"author_flair_text", "author_flair_css", "edited", "body",
	}
}

func (c *Comment) Values() []any {
	return []any{
		c.ID, c.ParentID, c.LinkID, StripNUL(c.Author), c.Created, c.CreatedUTC,
		stripNULPtr(c.AuthorFlairText), stripNULPtr(c.AuthorFlairCSS), c.Edited, StripNUL(c.Body),
	}
}

// UserComment — комментарий из истории пользователя.
// Хранится в таблице user_comments.
type UserComment struct {
	ID              string
	Author          string
	Subreddit       string
	Created         time.Time
	CreatedUTC      time.Time
	AuthorFlairText *string
	AuthorFlairCSS  *string
	LinkPermalink   string
	Body            string
}

func (c *UserComment) RecordID() string     { return c.ID }
func (c *UserComment) CreatedAt() time.Time { return c.CreatedUTC.UTC() }
func (c *UserComment) Schema() Schema       { return SchemaUserComments }

func (c *UserComment) Columns() []string {
	return []string{
		"id", "author", "subreddit", "created", "created_utc",
		"author_flair_text", "author_flair_css", "link_permalink", "body",
	}
}

func (c *UserComment) Values() []any {
	return []any{
		c.ID, StripNUL(c.Author), c.Subreddit, c.Created, c.CreatedUTC,
		stripNULPtr(c.AuthorFlairText), stripNULPtr(c.AuthorFlairCSS), c.LinkPermalink, StripNUL(c.Body),
	}
}

// Submission — пост сабреддита.
// Хранится в таблице reddit_submissions.
type Submission struct {
	ID              string
	Subreddit       string
	Author          string
	AuthorFlairText *string
	AuthorFlairCSS  *string
	Created         time.Time
	CreatedUTC      time.Time
	Domain          string
	Downs           int
	Ups             int
	Score           int
	NumComments     int
	// Name — fullname поста (t3_…)
	Name      string
	Permalink string
	URL       string
	Selftext  string
	Title     string
}

func (s *Submission) RecordID() string     { return s.ID }
func (s *Submission) CreatedAt() time.Time { return s.CreatedUTC.UTC() }
func (s *Submission) Schema() Schema       { return SchemaSubmissions }

func (s *Submission) Columns() []string {
	return []string{
		"id", "subreddit", "author", "author_flair_text", "author_flair_css",
		"created", "created_utc", "domain", "downs", "ups", "score", "num_comments",
		"name", "permalink", "url", "selftext", "title",
	}
}

func (s *Submission) Values() []any {
	return []any{
		s.ID, s.Subreddit, StripNUL(s.Author), stripNULPtr(s.AuthorFlairText), stripNULPtr(s.AuthorFlairCSS),
		s.Created, s.CreatedUTC, s.Domain, s.Downs, s.Ups, s.Score, s.NumComments,
		s.Name, s.Permalink, StripNUL(s.URL), StripNUL(s.Selftext), StripNUL(s.Title),
	}
}

// Tweet — твит из ленты пользователя.
// Хранится в таблице tweets.
type Tweet struct {
	ID            string
	Author        string
	CreatedUTC    time.Time
	Lang          string
	FavoriteCount int
	RetweetCount  int
	// RetweetAuthor — автор исходного твита для ретвитов
	RetweetAuthor *string
	Hashtags      []string
	URLs          []string
	Text          string
}

func (t *Tweet) RecordID() string     { return t.ID }
func (t *Tweet) CreatedAt() time.Time { return t.CreatedUTC.UTC() }
func (t *Tweet) Schema() Schema       { return SchemaTweets }

func (t *Tweet) Columns() []string {
	return []string{
		"id", "author", "created_utc", "lang", "favorite_count", "retweet_count",
		"retweet_author", "hashtags", "urls", "text",
	}
}

func (t *Tweet) Values() []any {
	return []any{
		t.ID, t.Author, t.CreatedUTC, t.Lang, t.FavoriteCount, t.RetweetCount,
		stripNULPtr(t.RetweetAuthor), strings.Join(t.Hashtags, " "), strings.Join(t.URLs, " "), StripNUL(t.Text),
	}
}

// OldestCreated возвращает минимальное время создания среди записей.
// Для пустого среза — нулевое время.
func OldestCreated[R Record](records []R) time.Time {
	var oldest time.Time
	for i, r := range records {
		if c := r.CreatedAt(); i == 0 || c.Before(oldest) {
			oldest = c
		}
	}
	return oldest
}

// NewestCreated возвращает максимальное время создания среди записей.
func NewestCreated[R Record](records []R) time.Time {
	var newest time.Time
	for _, r := range records {
		if c := r.CreatedAt(); c.After(newest) {
			newest = c
		}
	}
	return newest
}
