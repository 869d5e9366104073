package reddit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/bigkaa/harvester/internal/domain/model"
)

// listing — ответ Reddit API вида Listing.
type listing struct {
	Kind string `json:"kind"`
	Data struct {
		After    *string `json:"after"`
		Children []thing `json:"children"`
	} `json:"data"`
}

// thing — элемент листинга: t1 — комментарий, t3 — пост, more — заглушка.
type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// commentData — поля комментария (t1).
type commentData struct {
	ID              string          `json:"id"`
	ParentID        string          `json:"parent_id"`
	LinkID          string          `json:"link_id"`
	Author          string          `json:"author"`
	Subreddit       string          `json:"subreddit"`
	Created         float64         `json:"created"`
	CreatedUTC      float64         `json:"created_utc"`
	AuthorFlairText *string         `json:"author_flair_text"`
	AuthorFlairCSS  *string         `json:"author_flair_css_class"`
	Edited          json.RawMessage `json:"edited"`
	Body            string          `json:"body"`
	LinkPermalink   string          `json:"link_permalink"`
	// Replies — пустая строка или вложенный Listing
	Replies json.RawMessage `json:"replies"`
}

// submissionData — поля поста (t3).
type submissionData struct {
	ID              string  `json:"id"`
	Subreddit       string  `json:"subreddit"`
	Author          string  `json:"author"`
	AuthorFlairText *string `json:"author_flair_text"`
	AuthorFlairCSS  *string `json:"author_flair_css_class"`
	Created         float64 `json:"created"`
	CreatedUTC      float64 `json:"created_utc"`
	Domain          string  `json:"domain"`
	Downs           int     `json:"downs"`
	Ups             int     `json:"ups"`
	Score           int     `json:"score"`
	NumComments     int     `json:"num_comments"`
	Name            string  `json:"name"`
	Permalink       string  `json:"permalink"`
	URL             string  `json:"url"`
	Selftext        string  `json:"selftext"`
	Title           string  `json:"title"`
}

// epoch переводит секунды Unix (с дробной частью) во время UTC.
func epoch(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// edited: false или время редактирования.
func edited(raw json.RawMessage) bool {
	v := string(bytes.TrimSpace(raw))
	return v != "" && v != "false" && v != "null"
}

func (d *commentData) comment() *model.Comment {
	return &model.Comment{
		ID:              d.ID,
		ParentID:        d.ParentID,
		LinkID:          d.LinkID,
		Author:          d.Author,
		Created:         epoch(d.Created),
		CreatedUTC:      epoch(d.CreatedUTC),
		AuthorFlairText: d.AuthorFlairText,
		AuthorFlairCSS:  d.AuthorFlairCSS,
		Edited:          edited(d.Edited),
		Body:            d.Body,
	}
}

// flattenComments обходит дерево комментариев в глубину.
func (l *listing) flattenComments(out *[]*model.Comment) error {
	for _, ch := range l.Data.Children {
		if ch.Kind != "t1" {
			continue
		}
		var d commentData
		if err := json.Unmarshal(ch.Data, &d); err != nil {
			return fmt.Errorf("декодирование комментария: %w", err)
		}
		*out = append(*out, d.comment())

		replies := bytes.TrimSpace(d.Replies)
		if len(replies) == 0 || replies[0] != '{' {
			continue
		}
		var sub listing
		if err := json.Unmarshal(replies, &sub); err != nil {
			return fmt.Errorf("декодирование ответов на %s: %w", d.ID, err)
		}
		if err := sub.flattenComments(out); err != nil {
			return err
		}
	}
	return nil
}

func (l *listing) submissions() ([]*model.Submission, error) {
	out := make([]*model.Submission, 0, len(l.Data.Children))
	for _, ch := range l.Data.Children {
		if ch.Kind != "t3" {
			continue
		}
		var d submissionData
		if err := json.Unmarshal(ch.Data, &d); err != nil {
			return nil, fmt.Errorf("декодирование поста: %w", err)
		}
		out = append(out, &model.Submission{
			ID:              d.ID,
			Subreddit:       d.Subreddit,
			Author:          d.Author,
			AuthorFlairText: d.AuthorFlairText,
			AuthorFlairCSS:  d.AuthorFlairCSS,
			Created:         epoch(d.Created),
			CreatedUTC:      epoch(d.CreatedUTC),
			Domain:          d.Domain,
			Downs:           d.Downs,
			Ups:             d.Ups,
			Score:           d.Score,
			NumComments:     d.NumComments,
			Name:            d.Name,
			Permalink:       d.Permalink,
			URL:             d.URL,
			Selftext:        d.Selftext,
			Title:           d.Title,
		})
	}
	return out, nil
}

func (l *listing) userComments() ([]*model.UserComment, error) {
	out := make([]*model.UserComment, 0, len(l.Data.Children))
	for _, ch := range l.Data.Children {
		if ch.Kind != "t1" {
			continue
		}
		var d commentData
		if err := json.Unmarshal(ch.Data, &d); err != nil {
			return nil, fmt.Errorf("декодирование комментария: %w", err)
		}
		out = append(out, &model.UserComment{
			ID:              d.ID,
			Author:          d.Author,
			Subreddit:       d.Subreddit,
			Created:         epoch(d.Created),
			CreatedUTC:      epoch(d.CreatedUTC),
			AuthorFlairText: d.AuthorFlairText,
			AuthorFlairCSS:  d.AuthorFlairCSS,
			LinkPermalink:   d.LinkPermalink,
			Body:            d.Body,
		})
	}
	return out, nil
}
