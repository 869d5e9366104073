// Пакет twitter — HTTP-клиент ленты пользователя Twitter API v1.1
// (bearer-токен приложения, постраничный обход через max_id).
package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/bigkaa/harvester/internal/domain/model"
)

// Ошибки клиента.
var (
	// ErrUnauthorized — токен отклонён (401/403).
	ErrUnauthorized = errors.New("twitter: доступ запрещён")
	// ErrTransient — временная ошибка (сеть, 429, 5xx).
	ErrTransient = errors.New("twitter: временная ошибка")
	// ErrNotFound — пользователь не найден.
	ErrNotFound = errors.New("twitter: не найдено")
)

// createdAtLayout — формат created_at в API v1.1.
const createdAtLayout = time.RubyDate

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harvester_twitter_requests_total",
	Help: "Количество запросов к Twitter API",
}, []string{"status"})

// Options — параметры клиента.
type Options struct {
	// APIURL — базовый адрес API (https://api.twitter.com/1.1)
	APIURL      string
	BearerToken string //nolint:gosec // G101: поле структуры
	Timeout     time.Duration
	RateLimit   float64
	// PageSize — твитов на страницу (1-200)
	PageSize int
}

// Client — клиент ленты пользователя.
type Client struct {
	http     *resty.Client
	limiter  *rate.Limiter
	pageSize int
	logger   *slog.Logger
}

// New создаёт клиент Twitter API.
func New(opts Options, logger *slog.Logger) *Client {
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 200
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(opts.APIURL, "/")).
			SetTimeout(opts.Timeout).
			SetAuthToken(opts.BearerToken),
		limiter:  rate.NewLimiter(limit, 1),
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "twitter_client")),
	}
}

// tweetData — поля твита, которые сохраняются.
type tweetData struct {
	IDStr         string `json:"id_str"`
	CreatedAt     string `json:"created_at"`
	Text          string `json:"text"`
	FullText      string `json:"full_text"`
	Lang          string `json:"lang"`
	FavoriteCount int    `json:"favorite_count"`
	RetweetCount  int    `json:"retweet_count"`
	User          struct {
		ScreenName string `json:"screen_name"`
		Name       string `json:"name"`
	} `json:"user"`
	RetweetedStatus *struct {
		User struct {
			Name string `json:"name"`
		} `json:"user"`
	} `json:"retweeted_status"`
	Entities struct {
		Hashtags []struct {
			Text string `json:"text"`
		} `json:"hashtags"`
		URLs []struct {
			ExpandedURL string `json:"expanded_url"`
		} `json:"urls"`
	} `json:"entities"`
}

func (d *tweetData) tweet() (*model.Tweet, error) {
	created, err := time.Parse(createdAtLayout, d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("разбор created_at твита %s: %w", d.IDStr, err)
	}

	t := &model.Tweet{
		ID:            d.IDStr,
		Author:        d.User.ScreenName,
		CreatedUTC:    created.UTC(),
		Lang:          d.Lang,
		FavoriteCount: d.FavoriteCount,
		RetweetCount:  d.RetweetCount,
		Text:          d.FullText,
	}
	if t.Text == "" {
		t.Text = d.Text
	}
	if d.RetweetedStatus != nil {
		name := d.RetweetedStatus.User.Name
		t.RetweetAuthor = &name
	}
	for _, h := range d.Entities.Hashtags {
		t.Hashtags = append(t.Hashtags, h.Text)
	}
	for _, u := range d.Entities.URLs {
		t.URLs = append(t.URLs, u.ExpandedURL)
	}
	return t, nil
}

// UserTimeline возвращает страницу ленты пользователя не старше maxID
// (пустой — с самого нового твита) и max_id следующей страницы
// (пустой — страниц больше нет).
func (c *Client) UserTimeline(ctx context.Context, user, maxID string) ([]*model.Tweet, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	params := map[string]string{
		"screen_name": user,
		"count":       strconv.Itoa(c.pageSize),
		"tweet_mode":  "extended",
		"include_rts": "true",
	}
	if maxID != "" {
		params["max_id"] = maxID
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get("/statuses/user_timeline.json")
	if err != nil {
		requestsTotal.WithLabelValues("error").Inc()
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", fmt.Errorf("%w: user_timeline: %v", ErrTransient, err)
	}
	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode())).Inc()

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, "", fmt.Errorf("%w: user_timeline вернул %d", ErrUnauthorized, code)
	case code == http.StatusNotFound:
		return nil, "", fmt.Errorf("%w: пользователь %s", ErrNotFound, user)
	case code == http.StatusTooManyRequests || code >= 500:
		return nil, "", fmt.Errorf("%w: user_timeline вернул %d", ErrTransient, code)
	case code >= 300:
		return nil, "", fmt.Errorf("twitter: user_timeline вернул %d", code)
	}

	var raw []tweetData
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, "", fmt.Errorf("декодирование user_timeline: %w", err)
	}
	if len(raw) == 0 {
		return nil, "", nil
	}

	page := make([]*model.Tweet, 0, len(raw))
	var lowest uint64
	for i := range raw {
		t, err := raw[i].tweet()
		if err != nil {
			return nil, "", err
		}
		page = append(page, t)

		id, err := strconv.ParseUint(t.ID, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("некорректный id твита %q: %w", t.ID, err)
		}
		if lowest == 0 || id < lowest {
			lowest = id
		}
	}

	c.logger.Debug("Получена страница ленты",
		slog.String("user", user),
		slog.Int("count", len(page)),
	)
	return page, strconv.FormatUint(lowest-1, 10), nil
}
