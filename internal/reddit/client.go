// Пакет reddit — HTTP-клиент Reddit API (app-only OAuth).
// Получает токен через client_credentials grant, ограничивает частоту
// запросов и переводит ответы Listing в доменные записи.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/bigkaa/harvester/internal/domain/model"
)

// Ошибки клиента.
var (
	// ErrUnauthorized — Reddit отклонил учётные данные (401/403). Повтор не поможет.
	ErrUnauthorized = errors.New("reddit: доступ запрещён")
	// ErrTransient — временная ошибка (сеть, 429, 5xx). Запрос можно повторить.
	ErrTransient = errors.New("reddit: временная ошибка")
	// ErrNotFound — сабреддит или пользователь не найден.
	ErrNotFound = errors.New("reddit: не найдено")
)

// Prometheus метрики клиента
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_reddit_requests_total",
		Help: "Количество запросов к Reddit API",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_reddit_request_duration_seconds",
		Help:    "Длительность запросов к Reddit API",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)

// Options — параметры клиента.
type Options struct {
	// AuthURL — адрес выдачи токенов (https://www.reddit.com)
	AuthURL string
	// APIURL — адрес OAuth API (https://oauth.reddit.com)
	APIURL       string
	ClientID     string
	ClientSecret string //nolint:gosec // G101: поле структуры
	// UserAgent — обязателен по правилам Reddit API
	UserAgent string
	Timeout   time.Duration
	// RateLimit — запросов в секунду
	RateLimit float64
	// PageSize — размер страницы (1-100)
	PageSize int
}

// tokenInfo — закэшированный токен с временем истечения.
type tokenInfo struct {
	accessToken string
	expiresAt   time.Time
}

// Client — клиент Reddit API. Безопасен для конкурентного использования.
type Client struct {
	http     *resty.Client
	authURL  string
	opts     Options
	limiter  *rate.Limiter
	logger   *slog.Logger
	pageSize int

	mu    sync.RWMutex
	token *tokenInfo
}

// New создаёт клиент Reddit API.
func New(opts Options, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.APIURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent)

	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &Client{
		http:     httpClient,
		authURL:  strings.TrimRight(opts.AuthURL, "/"),
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger.With(slog.String("component", "reddit_client")),
		pageSize: pageSize,
	}
}

// PageSize возвращает размер страницы запросов.
func (c *Client) PageSize() int {
	return c.pageSize
}

// Token возвращает токен доступа. Если закэшированный ещё валиден
// (expires_in - 30s), возвращает его, иначе запрашивает новый.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.token != nil && time.Now().Before(c.token.expiresAt) {
		token := c.token.accessToken
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Повторная проверка после write lock
	if c.token != nil && time.Now().Before(c.token.expiresAt) {
		return c.token.accessToken, nil
	}
	return c.requestToken(ctx)
}

// invalidateToken сбрасывает кэш токена (после 401 от API).
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

// requestToken запрашивает токен через client_credentials grant.
// Вызывается под write lock.
func (c *Client) requestToken(ctx context.Context) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.opts.ClientID, c.opts.ClientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		Post(c.authURL + "/api/v1/access_token")
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: запрос токена: %v", ErrTransient, err)
	}
	if err := statusError("access_token", resp); err != nil {
		return "", err
	}

	var tokenResp struct {
		Token     string `json:"access_token"` //nolint:gosec // G117: JSON-маппинг OAuth2 ответа
		ExpiresIn int    `json:"expires_in"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &tokenResp); err != nil {
		return "", fmt.Errorf("декодирование ответа токена: %w", err)
	}
	// Reddit отвечает 200 с полем error на неверные учётные данные
	if tokenResp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrUnauthorized, tokenResp.Error)
	}
	if tokenResp.Token == "" {
		return "", fmt.Errorf("%w: пустой access_token", ErrUnauthorized)
	}

	// Кэшируем токен с запасом 30 секунд до истечения
	c.token = &tokenInfo{
		accessToken: tokenResp.Token,
		expiresAt:   time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - 30*time.Second),
	}

	c.logger.Debug("Получен токен Reddit API",
		slog.Int("expires_in", tokenResp.ExpiresIn),
	)
	return tokenResp.Token, nil
}

// get выполняет GET к API и декодирует JSON-ответ в out.
// При 401 токен сбрасывается и запрос повторяется один раз.
func (c *Client) get(ctx context.Context, endpoint, path string, params map[string]string, out any) error {
	for attempt := 0; ; attempt++ {
		token, err := c.Token(ctx)
		if err != nil {
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParams(params).
			SetQueryParam("raw_json", "1").
			Get(path)
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			requestsTotal.WithLabelValues(endpoint, "error").Inc()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s: %v", ErrTransient, endpoint, err)
		}
		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode())).Inc()

		if resp.StatusCode() == http.StatusUnauthorized && attempt == 0 {
			c.invalidateToken()
			continue
		}
		if err := statusError(endpoint, resp); err != nil {
			return err
		}

		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("декодирование ответа %s: %w", endpoint, err)
		}
		return nil
	}
}

// statusError переводит HTTP-статус в ошибку клиента.
func statusError(endpoint string, resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s вернул %d", ErrUnauthorized, endpoint, code)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, endpoint)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: %s вернул %d", ErrTransient, endpoint, code)
	}
	return fmt.Errorf("reddit: %s вернул %d: %s", endpoint, code, truncate(resp.String(), 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// SearchSubmissions возвращает одну страницу постов сабреддита,
// созданных в [start, end], от новых к старым.
func (c *Client) SearchSubmissions(ctx context.Context, subreddit string, start, end time.Time) ([]*model.Submission, error) {
	params := map[string]string{
		"q":           fmt.Sprintf("timestamp:%d..%d", start.Unix(), end.Unix()),
		"syntax":      "cloudsearch",
		"sort":        "new",
		"restrict_sr": "on",
		"limit":       strconv.Itoa(c.pageSize),
	}

	var l listing
	if err := c.get(ctx, "search", "/r/"+subreddit+"/search", params, &l); err != nil {
		return nil, err
	}
	return l.submissions()
}

// SubmissionComments возвращает все загруженные комментарии поста одним
// плоским списком. Заглушки "more" отбрасываются.
func (c *Client) SubmissionComments(ctx context.Context, submissionID string) ([]*model.Comment, error) {
	params := map[string]string{
		"sort":  "new",
		"limit": "500",
	}

	// Ответ — [листинг поста, листинг комментариев]
	var pair []listing
	if err := c.get(ctx, "comments", "/comments/"+submissionID, params, &pair); err != nil {
		return nil, err
	}
	if len(pair) < 2 {
		return nil, fmt.Errorf("reddit: неожиданный ответ comments для %s", submissionID)
	}

	var out []*model.Comment
	if err := pair[1].flattenComments(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// NewComments возвращает до limit последних комментариев сабреддита,
// от новых к старым.
func (c *Client) NewComments(ctx context.Context, subreddit string, limit int) ([]*model.Comment, error) {
	if limit <= 0 || limit > 100 {
		limit = c.pageSize
	}
	params := map[string]string{"limit": strconv.Itoa(limit)}

	var l listing
	if err := c.get(ctx, "new_comments", "/r/"+subreddit+"/comments", params, &l); err != nil {
		return nil, err
	}
	var out []*model.Comment
	if err := l.flattenComments(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// UserComments возвращает страницу комментариев пользователя (от новых
// к старым) и токен следующей страницы (пустой — страниц больше нет).
func (c *Client) UserComments(ctx context.Context, user, after string) ([]*model.UserComment, string, error) {
	params := map[string]string{
		"sort":  "new",
		"limit": strconv.Itoa(c.pageSize),
	}
	if after != "" {
		params["after"] = after
	}

	var l listing
	if err := c.get(ctx, "user_comments", "/user/"+user+"/comments", params, &l); err != nil {
		return nil, "", err
	}
	page, err := l.userComments()
	if err != nil {
		return nil, "", err
	}
	next := ""
	if l.Data.After != nil {
		next = *l.Data.After
	}
	return page, next, nil
}
