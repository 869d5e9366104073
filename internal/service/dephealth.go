// dephealth.go — мониторинг зависимостей потокового сбора через topologymetrics.
//
// Зависимости:
//   - postgresql — SQL checker через пул задачи (critical)
//   - reddit-api — HTTP checker адреса выдачи токенов (critical)
//   - pushgateway — HTTP checker /-/healthy, если задан HV_PUSHGATEWAY_URL
//
// Метрики app_dependency_health и app_dependency_latency_seconds отдаются
// на /metrics служебного сервера.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// redditProbePath — страница Reddit, отвечающая 200 без авторизации.
	redditProbePath = "/robots.txt"
	// pushgatewayProbePath — health endpoint Prometheus Pushgateway.
	pushgatewayProbePath = "/-/healthy"
)

// DephealthOptions — параметры мониторинга зависимостей.
type DephealthOptions struct {
	// ServiceID — имя вершины графа (harvester-stream)
	ServiceID string
	// Group — группа в метриках (HV_DEPHEALTH_GROUP)
	Group string
	// DB — *sql.DB поверх пула задачи (stdlib.OpenDBFromPool)
	DB *sql.DB
	// DatabaseURL — URL PostgreSQL для лейблов, пароль не используется
	DatabaseURL string
	// RedditURL — HV_REDDIT_AUTH_URL
	RedditURL string
	// PushgatewayURL — пусто, если метрики не отправляются
	PushgatewayURL string
	Interval       time.Duration
	// Registerer — nil: глобальный registry Prometheus
	Registerer prometheus.Registerer
}

// DephealthService — периодическая проверка зависимостей.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService регистрирует зависимости. Проверки начинаются после Start.
func NewDephealthService(opts DephealthOptions, logger *slog.Logger) (*DephealthService, error) {
	redditBase, _, err := splitProbeURL(opts.RedditURL)
	if err != nil {
		return nil, fmt.Errorf("reddit-api: %w", err)
	}

	dhOpts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(opts.DB)),
			dephealth.FromURL(opts.DatabaseURL),
			dephealth.CheckInterval(opts.Interval),
			dephealth.Critical(true),
		),
		dephealth.HTTP("reddit-api", httpDependency(redditBase, redditProbePath, opts.Interval, true)...),
	}

	if opts.PushgatewayURL != "" {
		base, prefix, err := splitProbeURL(opts.PushgatewayURL)
		if err != nil {
			return nil, fmt.Errorf("pushgateway: %w", err)
		}
		// Pushgateway за reverse proxy может жить под префиксом пути
		dhOpts = append(dhOpts, dephealth.HTTP("pushgateway",
			httpDependency(base, prefix+pushgatewayProbePath, opts.Interval, false)...))
	}
	if opts.Registerer != nil {
		dhOpts = append(dhOpts, dephealth.WithRegisterer(opts.Registerer))
	}

	dh, err := dephealth.New(opts.ServiceID, opts.Group, dhOpts...)
	if err != nil {
		return nil, err
	}
	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

func httpDependency(base, probePath string, interval time.Duration, critical bool) []dephealth.DependencyOption {
	opts := []dephealth.DependencyOption{
		dephealth.FromURL(base),
		dephealth.WithHTTPHealthPath(probePath),
		dephealth.CheckInterval(interval),
		dephealth.Critical(critical),
	}
	if strings.HasPrefix(base, "https://") {
		opts = append(opts, dephealth.WithHTTPTLSSkipVerify(false))
	}
	return opts
}

// splitProbeURL делит URL на scheme://host[:port] и путь без завершающего «/».
func splitProbeURL(raw string) (base, path string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", fmt.Errorf("некорректный URL %q: нужен http(s)://host", raw)
	}
	return u.Scheme + "://" + u.Host, strings.TrimRight(u.Path, "/"), nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	if err := ds.dh.Start(ctx); err != nil {
		return err
	}
	ds.logger.Info("Мониторинг зависимостей запущен")
	return nil
}

// Stop останавливает мониторинг.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает последнее состояние каждой зависимости.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
