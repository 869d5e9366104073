package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/bigkaa/harvester/internal/domain/model"
)

// PushMetrics отправляет метрики пакетной задачи в Prometheus Pushgateway.
// Пустой url — отправка отключена.
func PushMetrics(ctx context.Context, url string, result *model.RunResult, logger *slog.Logger) error {
	if url == "" || result == nil {
		return nil
	}

	err := push.New(url, "harvester").
		Gatherer(prometheus.DefaultGatherer).
		Grouping("kind", string(result.Target.Kind)).
		Grouping("target", result.Target.Name).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("ошибка отправки метрик в Pushgateway: %w", err)
	}

	logger.Debug("Метрики отправлены в Pushgateway",
		slog.String("url", url),
		slog.String("run_id", result.RunID),
	)
	return nil
}
