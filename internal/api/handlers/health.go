// Пакет handlers — обработчики служебного сервера потокового сбора.
//
//	/health/live  — процесс жив
//	/health/ready — PostgreSQL и цикл опроса в норме; зависимости из topologymetrics
//	/metrics      — Prometheus
package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/harvester/internal/config"
)

const serviceName = "harvester"

// Статусы проверок.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// ReadinessChecker — проверка одной подсистемы.
type ReadinessChecker interface {
	// CheckReady возвращает статус (ok, degraded, fail) и пояснение.
	CheckReady() (status string, message string)
}

// DependencyReporter — состояние зависимостей (service.DephealthService).
type DependencyReporter interface {
	Health() map[string]bool
}

// Check — именованная проверка готовности.
type Check struct {
	Name    string
	Checker ReadinessChecker
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	checks    []Check
	deps      DependencyReporter
	metrics   http.Handler
	startedAt time.Time
}

// NewHealthHandler создаёт обработчик. deps — nil, если мониторинг
// зависимостей не запущен; Check с nil Checker всегда fail.
func NewHealthHandler(deps DependencyReporter, checks ...Check) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		deps:      deps,
		metrics:   promhttp.Handler(),
		startedAt: time.Now(),
	}
}

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type liveResponse struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type readyResponse struct {
	Status       string                 `json:"status"`
	Service      string                 `json:"service"`
	Version      string                 `json:"version"`
	Timestamp    time.Time              `json:"timestamp"`
	Checks       map[string]checkResult `json:"checks"`
	Dependencies []dependencyState      `json:"dependencies,omitempty"`
}

type dependencyState struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
}

// HealthLive всегда 200, пока процесс обслуживает запросы.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, liveResponse{
		Status:        StatusOK,
		Service:       serviceName,
		Version:       config.Version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}

// HealthReady — 503 при любой проверке fail, иначе 200 со статусом ok или
// degraded. Неисправная зависимость из мониторинга даёт degraded.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{
		Service:   serviceName,
		Version:   config.Version,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Checks:    make(map[string]checkResult, len(h.checks)),
	}

	worst := StatusOK
	for _, c := range h.checks {
		res := checkResult{Status: StatusFail, Message: "проверка не настроена"}
		if c.Checker != nil {
			res.Status, res.Message = c.Checker.CheckReady()
		}
		resp.Checks[c.Name] = res
		worst = worse(worst, res.Status)
	}

	if h.deps != nil {
		for name, healthy := range h.deps.Health() {
			resp.Dependencies = append(resp.Dependencies, dependencyState{Name: name, Healthy: healthy})
			if !healthy {
				worst = worse(worst, StatusDegraded)
			}
		}
		sort.Slice(resp.Dependencies, func(i, j int) bool {
			return resp.Dependencies[i].Name < resp.Dependencies[j].Name
		})
	}
	resp.Status = worst

	code := http.StatusOK
	if worst == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GetMetrics отдаёт метрики глобального registry.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}

func severity(status string) int {
	switch status {
	case StatusOK:
		return 0
	case StatusDegraded:
		return 1
	}
	return 2
}

// worse — более тяжёлый из двух статусов; неизвестный статус считается fail.
func worse(a, b string) string {
	if severity(b) <= severity(a) {
		return a
	}
	if severity(b) == severity(StatusFail) {
		return StatusFail
	}
	return b
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
