package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubChecker struct {
	status, message string
}

func (s stubChecker) CheckReady() (string, string) { return s.status, s.message }

type stubDeps map[string]bool

func (s stubDeps) Health() map[string]bool { return s }

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil)
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, хотели 200", rec.Code)
	}
	var resp liveResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	if resp.Status != StatusOK || resp.Service != "harvester" {
		t.Errorf("ответ = %+v", resp)
	}
}

func TestHealthReady(t *testing.T) {
	pgOK := Check{"postgresql", stubChecker{StatusOK, ""}}
	tests := []struct {
		name       string
		checks     []Check
		deps       DependencyReporter
		wantCode   int
		wantStatus string
	}{
		{"всё в норме", []Check{pgOK, {"stream", stubChecker{StatusOK, ""}}},
			stubDeps{"postgresql": true, "reddit-api": true}, http.StatusOK, StatusOK},
		{"reddit недоступен", []Check{pgOK}, stubDeps{"reddit-api": false}, http.StatusOK, StatusDegraded},
		{"поток стоит", []Check{pgOK, {"stream", stubChecker{StatusDegraded, "последний цикл 5m назад"}}},
			nil, http.StatusOK, StatusDegraded},
		{"postgres недоступен", []Check{{"postgresql", stubChecker{StatusFail, "timeout"}}, {"stream", stubChecker{StatusDegraded, ""}}},
			nil, http.StatusServiceUnavailable, StatusFail},
		{"проверка не задана", []Check{{"postgresql", nil}}, nil, http.StatusServiceUnavailable, StatusFail},
		{"неизвестный статус", []Check{{"postgresql", stubChecker{"broken", ""}}}, nil, http.StatusServiceUnavailable, StatusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.deps, tt.checks...)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("статус = %d, хотели %d", rec.Code, tt.wantCode)
			}
			var resp readyResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("ошибка декодирования: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, хотели %q", resp.Status, tt.wantStatus)
			}
			if len(resp.Checks) != len(tt.checks) {
				t.Errorf("checks = %v", resp.Checks)
			}
		})
	}
}

func TestGetMetrics(t *testing.T) {
	h := NewHealthHandler(nil)
	rec := httptest.NewRecorder()
	h.GetMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, хотели 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("ответ /metrics не содержит стандартных метрик")
	}
}
