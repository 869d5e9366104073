package middleware

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_http_requests_total",
		Help: "Количество HTTP-запросов к служебному серверу",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_http_request_duration_seconds",
		Help:    "Длительность HTTP-запросов к служебному серверу",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 3},
	}, []string{"method", "route"})
)

// Metrics считает запросы по шаблону маршрута chi; запросы вне маршрутов
// попадают под один лейбл, поэтому сканеры не раздувают число рядов.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(responseStatus(ww))).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
