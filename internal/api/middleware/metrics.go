// metrics.go — Prometheus HTTP метрики LexStore.
// Регистрирует метрики: ls_http_requests_total, ls_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики LexStore
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ls_http_requests_total",
			Help: "Общее количество HTTP-запросов к LexStore",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ls_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к LexStore в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем UUID на {id} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет динамические сегменты пути на плейсхолдеры
// для предотвращения взрывного роста кардинальности метрик.
// /api/v1/documents/a1b2c3d4-.../download → /api/v1/documents/{id}/download
// /buckets/hansards/... → /buckets/{bucket}
func normalizePath(path string) string {
	// Статические пути — возвращаем как есть
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/documents", "/api/v1/payments", "/api/v1/proxy/download",
		"/api/v1/subscriptions", "/api/v1/subscriptions/active", "/api/v1/subscriptions/plans",
		"/api/v1/subscriptions/card/intent", "/api/v1/subscriptions/card/complete",
		"/api/v1/subscriptions/mobile-money":
		return path
	}

	// Раздача файлов: путь внутри bucket не попадает в лейблы
	if strings.HasPrefix(path, "/buckets/") {
		return "/buckets/{bucket}"
	}

	// Динамические пути с UUID (36 символов)
	if rest, ok := strings.CutPrefix(path, "/api/v1/documents/"); ok {
		suffix := ""
		if len(rest) > 36 {
			suffix = rest[36:]
		}
		switch suffix {
		case "/download", "/archive", "/restore", "/access":
			return "/api/v1/documents/{id}" + suffix
		default:
			return "/api/v1/documents/{id}"
		}
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/payments/"); ok {
		suffix := ""
		if len(rest) > 36 {
			suffix = rest[36:]
		}
		switch suffix {
		case "/refund", "/status":
			return "/api/v1/payments/{id}" + suffix
		default:
			return "/api/v1/payments/{id}"
		}
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/subscriptions/"); ok {
		suffix := ""
		if len(rest) > 36 {
			suffix = rest[36:]
		}
		if suffix == "/cancel" {
			return "/api/v1/subscriptions/{id}/cancel"
		}
		return "/api/v1/subscriptions/{id}"
	}

	return path
}
