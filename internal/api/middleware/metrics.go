// metrics.go — Prometheus HTTP метрики Paperstore.
// Регистрирует метрики: ps_http_requests_total, ps_http_request_duration_seconds.
// Бизнес-метрики (ps_resources_total, ps_operations_total) экспортируются
// отсюда и обновляются из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ps_http_requests_total",
			Help: "Общее количество HTTP-запросов к Paperstore",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ps_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Paperstore в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (экспортируются для обновления из сервисного слоя)
var (
	// ResourcesTotal — текущее количество ресурсов в хранилище (gauge).
	ResourcesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ps_resources_total",
			Help: "Текущее количество ресурсов в хранилище",
		},
		[]string{"status"},
	)

	// OperationsTotal — общее количество операций над ресурсами.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ps_operations_total",
			Help: "Общее количество операций над ресурсами",
		},
		[]string{"operation", "result"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем идентификаторы и имена файлов на плейсхолдеры)
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

// normalizePath заменяет переменные сегменты пути на плейсхолдеры
// для предотвращения взрывного роста кардинальности метрик.
// /api/files/download/os_final.pdf → /api/files/download/{filename}
// /api/files/approve/a1b2... → /api/files/approve/{id}
func normalizePath(path string) string {
	switch {
	case path == "/health":
		return "/health"
	case path == "/health/ready":
		return "/health/ready"
	case path == "/metrics":
		return "/metrics"
	case path == "/api/upload":
		return "/api/upload"
	case path == "/api/files":
		return "/api/files"
	case path == "/api/files/resources":
		return "/api/files/resources"
	case strings.HasPrefix(path, "/api/files/download/"):
		return "/api/files/download/{filename}"
	case strings.HasPrefix(path, "/api/files/approve/"):
		return "/api/files/approve/{id}"
	case strings.HasPrefix(path, "/api/files/delete/"):
		return "/api/files/delete/{id}"
	}
	return path
}
