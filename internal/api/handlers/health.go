// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/paperstore/internal/config"
	"github.com/bigkaa/paperstore/internal/domain/lifecycle"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// IndexReadinessChecker — интерфейс для проверки готовности индекса.
type IndexReadinessChecker interface {
	IsReady() bool
}

// ReadinessChecker — проверка готовности внешней зависимости.
// Реализуется database.ReadinessChecker.
type ReadinessChecker interface {
	CheckReady() (status string, message string)
}

// HealthHandler реализует health endpoints: /health, /health/ready.
type HealthHandler struct {
	version     string
	environment string
	// dataDir — путь к директории данных (для проверки FS)
	dataDir string
	// idx — ссылка на индекс для проверки готовности
	idx IndexReadinessChecker
	// db — проверка готовности PostgreSQL
	db ReadinessChecker
	// lc — жизненный цикл сервера
	lc *lifecycle.StateMachine
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(cfg *config.Config, idx IndexReadinessChecker, db ReadinessChecker, lc *lifecycle.StateMachine) *HealthHandler {
	return &HealthHandler{
		version:     config.Version,
		environment: cfg.Environment,
		dataDir:     cfg.DataDir,
		idx:         idx,
		db:          db,
		lc:          lc,
	}
}

// Health обрабатывает GET /health.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"environment": h.environment,
		"version":     h.version,
		"service":     "paperstore",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: PostgreSQL, файловую систему, готовность индекса,
// состояние жизненного цикла.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	// Проверка PostgreSQL
	dbCheck := map[string]any{"status": "ok", "message": "Проверка не настроена"}
	if h.db != nil {
		status, message := h.db.CheckReady()
		dbCheck = map[string]any{"status": status, "message": message}
		if status != "ok" {
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		}
	}

	// Проверка файловой системы
	fsCheck := h.checkFilesystem()
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	// Проверка индекса
	indexReady := true
	if h.idx != nil {
		indexReady = h.idx.IsReady()
	}
	if !indexReady {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	// Проверка жизненного цикла: готов только в состоянии ready
	lifecycleCheck := map[string]any{"status": "ok"}
	if h.lc != nil {
		lifecycleCheck["state"] = string(h.lc.Current())
		if !h.lc.CanServe() {
			lifecycleCheck["status"] = statusFail
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		}
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "paperstore",
		"checks": map[string]any{
			"postgres":   dbCheck,
			"filesystem": fsCheck,
			"index":      map[string]any{"status": okOrFail(indexReady), "ready": indexReady},
			"lifecycle":  lifecycleCheck,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

func okOrFail(ok bool) string {
	if ok {
		return "ok"
	}
	return statusFail
}

// checkFilesystem проверяет доступность директории данных на запись.
func (h *HealthHandler) checkFilesystem() map[string]any {
	if h.dataDir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(h.dataDir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Директория данных недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}
