// Пакет server — HTTP-сервер Paperstore с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на ingress.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/bigkaa/paperstore/internal/api/errors"
	"github.com/bigkaa/paperstore/internal/api/handlers"
	"github.com/bigkaa/paperstore/internal/api/middleware"
	"github.com/bigkaa/paperstore/internal/config"
	"github.com/bigkaa/paperstore/internal/domain/lifecycle"
)

// Server — HTTP-сервер Paperstore.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// Все /api-маршруты защищены guard'ом жизненного цикла: до готовности
// хранилищ (и после начала shutdown) они возвращают 503.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	files *handlers.FilesHandler,
	health *handlers.HealthHandler,
	verifier *middleware.Verifier,
	lc *lifecycle.StateMachine,
) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.Recover(logger, cfg.IsProduction()))

	// Служебные endpoints — без lifecycle guard
	router.Get("/health", health.Health)
	router.Get("/health/ready", health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api", func(api chi.Router) {
		api.Use(lifecycleGuard(lc))

		// Загрузка: аутентификация необязательна
		api.With(verifier.Optional()).Post("/upload", files.Upload)

		api.Route("/files", func(r chi.Router) {
			// Публичные endpoints
			r.Get("/", files.ListPublic)
			r.Get("/download/{filename}", files.Download)

			// Административные endpoints
			r.With(verifier.Required()).Get("/resources", files.ListAdmin)
			r.With(verifier.Required()).Patch("/approve/{id}", files.Approve)
			r.With(verifier.Required()).Delete("/delete/{id}", files.Delete)
		})
	})

	// Единый JSON-формат и для 404/405
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierrors.NotFound(w, fmt.Sprintf("Маршрут %s %s не найден", r.Method, r.URL.Path))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apierrors.WriteError(w, http.StatusMethodNotAllowed, apierrors.CodeValidationError,
			fmt.Sprintf("Метод %s не поддерживается для %s", r.Method, r.URL.Path))
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// lifecycleGuard возвращает 503, пока сервер не в состоянии ready.
func lifecycleGuard(lc *lifecycle.StateMachine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lc.CanServe() {
				apierrors.NotReady(w, fmt.Sprintf("Сервер в состоянии %s", lc.Current()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
