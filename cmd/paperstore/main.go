// Точка входа Paperstore — сервиса обмена учебными материалами.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/bigkaa/paperstore/internal/api/handlers"
	"github.com/bigkaa/paperstore/internal/api/middleware"
	"github.com/bigkaa/paperstore/internal/config"
	"github.com/bigkaa/paperstore/internal/database"
	"github.com/bigkaa/paperstore/internal/domain/lifecycle"
	"github.com/bigkaa/paperstore/internal/repository"
	"github.com/bigkaa/paperstore/internal/server"
	"github.com/bigkaa/paperstore/internal/service"
	"github.com/bigkaa/paperstore/internal/storage/blobstore"
	"github.com/bigkaa/paperstore/internal/storage/index"
)

func main() {
	// .env — для локальной разработки; в проде переменные окружения
	// приходят из манифестов, отсутствие файла не ошибка
	_ = godotenv.Load()

	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Paperstore запускается",
		slog.String("version", config.Version),
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.Port),
		slog.Bool("remote_issuer", cfg.HasRemoteIssuer()),
	)

	// --- Инициализация компонентов ---

	// 1. Жизненный цикл: initializing → ready → closed
	lc := lifecycle.New()

	ctx := context.Background()

	// 2. Миграции и подключение к PostgreSQL
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка применения миграций", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 3. Blob-хранилище
	store, err := blobstore.New(cfg.DataDir, cfg.Bucket)
	if err != nil {
		logger.Error("Ошибка инициализации blob-хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. In-memory индекс метаданных
	idx := index.New(logger)
	if err := idx.BuildFromDir(store.BucketDir()); err != nil {
		logger.Error("Ошибка построения индекса", slog.String("error", err.Error()))
		os.Exit(1)
	}
	updateResourceMetrics(idx)

	// 5. Репозитории
	resourceRepo := repository.NewResourceRepository(pool)
	userRepo := repository.NewUserRepository(pool)

	// 6. Проверка токенов
	verifierCfg := middleware.VerifierConfig{
		Audience:        cfg.AuthAudience,
		Issuer:          cfg.Issuer(),
		JWTSecret:       cfg.JWTSecret,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		Leeway:          cfg.JWTLeeway,
		CacheSize:       1024,
		CacheTTL:        cfg.JWKSRefreshInterval,
	}
	if cfg.HasRemoteIssuer() {
		verifierCfg.JWKSURL = cfg.JWKSURL()
	}
	verifier, err := middleware.NewVerifier(verifierCfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации проверки токенов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Сервисы
	uploadSvc := service.NewUploadService(cfg, store, idx, resourceRepo, userRepo, logger)
	downloadSvc := service.NewDownloadService(store, idx, logger)
	resourceSvc := service.NewResourceService(resourceRepo, store, idx, logger)

	// Фоновая сверка хранилища с attr.json и пересборка индекса
	reconcileSvc := service.NewReconcileService(store, idx, cfg.ReconcileInterval, logger)
	reconcileSvc.Start(ctx)
	defer reconcileSvc.Stop()

	// 8. Handlers и сервер
	filesHandler := handlers.NewFilesHandler(cfg, uploadSvc, downloadSvc, resourceSvc, logger)
	healthHandler := handlers.NewHealthHandler(cfg, idx, database.NewReadinessChecker(pool), lc)

	srv := server.New(cfg, logger, filesHandler, healthHandler, verifier, lc)

	// Хранилища готовы — открываем /api
	if err := lc.TransitionTo(lifecycle.StateReady); err != nil {
		logger.Error("Ошибка перехода в состояние ready", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Сервер готов к обслуживанию",
		slog.Int("resources_indexed", idx.Count()),
	)

	runErr := srv.Run()

	// Закрываемся независимо от причины остановки
	if err := lc.TransitionTo(lifecycle.StateClosed); err != nil {
		logger.Warn("Ошибка перехода в состояние closed", slog.String("error", err.Error()))
	}

	if runErr != nil {
		logger.Error("Сервер завершился с ошибкой", slog.String("error", runErr.Error()))
		os.Exit(1)
	}

	logger.Info("Paperstore остановлен")
}

// updateResourceMetrics выставляет стартовые значения gauge-метрик.
func updateResourceMetrics(idx *index.Index) {
	approved := idx.CountApproved()
	middleware.ResourcesTotal.WithLabelValues("approved").Set(float64(approved))
	middleware.ResourcesTotal.WithLabelValues("pending").Set(float64(idx.Count() - approved))
}
