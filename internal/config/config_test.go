package config

import (
	"log/slog"
	"testing"
	"time"
)

// setRequiredEnv задаёт минимальный набор обязательных переменных.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PS_JWT_SECRET", "test-secret")
}

// TestLoad_Defaults проверяет значения по умолчанию.
func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("ошибка загрузки конфигурации: %v", err)
	}

	if cfg.Port != 5000 {
		t.Errorf("Port: ожидалось 5000, получено %d", cfg.Port)
	}
	if cfg.Environment != "development" {
		t.Errorf("Environment: ожидалось development, получено %s", cfg.Environment)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel: ожидался info, получен %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat: ожидался json, получен %s", cfg.LogFormat)
	}
	if cfg.MaxFileSize != 20<<20 {
		t.Errorf("MaxFileSize: ожидалось %d, получено %d", 20<<20, cfg.MaxFileSize)
	}
	if cfg.Bucket != "uploads" {
		t.Errorf("Bucket: ожидался uploads, получен %s", cfg.Bucket)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout: ожидалось 5s, получено %v", cfg.ShutdownTimeout)
	}
	if cfg.IsProduction() {
		t.Error("development не должен считаться production")
	}
	if cfg.HasRemoteIssuer() {
		t.Error("удалённый издатель не настроен, HasRemoteIssuer должен быть false")
	}
}

// TestLoad_MissingSecret проверяет обязательность PS_JWT_SECRET.
func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("PS_JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка при отсутствии PS_JWT_SECRET")
	}
}

// TestLoad_InvalidPort проверяет ошибку на нечисловом порте.
func TestLoad_InvalidPort(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PS_PORT", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка на некорректном PS_PORT")
	}
}

// TestLoad_InvalidLogLevel проверяет ошибку на неизвестном уровне логирования.
func TestLoad_InvalidLogLevel(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PS_LOG_LEVEL", "verbose")

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка на некорректном PS_LOG_LEVEL")
	}
}

// TestLoad_InvalidMaxFileSize проверяет отрицательный предел размера.
func TestLoad_InvalidMaxFileSize(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PS_MAX_FILE_SIZE", "-1")

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка на отрицательном PS_MAX_FILE_SIZE")
	}
}

// TestDatabaseDSN проверяет сборку строки подключения.
func TestDatabaseDSN(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PS_DB_HOST", "db.internal")
	t.Setenv("PS_DB_PORT", "5433")
	t.Setenv("PS_DB_NAME", "papers")
	t.Setenv("PS_DB_USER", "svc")
	t.Setenv("PS_DB_PASSWORD", "pw")
	t.Setenv("PS_DB_SSLMODE", "require")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("ошибка загрузки конфигурации: %v", err)
	}

	want := "postgres://svc:pw@db.internal:5433/papers?sslmode=require"
	if dsn := cfg.DatabaseDSN(); dsn != want {
		t.Errorf("DSN: ожидалось %s, получено %s", want, dsn)
	}
}

// TestRemoteIssuerURLs проверяет сборку JWKS URL и issuer из домена.
func TestRemoteIssuerURLs(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PS_AUTH_DOMAIN", "tenant.auth.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("ошибка загрузки конфигурации: %v", err)
	}

	if !cfg.HasRemoteIssuer() {
		t.Fatal("ожидался настроенный удалённый издатель")
	}
	if got := cfg.JWKSURL(); got != "https://tenant.auth.example.com/.well-known/jwks.json" {
		t.Errorf("неожиданный JWKS URL: %s", got)
	}
	if got := cfg.Issuer(); got != "https://tenant.auth.example.com/" {
		t.Errorf("неожиданный issuer: %s", got)
	}
}
