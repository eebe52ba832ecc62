// reconcile.go — сервис фоновой сверки файлового хранилища.
//
// Сверка сравнивает:
//   - Файлы на диске с attr.json-сайдкарами
//   - attr.json с физическими файлами
//   - Контрольные суммы и размеры файлов
//
// Обнаруживает проблемы:
//   - orphaned_file: файл на диске без attr.json
//   - missing_file: attr.json без файла на диске
//   - size_mismatch: не совпадает размер
//   - checksum_mismatch: не совпадает checksum
//
// После сверки индекс метаданных пересобирается из attr.json.
// Запускается как горутина с периодическим тикером (PS_RECONCILE_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/paperstore/internal/storage/attr"
	"github.com/bigkaa/paperstore/internal/storage/blobstore"
	"github.com/bigkaa/paperstore/internal/storage/index"
)

// Prometheus метрики сверки
var (
	// reconcileRunsTotal — количество запусков сверки.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ps_reconcile_runs_total",
		Help: "Общее количество запусков сверки хранилища",
	})

	// reconcileIssuesTotal — количество обнаруженных проблем по типу.
	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ps_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных сверкой",
	}, []string{"type"})

	// reconcileDurationSeconds — длительность выполнения сверки.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ps_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// ReconcileIssueType — тип обнаруженной проблемы.
type ReconcileIssueType string

const (
	// IssueOrphanedFile — файл на диске без attr.json.
	IssueOrphanedFile ReconcileIssueType = "orphaned_file"
	// IssueMissingFile — attr.json без файла на диске.
	IssueMissingFile ReconcileIssueType = "missing_file"
	// IssueSizeMismatch — размер файла не совпадает с attr.json.
	IssueSizeMismatch ReconcileIssueType = "size_mismatch"
	// IssueChecksumMismatch — checksum файла не совпадает с attr.json.
	IssueChecksumMismatch ReconcileIssueType = "checksum_mismatch"
)

// ReconcileIssue — одна обнаруженная проблема.
type ReconcileIssue struct {
	Type ReconcileIssueType `json:"type"`
	// StorageID — идентификатор blob'а из attr.json, если его удалось прочитать
	StorageID string `json:"storage_id,omitempty"`
	// Path — имя файла относительно bucket-директории
	Path        string `json:"path"`
	Description string `json:"description"`
}

// ReconcileSummary — сводка по типам проблем.
type ReconcileSummary struct {
	Ok                 int `json:"ok"`
	OrphanedFiles      int `json:"orphaned_files"`
	MissingFiles       int `json:"missing_files"`
	SizeMismatches     int `json:"size_mismatches"`
	ChecksumMismatches int `json:"checksum_mismatches"`
}

// ReconcileReport — результат одного цикла сверки.
type ReconcileReport struct {
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
	FilesChecked int              `json:"files_checked"`
	Issues       []ReconcileIssue `json:"issues"`
	Summary      ReconcileSummary `json:"summary"`
}

// ReconcileService — сервис фоновой сверки хранилища.
type ReconcileService struct {
	store    *blobstore.BlobStore
	idx      *index.Index
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool       // сверка в процессе выполнения
	cancel    context.CancelFunc
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	store *blobstore.BlobStore,
	idx *index.Index,
	interval time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		store:    store,
		idx:      idx,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
// При нулевом интервале периодический запуск отключён.
func (rs *ReconcileService) Start(ctx context.Context) {
	if rs.interval <= 0 {
		rs.logger.Info("Периодическая сверка отключена")
		return
	}

	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Сверка хранилища запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновой процесс сверки.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("Сверка хранилища остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// run — основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce()
		}
	}
}

// RunOnce выполняет один цикл сверки.
// Потокобезопасен: если сверка уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce() (*ReconcileReport, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	startedAt := time.Now().UTC()
	rs.logger.Info("Сверка хранилища начата")

	issues := rs.reconcile()

	// Пересобираем индекс из attr.json
	if err := rs.idx.BuildFromDir(rs.store.BucketDir()); err != nil {
		rs.logger.Error("Ошибка пересборки индекса",
			slog.String("error", err.Error()),
		)
	}

	completedAt := time.Now().UTC()
	duration := completedAt.Sub(startedAt)

	summary := ReconcileSummary{}
	for _, issue := range issues {
		switch issue.Type {
		case IssueOrphanedFile:
			summary.OrphanedFiles++
		case IssueMissingFile:
			summary.MissingFiles++
		case IssueSizeMismatch:
			summary.SizeMismatches++
		case IssueChecksumMismatch:
			summary.ChecksumMismatches++
		}
	}

	filesChecked := rs.idx.Count()
	summary.Ok = filesChecked - len(issues)
	if summary.Ok < 0 {
		summary.Ok = 0
	}

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	for _, issue := range issues {
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
	}

	rs.logger.Info("Сверка хранилища завершена",
		slog.Int("files_checked", filesChecked),
		slog.Int("issues", len(issues)),
		slog.Int("ok", summary.Ok),
		slog.Duration("duration", duration),
	)

	return &ReconcileReport{
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
		FilesChecked: filesChecked,
		Issues:       issues,
		Summary:      summary,
	}, false
}

// reconcile выполняет сверку данных в bucket-директории.
func (rs *ReconcileService) reconcile() []ReconcileIssue {
	var issues []ReconcileIssue

	bucketDir := rs.store.BucketDir()

	// Файлы данных и attr.json-сайдкары по отдельности
	dataFiles := make(map[string]bool)
	attrFiles := make(map[string]bool)

	entries, err := os.ReadDir(bucketDir)
	if err != nil {
		rs.logger.Error("Ошибка чтения bucket-директории",
			slog.String("error", err.Error()),
		)
		return issues
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		// Пропускаем служебные и temp файлы
		if strings.HasPrefix(name, ".") {
			continue
		}
		if strings.HasSuffix(name, ".tmp") {
			continue
		}

		if attr.IsAttrFile(name) {
			attrFiles[name] = true
		} else {
			dataFiles[name] = true
		}
	}

	// 1. Файл данных без attr.json (orphaned_file)
	for dataFile := range dataFiles {
		expectedAttr := dataFile + attr.AttrSuffix
		if !attrFiles[expectedAttr] {
			issues = append(issues, ReconcileIssue{
				Type:        IssueOrphanedFile,
				Path:        dataFile,
				Description: "Файл на диске без attr.json",
			})
		}
	}

	// 2. attr.json без файла данных (missing_file)
	for attrFile := range attrFiles {
		dataFile := strings.TrimSuffix(attrFile, attr.AttrSuffix)
		if !dataFiles[dataFile] {
			issue := ReconcileIssue{
				Type:        IssueMissingFile,
				Path:        dataFile,
				Description: "attr.json без соответствующего файла на диске",
			}

			if meta, readErr := attr.Read(filepath.Join(bucketDir, attrFile)); readErr == nil {
				issue.StorageID = meta.StorageID
			}

			issues = append(issues, issue)
		}
	}

	// 3. Целостность файлов: size и checksum
	for attrFile := range attrFiles {
		dataFile := strings.TrimSuffix(attrFile, attr.AttrSuffix)
		if !dataFiles[dataFile] {
			// Файл отсутствует — уже обработан выше
			continue
		}

		meta, readErr := attr.Read(filepath.Join(bucketDir, attrFile))
		if readErr != nil {
			rs.logger.Warn("Ошибка чтения attr.json при сверке",
				slog.String("attr_file", attrFile),
				slog.String("error", readErr.Error()),
			)
			continue
		}

		actualSize, sizeErr := rs.store.FileSize(dataFile)
		if sizeErr != nil {
			rs.logger.Warn("Ошибка получения размера файла",
				slog.String("file", dataFile),
				slog.String("error", sizeErr.Error()),
			)
			continue
		}

		if actualSize != meta.Size {
			issues = append(issues, ReconcileIssue{
				Type:        IssueSizeMismatch,
				StorageID:   meta.StorageID,
				Path:        dataFile,
				Description: "Размер файла на диске не совпадает с attr.json",
			})
			continue // Если размер не совпадает, checksum точно не совпадёт
		}

		actualChecksum, csErr := rs.store.ComputeChecksum(dataFile)
		if csErr != nil {
			rs.logger.Warn("Ошибка вычисления checksum",
				slog.String("file", dataFile),
				slog.String("error", csErr.Error()),
			)
			continue
		}

		if actualChecksum != meta.Checksum {
			issues = append(issues, ReconcileIssue{
				Type:        IssueChecksumMismatch,
				StorageID:   meta.StorageID,
				Path:        dataFile,
				Description: "Checksum файла на диске не совпадает с attr.json",
			})
		}
	}

	return issues
}
