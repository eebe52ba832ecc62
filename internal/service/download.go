// download.go — публичный листинг и скачивание одобренных ресурсов.
package service

import (
	"fmt"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/paperstore/internal/api/errors"
	"github.com/bigkaa/paperstore/internal/api/middleware"
	"github.com/bigkaa/paperstore/internal/domain/model"
	"github.com/bigkaa/paperstore/internal/storage/blobstore"
	"github.com/bigkaa/paperstore/internal/storage/index"
)

// PublicResource — проекция ресурса для публичного списка.
// Внутренние поля (storage_path, checksum) наружу не отдаются.
type PublicResource struct {
	Filename    string                 `json:"filename"`
	Length      int64                  `json:"length"`
	UploadDate  string                 `json:"upload_date"`
	ContentType string                 `json:"content_type"`
	Metadata    model.ResourceMetadata `json:"metadata"`
}

// DownloadError — ошибка скачивания с HTTP-кодом.
type DownloadError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DownloadService — сервис публичного доступа к ресурсам.
type DownloadService struct {
	store  *blobstore.BlobStore
	idx    *index.Index
	logger *slog.Logger
}

// NewDownloadService создаёт сервис скачивания.
func NewDownloadService(store *blobstore.BlobStore, idx *index.Index, logger *slog.Logger) *DownloadService {
	return &DownloadService{
		store:  store,
		idx:    idx,
		logger: logger.With(slog.String("component", "download_service")),
	}
}

// ListPublic возвращает одобренные ресурсы для публичного списка,
// новые первые. Ресурсы в статусе pending наружу не видны.
func (s *DownloadService) ListPublic() []PublicResource {
	attrs := s.idx.ListApproved()

	result := make([]PublicResource, 0, len(attrs))
	for _, a := range attrs {
		result = append(result, PublicResource{
			Filename:    a.Filename,
			Length:      a.Size,
			UploadDate:  a.UploadDate.Format("2006-01-02T15:04:05Z07:00"),
			ContentType: a.ContentType,
			Metadata:    a.Metadata,
		})
	}
	return result
}

// Serve отдаёт файл клиенту через http.ServeContent.
// Поиск — по оригинальному имени файла; при нескольких совпадениях
// берётся самый свежий. Неодобренные ресурсы отдают 403 (а не 404),
// чтобы отличать «нет такого файла» от «ещё на модерации».
func (s *DownloadService) Serve(w http.ResponseWriter, r *http.Request, filename string) *DownloadError {
	a := s.idx.FindByFilename(filename)
	if a == nil {
		return &DownloadError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    fmt.Sprintf("Файл %s не найден", filename),
		}
	}

	if !a.IsApproved() {
		return &DownloadError{
			StatusCode: 403,
			Code:       apierrors.CodeForbidden,
			Message:    fmt.Sprintf("Файл %s ещё не одобрен модератором", filename),
		}
	}

	file, err := s.store.Open(a.StoragePath)
	if err != nil {
		s.logger.Error("Файл не найден на диске",
			slog.String("storage_id", a.StorageID),
			slog.String("storage_path", a.StoragePath),
			slog.String("error", err.Error()),
		)
		return &DownloadError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    fmt.Sprintf("Файл %s не найден на диске", filename),
		}
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		s.logger.Error("Ошибка получения stat файла",
			slog.String("storage_id", a.StorageID),
			slog.String("error", err.Error()),
		)
		return &DownloadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка чтения файла",
		}
	}

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Filename))
	w.Header().Set("ETag", fmt.Sprintf("%q", a.Checksum))
	w.Header().Set("Accept-Ranges", "bytes")

	// ServeContent обрабатывает Range requests и If-None-Match
	http.ServeContent(w, r, a.Filename, stat.ModTime(), file)

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()

	s.logger.Info("Файл отдан",
		slog.String("storage_id", a.StorageID),
		slog.String("filename", a.Filename),
		slog.Int64("size", a.Size),
	)

	return nil
}
