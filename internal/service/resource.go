// resource.go — административные операции над ресурсами:
// модерация (approve), удаление, полный листинг каталога.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apierrors "github.com/bigkaa/paperstore/internal/api/errors"
	"github.com/bigkaa/paperstore/internal/api/middleware"
	"github.com/bigkaa/paperstore/internal/domain/model"
	"github.com/bigkaa/paperstore/internal/repository"
	"github.com/bigkaa/paperstore/internal/storage/attr"
	"github.com/bigkaa/paperstore/internal/storage/blobstore"
	"github.com/bigkaa/paperstore/internal/storage/index"
)

// ResourceError — ошибка административной операции с HTTP-кодом.
type ResourceError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ResourceService — сервис модерации и управления ресурсами.
type ResourceService struct {
	repo   repository.ResourceRepository
	store  *blobstore.BlobStore
	idx    *index.Index
	logger *slog.Logger
}

// NewResourceService создаёт сервис управления ресурсами.
func NewResourceService(
	repo repository.ResourceRepository,
	store *blobstore.BlobStore,
	idx *index.Index,
	logger *slog.Logger,
) *ResourceService {
	return &ResourceService{
		repo:   repo,
		store:  store,
		idx:    idx,
		logger: logger.With(slog.String("component", "resource_service")),
	}
}

// ListAdmin возвращает все ресурсы каталога (включая pending)
// с email владельцев. Только для аутентифицированных запросов.
func (s *ResourceService) ListAdmin(ctx context.Context) ([]*model.ResourceRecord, *ResourceError) {
	records, err := s.repo.ListAll(ctx)
	if err != nil {
		s.logger.Error("Ошибка листинга каталога", slog.String("error", err.Error()))
		return nil, &ResourceError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка при чтении каталога",
		}
	}
	return records, nil
}

// Approve одобряет ресурс. Каталог — авторитетный источник статуса:
// сначала UPDATE в базе, затем best-effort зеркалирование флага
// approved в attr.json и индекс. Ошибка зеркалирования логируется,
// но не откатывает одобрение. Повторный approve идемпотентен.
func (s *ResourceService) Approve(ctx context.Context, id string) (*model.ResourceRecord, *ResourceError) {
	rec, err := s.repo.Approve(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &ResourceError{
				StatusCode: 404,
				Code:       apierrors.CodeNotFound,
				Message:    fmt.Sprintf("Ресурс %s не найден", id),
			}
		}
		s.logger.Error("Ошибка одобрения ресурса",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, &ResourceError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка при одобрении ресурса",
		}
	}

	s.mirrorApproved(rec)

	middleware.OperationsTotal.WithLabelValues("approve", "success").Inc()

	s.logger.Info("Ресурс одобрен",
		slog.String("id", rec.ID),
		slog.String("storage_id", rec.StorageID),
		slog.String("filename", rec.Filename),
	)

	return rec, nil
}

// mirrorApproved переносит approved=true из каталога в attr.json и индекс.
// Best-effort: рассинхронизация чинится при следующем approve или
// пересборке индекса, скачивание до этого момента вернёт 403.
func (s *ResourceService) mirrorApproved(rec *model.ResourceRecord) {
	attrPath := attr.AttrFilePath(s.store.FullPath(rec.StoragePath))

	a, err := attr.Read(attrPath)
	if err != nil {
		s.logger.Error("Не удалось прочитать attr.json для зеркалирования approved",
			slog.String("id", rec.ID),
			slog.String("storage_path", rec.StoragePath),
			slog.String("error", err.Error()),
		)
		return
	}

	a.Metadata.Approved = true
	if err := attr.Write(attrPath, a); err != nil {
		s.logger.Error("Не удалось записать attr.json с approved=true",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.idx.Update(a); err != nil {
		// Blob мог отсутствовать в индексе (пересборка после рестарта) — добавляем
		s.idx.Add(a)
	}
}

// Delete удаляет ресурс: запись каталога, blob, attr.json и индекс.
// Очистка диска — best-effort: осиротевший blob без записи каталога
// безопасен (не виден ни в одном листинге) и будет вычищен вручную.
func (s *ResourceService) Delete(ctx context.Context, id string) *ResourceError {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &ResourceError{
				StatusCode: 404,
				Code:       apierrors.CodeNotFound,
				Message:    fmt.Sprintf("Ресурс %s не найден", id),
			}
		}
		s.logger.Error("Ошибка чтения ресурса перед удалением",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return &ResourceError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка при удалении ресурса",
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Error("Ошибка удаления записи каталога",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return &ResourceError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка при удалении ресурса",
		}
	}

	// Best-effort очистка диска и индекса
	if err := s.store.Delete(rec.StoragePath); err != nil {
		s.logger.Error("Ошибка удаления blob'а",
			slog.String("id", id),
			slog.String("storage_path", rec.StoragePath),
			slog.String("error", err.Error()),
		)
	}
	if err := attr.Delete(attr.AttrFilePath(s.store.FullPath(rec.StoragePath))); err != nil {
		s.logger.Error("Ошибка удаления attr.json",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}
	s.idx.Remove(rec.StorageID)

	middleware.OperationsTotal.WithLabelValues("delete", "success").Inc()

	s.logger.Info("Ресурс удалён",
		slog.String("id", id),
		slog.String("storage_id", rec.StorageID),
		slog.String("filename", rec.Filename),
	)

	return nil
}
