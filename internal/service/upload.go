// Пакет service — бизнес-логика Paperstore.
// upload.go — сервис загрузки учебных материалов.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/bigkaa/paperstore/internal/api/errors"
	"github.com/bigkaa/paperstore/internal/api/middleware"
	"github.com/bigkaa/paperstore/internal/config"
	"github.com/bigkaa/paperstore/internal/domain/model"
	"github.com/bigkaa/paperstore/internal/repository"
	"github.com/bigkaa/paperstore/internal/storage/attr"
	"github.com/bigkaa/paperstore/internal/storage/blobstore"
	"github.com/bigkaa/paperstore/internal/storage/index"
)

// allowedMimeTypes — whitelist MIME-типов загружаемых материалов:
// PDF, Word (старый и новый формат), изображения.
var allowedMimeTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// UploadParams — параметры загрузки ресурса.
type UploadParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// OriginalFilename — оригинальное имя файла
	OriginalFilename string
	// ContentType — MIME-тип файла (из multipart part)
	ContentType string
	// Size — заявленный размер файла (из multipart part)
	Size int64

	// Identity — кто загружает; анонимная загрузка допустима
	Identity middleware.Identity

	// Учебные метаданные. Year, Branch, Subject, ExamType и Course обязательны.
	Year        string
	Branch      string
	Subject     string
	ExamType    string
	Course      string
	Description string
}

// UploadResult — результат загрузки ресурса.
type UploadResult struct {
	// RecordID — идентификатор записи каталога
	RecordID string `json:"id"`
	// Filename — оригинальное имя файла
	Filename string `json:"filename"`
	// StorageID — идентификатор blob'а в хранилище
	StorageID string `json:"storage_id"`
	// Status — статус нового ресурса (всегда pending)
	Status model.ResourceStatus `json:"status"`
}

// UploadError — ошибка загрузки с HTTP-кодом.
type UploadError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UploadService — сервис загрузки ресурсов.
type UploadService struct {
	cfg    *config.Config
	store  *blobstore.BlobStore
	idx    *index.Index
	repo   repository.ResourceRepository
	users  repository.UserRepository
	logger *slog.Logger
}

// NewUploadService создаёт сервис загрузки ресурсов.
func NewUploadService(
	cfg *config.Config,
	store *blobstore.BlobStore,
	idx *index.Index,
	repo repository.ResourceRepository,
	users repository.UserRepository,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		cfg:    cfg,
		store:  store,
		idx:    idx,
		repo:   repo,
		users:  users,
		logger: logger.With(slog.String("component", "upload_service")),
	}
}

// validate проверяет параметры загрузки в фиксированном порядке:
// наличие файла → размер → MIME-тип → обязательные поля метаданных.
// Сообщение об отсутствующем поле называет конкретное поле.
// Метаданные нормализуются: обрезаются краевые пробелы, поле из одних
// пробелов считается пустым. Сохраняются уже обрезанные значения.
func (s *UploadService) validate(params *UploadParams) *UploadError {
	params.Year = strings.TrimSpace(params.Year)
	params.Branch = strings.TrimSpace(params.Branch)
	params.Subject = strings.TrimSpace(params.Subject)
	params.ExamType = strings.TrimSpace(params.ExamType)
	params.Course = strings.TrimSpace(params.Course)
	params.Description = strings.TrimSpace(params.Description)

	if params.Reader == nil || params.OriginalFilename == "" {
		return &UploadError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    "Файл не передан",
		}
	}

	if params.Size > s.cfg.MaxFileSize {
		return &UploadError{
			StatusCode: 400,
			Code:       apierrors.CodeFileTooLarge,
			Message:    fmt.Sprintf("Размер файла %d байт превышает максимум %d байт", params.Size, s.cfg.MaxFileSize),
		}
	}

	if !allowedMimeTypes[params.ContentType] {
		return &UploadError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    fmt.Sprintf("Недопустимый тип файла %s: разрешены PDF, Word и изображения", params.ContentType),
		}
	}

	// Порядок проверки полей фиксирован, чтобы ответ был детерминирован
	required := []struct {
		name  string
		value string
	}{
		{"year", params.Year},
		{"branch", params.Branch},
		{"subject", params.Subject},
		{"examType", params.ExamType},
		{"course", params.Course},
	}
	for _, f := range required {
		if f.value == "" {
			return &UploadError{
				StatusCode: 400,
				Code:       apierrors.CodeValidationError,
				Message:    fmt.Sprintf("Отсутствует обязательное поле %s", f.name),
			}
		}
	}

	return nil
}

// Upload загружает ресурс: blob на диск, attr.json рядом, запись в каталог.
//
// Поток:
//  1. Валидация параметров
//  2. Резолв владельца (upsert в users, nil для анонима)
//  3. Сохранение blob'а (streaming + SHA-256, atomic rename)
//  4. Запись attr.json (approved=false)
//  5. index.Add
//  6. Запись в каталог (status=pending)
//
// Каталог и диск не связаны транзакцией: при ошибке записи в каталог
// выполняется компенсирующее удаление blob'а, attr.json и записи индекса.
func (s *UploadService) Upload(ctx context.Context, params UploadParams) (*UploadResult, *UploadError) {
	if uerr := s.validate(&params); uerr != nil {
		return nil, uerr
	}

	// Резолвим владельца. Ошибка резолва не блокирует загрузку:
	// ресурс сохраняется как анонимный.
	var ownerID *string
	if !params.Identity.IsAnonymous() {
		id, err := s.users.Upsert(ctx, params.Identity.Subject, params.Identity.Email, params.Identity.Name)
		if err != nil {
			s.logger.Warn("Не удалось зарегистрировать владельца, загрузка продолжается анонимно",
				slog.String("subject", params.Identity.Subject),
				slog.String("error", err.Error()),
			)
		} else {
			ownerID = &id
		}
	}

	storageID := uuid.New().String()

	// Сохраняем blob. LimitReader внутри Save отсекает поток,
	// превысивший лимит несмотря на заявленный размер.
	saved, err := s.store.Save(params.Reader, params.OriginalFilename, s.cfg.MaxFileSize)
	if err != nil {
		if err == blobstore.ErrPayloadTooLarge {
			return nil, &UploadError{
				StatusCode: 400,
				Code:       apierrors.CodeFileTooLarge,
				Message:    fmt.Sprintf("Размер файла превышает максимум %d байт", s.cfg.MaxFileSize),
			}
		}
		s.logger.Error("Ошибка сохранения blob'а", slog.String("error", err.Error()))
		return nil, &UploadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка при сохранении файла",
		}
	}

	blobAttr := &model.BlobAttr{
		StorageID:   storageID,
		Filename:    params.OriginalFilename,
		StoragePath: saved.StoragePath,
		ContentType: params.ContentType,
		Size:        saved.Size,
		Checksum:    saved.Checksum,
		UploadDate:  time.Now().UTC(),
		Metadata: model.ResourceMetadata{
			Subject:     params.Subject,
			Year:        params.Year,
			Branch:      params.Branch,
			Course:      params.Course,
			ExamType:    params.ExamType,
			Description: params.Description,
			Approved:    false,
			UploadedBy:  ownerID,
			MimeType:    params.ContentType,
			FileSize:    saved.Size,
		},
	}

	// Компенсирующая очистка диска и индекса при ошибке каталога
	cleanup := func() {
		if rmErr := s.store.Delete(saved.StoragePath); rmErr != nil {
			s.logger.Error("Ошибка компенсирующего удаления blob'а",
				slog.String("storage_path", saved.StoragePath),
				slog.String("error", rmErr.Error()),
			)
		}
		if rmErr := attr.Delete(attr.AttrFilePath(saved.FullPath)); rmErr != nil {
			s.logger.Error("Ошибка компенсирующего удаления attr.json",
				slog.String("storage_path", saved.StoragePath),
				slog.String("error", rmErr.Error()),
			)
		}
		s.idx.Remove(storageID)
	}

	if err := attr.Write(attr.AttrFilePath(saved.FullPath), blobAttr); err != nil {
		s.logger.Error("Ошибка записи attr.json", slog.String("error", err.Error()))
		cleanup()
		return nil, &UploadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка при сохранении метаданных",
		}
	}

	s.idx.Add(blobAttr)

	rec := &model.ResourceRecord{
		Filename:    params.OriginalFilename,
		Metadata:    blobAttr.Metadata,
		UploadedBy:  ownerID,
		StorageID:   storageID,
		StoragePath: saved.StoragePath,
		Status:      model.StatusPending,
	}

	recordID, err := s.repo.Create(ctx, rec)
	if err != nil {
		s.logger.Error("Ошибка записи в каталог, выполняется компенсирующая очистка",
			slog.String("storage_id", storageID),
			slog.String("error", err.Error()),
		)
		cleanup()
		return nil, &UploadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка при регистрации ресурса",
		}
	}

	middleware.OperationsTotal.WithLabelValues("upload", "success").Inc()
	middleware.ResourcesTotal.WithLabelValues(string(model.StatusPending)).Inc()

	s.logger.Info("Ресурс загружен",
		slog.String("record_id", recordID),
		slog.String("storage_id", storageID),
		slog.String("filename", params.OriginalFilename),
		slog.Int64("size", saved.Size),
		slog.String("source", string(params.Identity.Source)),
	)

	return &UploadResult{
		RecordID:  recordID,
		Filename:  params.OriginalFilename,
		StorageID: storageID,
		Status:    model.StatusPending,
	}, nil
}
