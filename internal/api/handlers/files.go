// files.go — HTTP-обработчики операций с ресурсами:
// загрузка, листинги, скачивание, модерация, удаление.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/paperstore/internal/api/errors"
	"github.com/bigkaa/paperstore/internal/api/middleware"
	"github.com/bigkaa/paperstore/internal/config"
	"github.com/bigkaa/paperstore/internal/domain/model"
	"github.com/bigkaa/paperstore/internal/service"
)

// FilesHandler — обработчики endpoints работы с ресурсами.
type FilesHandler struct {
	cfg       *config.Config
	uploads   *service.UploadService
	downloads *service.DownloadService
	resources *service.ResourceService
	logger    *slog.Logger
}

// NewFilesHandler создаёт обработчик операций с ресурсами.
func NewFilesHandler(
	cfg *config.Config,
	uploads *service.UploadService,
	downloads *service.DownloadService,
	resources *service.ResourceService,
	logger *slog.Logger,
) *FilesHandler {
	return &FilesHandler{
		cfg:       cfg,
		uploads:   uploads,
		downloads: downloads,
		resources: resources,
		logger:    logger.With(slog.String("component", "files_handler")),
	}
}

// writeJSON сериализует ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// Upload обрабатывает POST /api/upload (multipart/form-data).
// Поле file — содержимое, остальные поля формы — учебные метаданные.
// Аутентификация необязательна: анонимные загрузки допустимы.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Ограничиваем размер тела запроса: multipart-обвязка
	// плюс небольшой запас на текстовые поля формы
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		// Срезанное MaxBytesReader тело — это превышение размера, не отсутствие файла
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.FileTooLarge(w,
				fmt.Sprintf("Размер файла превышает максимум %d байт", h.cfg.MaxFileSize))
			return
		}
		apierrors.ValidationError(w, "Файл не передан")
		return
	}
	defer file.Close()

	params := service.UploadParams{
		Reader:           file,
		OriginalFilename: header.Filename,
		ContentType:      header.Header.Get("Content-Type"),
		Size:             header.Size,
		Identity:         middleware.IdentityFromContext(r.Context()),
		Year:             r.FormValue("year"),
		Branch:           r.FormValue("branch"),
		Subject:          r.FormValue("subject"),
		ExamType:         r.FormValue("examType"),
		Course:           r.FormValue("course"),
		Description:      r.FormValue("description"),
	}

	result, uerr := h.uploads.Upload(r.Context(), params)
	if uerr != nil {
		apierrors.WriteError(w, uerr.StatusCode, uerr.Code, uerr.Message)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Файл загружен и ожидает модерации",
		"file":    result,
	})
}

// ListPublic обрабатывает GET /api/files.
// Возвращает только одобренные ресурсы, новые первые.
func (h *FilesHandler) ListPublic(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.downloads.ListPublic())
}

// ListAdmin обрабатывает GET /api/files/resources.
// Возвращает весь каталог, включая pending, с email владельцев.
// Требует аутентификации (middleware.Required).
func (h *FilesHandler) ListAdmin(w http.ResponseWriter, r *http.Request) {
	records, rerr := h.resources.ListAdmin(r.Context())
	if rerr != nil {
		apierrors.WriteError(w, rerr.StatusCode, rerr.Code, rerr.Message)
		return
	}
	if records == nil {
		records = []*model.ResourceRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Download обрабатывает GET /api/files/download/{filename}.
// Отдаёт только одобренные файлы; pending возвращает 403.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" {
		apierrors.ValidationError(w, "Имя файла не указано")
		return
	}

	if derr := h.downloads.Serve(w, r, filename); derr != nil {
		apierrors.WriteError(w, derr.StatusCode, derr.Code, derr.Message)
	}
}

// Approve обрабатывает PATCH /api/files/approve/{id}.
// Требует аутентификации. Идемпотентен.
func (h *FilesHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор ресурса")
		return
	}

	rec, rerr := h.resources.Approve(r.Context(), id)
	if rerr != nil {
		apierrors.WriteError(w, rerr.StatusCode, rerr.Code, rerr.Message)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Ресурс одобрен",
		"resource": rec,
	})
}

// Delete обрабатывает DELETE /api/files/delete/{id}.
// Требует аутентификации. Удаляет запись каталога, blob и attr.json.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор ресурса")
		return
	}

	if rerr := h.resources.Delete(r.Context(), id); rerr != nil {
		apierrors.WriteError(w, rerr.StatusCode, rerr.Code, rerr.Message)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Ресурс удалён",
	})
}
