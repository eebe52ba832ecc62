package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigkaa/paperstore/internal/config"
	"github.com/bigkaa/paperstore/internal/domain/model"
	"github.com/bigkaa/paperstore/internal/repository"
	"github.com/bigkaa/paperstore/internal/service"
	"github.com/bigkaa/paperstore/internal/storage/blobstore"
	"github.com/bigkaa/paperstore/internal/storage/index"
)

// stubResourceRepo — минимальная in-memory реализация ResourceRepository.
type stubResourceRepo struct {
	records map[string]*model.ResourceRecord
}

func newStubResourceRepo() *stubResourceRepo {
	return &stubResourceRepo{records: make(map[string]*model.ResourceRecord)}
}

func (s *stubResourceRepo) Create(_ context.Context, rec *model.ResourceRecord) (string, error) {
	id := "rec-1"
	rec.ID = id
	copied := *rec
	s.records[id] = &copied
	return id, nil
}

func (s *stubResourceRepo) GetByID(_ context.Context, id string) (*model.ResourceRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (s *stubResourceRepo) ListAll(_ context.Context) ([]*model.ResourceRecord, error) {
	var result []*model.ResourceRecord
	for _, rec := range s.records {
		copied := *rec
		result = append(result, &copied)
	}
	return result, nil
}

func (s *stubResourceRepo) Approve(_ context.Context, id string) (*model.ResourceRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	rec.Status = model.StatusApproved
	rec.Metadata.Approved = true
	copied := *rec
	return &copied, nil
}

func (s *stubResourceRepo) Delete(_ context.Context, id string) error {
	if _, ok := s.records[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

type stubUserRepo struct{}

func (stubUserRepo) Upsert(_ context.Context, subject, _, _ string) (string, error) {
	return "owner-" + subject, nil
}

// newFilesFixture собирает FilesHandler поверх временной директории.
func newFilesFixture(t *testing.T, maxFileSize int64) *FilesHandler {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{MaxFileSize: maxFileSize}

	store, err := blobstore.New(t.TempDir(), "uploads")
	if err != nil {
		t.Fatalf("ошибка создания blobstore: %v", err)
	}
	idx := index.New(logger)
	repo := newStubResourceRepo()

	uploads := service.NewUploadService(cfg, store, idx, repo, stubUserRepo{}, logger)
	downloads := service.NewDownloadService(store, idx, logger)
	resources := service.NewResourceService(repo, store, idx, logger)

	return NewFilesHandler(cfg, uploads, downloads, resources, logger)
}

// buildMultipart собирает multipart-тело с файлом и учебными полями.
func buildMultipart(t *testing.T, fileContent []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="file"; filename="os_final.pdf"`}
	hdr["Content-Type"] = []string{"application/pdf"}
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("ошибка создания part: %v", err)
	}
	if _, err := part.Write(fileContent); err != nil {
		t.Fatalf("ошибка записи содержимого: %v", err)
	}

	fields := map[string]string{
		"year": "2024", "branch": "cs", "subject": "OS",
		"examType": "final", "course": "CS201",
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatalf("ошибка записи поля %s: %v", name, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("ошибка закрытия multipart: %v", err)
	}

	return body, mw.FormDataContentType()
}

func TestUploadHandler_Success(t *testing.T) {
	h := newFilesFixture(t, 1024)

	body, contentType := buildMultipart(t, []byte("содержимое файла"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Статус: хотели 201, получили %d; тело: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Message string `json:"message"`
		File    struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"file"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ошибка разбора ответа: %v", err)
	}
	if resp.File.Status != "pending" {
		t.Errorf("статус нового ресурса = %q, ожидался pending", resp.File.Status)
	}
	if resp.File.ID == "" || resp.Message == "" {
		t.Errorf("ответ неполон: %s", rec.Body.String())
	}
}

func TestUploadHandler_BodyOverLimitReturnsFileTooLarge(t *testing.T) {
	// Лимит 1 КиБ; MaxBytesReader срезает тело на лимите + запас на поля формы.
	// Тело заметно больше запаса, поэтому FormFile упадёт на срезанном чтении.
	h := newFilesFixture(t, 1024)

	oversized := bytes.Repeat([]byte("x"), 2<<20)
	body, contentType := buildMultipart(t, oversized)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Статус: хотели 400, получили %d", rec.Code)
	}

	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ошибка разбора ответа: %v", err)
	}
	if resp.Error.Code != "FILE_TOO_LARGE" {
		t.Errorf("код ошибки = %q, ожидался FILE_TOO_LARGE; сообщение: %q",
			resp.Error.Code, resp.Error.Message)
	}
}
