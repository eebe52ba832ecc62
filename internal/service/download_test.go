package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/paperstore/internal/domain/model"
	"github.com/bigkaa/paperstore/internal/storage/blobstore"
	"github.com/bigkaa/paperstore/internal/storage/index"
)

// seedBlob сохраняет файл в store и регистрирует его в индексе.
func seedBlob(t *testing.T, store *blobstore.BlobStore, idx *index.Index, filename, content string, approved bool, uploaded time.Time) *model.BlobAttr {
	t.Helper()

	saved, err := store.Save(strings.NewReader(content), filename, 1<<20)
	if err != nil {
		t.Fatalf("ошибка сохранения blob'а: %v", err)
	}

	a := &model.BlobAttr{
		StorageID:   "sid-" + saved.StoragePath,
		Filename:    filename,
		StoragePath: saved.StoragePath,
		ContentType: "application/pdf",
		Size:        saved.Size,
		Checksum:    saved.Checksum,
		UploadDate:  uploaded,
		Metadata: model.ResourceMetadata{
			Subject:  "OS",
			Year:     "2024",
			Branch:   "cs",
			Course:   "CS201",
			ExamType: "final",
			Approved: approved,
			MimeType: "application/pdf",
			FileSize: saved.Size,
		},
	}
	idx.Add(a)
	return a
}

func newDownloadFixture(t *testing.T) (*DownloadService, *blobstore.BlobStore, *index.Index) {
	t.Helper()

	store, err := blobstore.New(t.TempDir(), "uploads")
	if err != nil {
		t.Fatalf("ошибка создания blobstore: %v", err)
	}
	idx := index.New(testLogger())
	return NewDownloadService(store, idx, testLogger()), store, idx
}

func TestListPublic_ExcludesPending(t *testing.T) {
	svc, store, idx := newDownloadFixture(t)
	base := time.Now().UTC()

	seedBlob(t, store, idx, "approved_old.pdf", "старый", true, base)
	seedBlob(t, store, idx, "pending.pdf", "на модерации", false, base.Add(time.Minute))
	seedBlob(t, store, idx, "approved_new.pdf", "новый", true, base.Add(2*time.Minute))

	list := svc.ListPublic()
	if len(list) != 2 {
		t.Fatalf("ListPublic вернул %d ресурсов, ожидалось 2", len(list))
	}
	// Новые первые
	if list[0].Filename != "approved_new.pdf" || list[1].Filename != "approved_old.pdf" {
		t.Errorf("порядок = [%s, %s], ожидался [approved_new.pdf, approved_old.pdf]",
			list[0].Filename, list[1].Filename)
	}
	for _, r := range list {
		if !r.Metadata.Approved {
			t.Errorf("ресурс %s в публичном списке должен быть approved", r.Filename)
		}
	}
}

func TestListPublic_Empty(t *testing.T) {
	svc, _, _ := newDownloadFixture(t)

	if list := svc.ListPublic(); len(list) != 0 {
		t.Errorf("пустой индекс должен давать пустой список, получено %d", len(list))
	}
}

func TestServe_Approved(t *testing.T) {
	svc, store, idx := newDownloadFixture(t)
	content := "содержимое экзаменационной работы"
	seedBlob(t, store, idx, "os_final.pdf", content, true, time.Now().UTC())

	req := httptest.NewRequest(http.MethodGet, "/api/files/download/os_final.pdf", nil)
	rec := httptest.NewRecorder()

	if derr := svc.Serve(rec, req, "os_final.pdf"); derr != nil {
		t.Fatalf("Serve вернул ошибку: %v", derr)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("код = %d, ожидался 200", rec.Code)
	}
	if got := rec.Body.String(); got != content {
		t.Errorf("тело = %q, ожидалось %q", got, content)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, "os_final.pdf") {
		t.Errorf("Content-Disposition = %q, ожидался attachment с именем файла", cd)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q, ожидался application/pdf", ct)
	}
}

func TestServe_NotFound(t *testing.T) {
	svc, _, _ := newDownloadFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/files/download/missing.pdf", nil)
	rec := httptest.NewRecorder()

	derr := svc.Serve(rec, req, "missing.pdf")
	if derr == nil {
		t.Fatal("ожидалась ошибка для несуществующего файла")
	}
	if derr.StatusCode != 404 {
		t.Errorf("StatusCode = %d, ожидался 404", derr.StatusCode)
	}
}

func TestServe_PendingForbidden(t *testing.T) {
	svc, store, idx := newDownloadFixture(t)
	seedBlob(t, store, idx, "pending.pdf", "не одобрено", false, time.Now().UTC())

	req := httptest.NewRequest(http.MethodGet, "/api/files/download/pending.pdf", nil)
	rec := httptest.NewRecorder()

	derr := svc.Serve(rec, req, "pending.pdf")
	if derr == nil {
		t.Fatal("ожидалась ошибка для неодобренного файла")
	}
	if derr.StatusCode != 403 {
		t.Errorf("StatusCode = %d, ожидался 403 (а не 404)", derr.StatusCode)
	}
}

func TestServe_NewestWinsForDuplicateNames(t *testing.T) {
	svc, store, idx := newDownloadFixture(t)
	base := time.Now().UTC()

	seedBlob(t, store, idx, "dup.pdf", "старая версия", true, base)
	seedBlob(t, store, idx, "dup.pdf", "новая версия", true, base.Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/api/files/download/dup.pdf", nil)
	rec := httptest.NewRecorder()

	if derr := svc.Serve(rec, req, "dup.pdf"); derr != nil {
		t.Fatalf("Serve вернул ошибку: %v", derr)
	}
	if got := rec.Body.String(); got != "новая версия" {
		t.Errorf("тело = %q, ожидалась самая свежая версия", got)
	}
}

func TestServe_MissingOnDisk(t *testing.T) {
	svc, store, idx := newDownloadFixture(t)
	a := seedBlob(t, store, idx, "ghost.pdf", "скоро исчезну", true, time.Now().UTC())

	// Файл удалён с диска, но остался в индексе
	if err := store.Delete(a.StoragePath); err != nil {
		t.Fatalf("ошибка удаления blob'а: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/files/download/ghost.pdf", nil)
	rec := httptest.NewRecorder()

	derr := svc.Serve(rec, req, "ghost.pdf")
	if derr == nil {
		t.Fatal("ожидалась ошибка для файла, отсутствующего на диске")
	}
	if derr.StatusCode != 404 {
		t.Errorf("StatusCode = %d, ожидался 404", derr.StatusCode)
	}
}
