package index

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/paperstore/internal/domain/model"
	"github.com/bigkaa/paperstore/internal/storage/attr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBlob(id, filename string, approved bool, uploaded time.Time) *model.BlobAttr {
	return &model.BlobAttr{
		StorageID:   id,
		Filename:    filename,
		StoragePath: filename,
		ContentType: "application/pdf",
		Size:        1024,
		Checksum:    "cafe",
		UploadDate:  uploaded,
		Metadata: model.ResourceMetadata{
			Subject:  "Физика",
			Year:     "2024",
			Branch:   "cs",
			Course:   "2",
			ExamType: "midterm",
			Approved: approved,
		},
	}
}

func TestBuildFromDir(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		a := testBlob(fmt.Sprintf("id-%d", i), fmt.Sprintf("paper_%d.pdf", i), i == 0, now)
		path := filepath.Join(dir, a.StoragePath+attr.AttrSuffix)
		if err := attr.Write(path, a); err != nil {
			t.Fatalf("ошибка записи attr: %v", err)
		}
	}

	idx := New(testLogger())
	if idx.IsReady() {
		t.Error("индекс не должен быть ready до построения")
	}

	if err := idx.BuildFromDir(dir); err != nil {
		t.Fatalf("ошибка построения индекса: %v", err)
	}

	if !idx.IsReady() {
		t.Error("индекс должен быть ready после построения")
	}
	if idx.Count() != 3 {
		t.Errorf("Count = %d, ожидалось 3", idx.Count())
	}
	if idx.CountApproved() != 1 {
		t.Errorf("CountApproved = %d, ожидалось 1", idx.CountApproved())
	}
}

func TestAddGetRemove(t *testing.T) {
	idx := New(testLogger())
	a := testBlob("id-1", "paper.pdf", false, time.Now())

	idx.Add(a)

	got := idx.Get("id-1")
	if got == nil {
		t.Fatal("blob не найден после Add")
	}
	if got.Filename != "paper.pdf" {
		t.Errorf("Filename = %q, ожидалось %q", got.Filename, "paper.pdf")
	}

	// Get возвращает копию: мутация не должна влиять на индекс
	got.Metadata.Approved = true
	if idx.Get("id-1").IsApproved() {
		t.Error("мутация копии не должна менять индекс")
	}

	if !idx.Remove("id-1") {
		t.Error("Remove должен вернуть true для существующего blob'а")
	}
	if idx.Remove("id-1") {
		t.Error("повторный Remove должен вернуть false")
	}
	if idx.Get("id-1") != nil {
		t.Error("blob не должен находиться после удаления")
	}
}

func TestUpdate(t *testing.T) {
	idx := New(testLogger())
	a := testBlob("id-1", "paper.pdf", false, time.Now())

	if err := idx.Update(a); err == nil {
		t.Error("Update несуществующего blob'а должен вернуть ошибку")
	}

	idx.Add(a)
	a.Metadata.Approved = true
	if err := idx.Update(a); err != nil {
		t.Fatalf("ошибка обновления: %v", err)
	}
	if !idx.Get("id-1").IsApproved() {
		t.Error("обновлённый blob должен быть approved")
	}
}

func TestFindByFilenameNewest(t *testing.T) {
	idx := New(testLogger())
	base := time.Now().UTC()

	idx.Add(testBlob("old", "dup.pdf", true, base))
	idx.Add(testBlob("new", "dup.pdf", true, base.Add(time.Hour)))
	idx.Add(testBlob("other", "other.pdf", true, base))

	got := idx.FindByFilename("dup.pdf")
	if got == nil {
		t.Fatal("blob не найден по имени")
	}
	if got.StorageID != "new" {
		t.Errorf("StorageID = %q, ожидался самый свежий %q", got.StorageID, "new")
	}

	if idx.FindByFilename("missing.pdf") != nil {
		t.Error("поиск несуществующего имени должен вернуть nil")
	}
}

func TestListApproved(t *testing.T) {
	idx := New(testLogger())
	base := time.Now().UTC()

	idx.Add(testBlob("a", "a.pdf", true, base))
	idx.Add(testBlob("b", "b.pdf", false, base.Add(time.Minute)))
	idx.Add(testBlob("c", "c.pdf", true, base.Add(2*time.Minute)))

	got := idx.ListApproved()
	if len(got) != 2 {
		t.Fatalf("ListApproved вернул %d, ожидалось 2", len(got))
	}
	// Новые первые
	if got[0].StorageID != "c" || got[1].StorageID != "a" {
		t.Errorf("порядок = [%s, %s], ожидался [c, a]", got[0].StorageID, got[1].StorageID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	idx := New(testLogger())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("id-%d", n)
			idx.Add(testBlob(id, id+".pdf", n%2 == 0, time.Now()))
			idx.Get(id)
			idx.ListApproved()
			idx.Count()
		}(i)
	}
	wg.Wait()

	if idx.Count() != 20 {
		t.Errorf("Count = %d, ожидалось 20", idx.Count())
	}
}
