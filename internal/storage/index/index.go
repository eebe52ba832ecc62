// Пакет index — потокобезопасный in-memory индекс метаданных blob'ов.
//
// Индекс строится при старте из attr.json файлов (BuildFromDir)
// и обновляется синхронно при загрузке, одобрении и удалении ресурсов.
// Обеспечивает быстрый публичный листинг и поиск по имени файла
// без обращения к диску и к каталогу.
//
// Не персистентный: при рестарте пересобирается из attr.json.
package index

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bigkaa/paperstore/internal/domain/model"
	"github.com/bigkaa/paperstore/internal/storage/attr"
)

// Index — потокобезопасный in-memory индекс метаданных.
// Использует sync.RWMutex для конкурентного чтения и
// эксклюзивной записи.
type Index struct {
	mu     sync.RWMutex
	blobs  map[string]*model.BlobAttr // storage_id → attr
	ready  bool                       // индекс построен и готов
	logger *slog.Logger
}

// New создаёт пустой индекс. Для заполнения вызовите BuildFromDir.
func New(logger *slog.Logger) *Index {
	return &Index{
		blobs:  make(map[string]*model.BlobAttr),
		logger: logger.With(slog.String("component", "index")),
	}
}

// BuildFromDir строит индекс из attr.json файлов в bucket-директории.
// Вызывается при старте сервера. Заменяет текущее содержимое индекса.
// После успешного построения индекс помечается как ready.
func (idx *Index) BuildFromDir(bucketDir string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	attrs, err := attr.ScanDir(bucketDir)
	if err != nil {
		return fmt.Errorf("ошибка сканирования директории %s: %w", bucketDir, err)
	}

	// Очищаем текущий индекс и заполняем новыми данными
	idx.blobs = make(map[string]*model.BlobAttr, len(attrs))
	for _, a := range attrs {
		idx.blobs[a.StorageID] = a
	}

	idx.ready = true

	idx.logger.Info("Индекс метаданных построен",
		slog.Int("blobs", len(idx.blobs)),
		slog.String("bucket_dir", bucketDir),
	)

	return nil
}

// IsReady возвращает true, если индекс построен и готов к использованию.
func (idx *Index) IsReady() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Add добавляет метаданные blob'а в индекс.
// Если blob с таким storage_id уже существует, он будет перезаписан.
func (idx *Index) Add(a *model.BlobAttr) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	// Создаём копию, чтобы избежать data race при внешних изменениях
	copied := *a
	idx.blobs[a.StorageID] = &copied
}

// Update обновляет метаданные blob'а в индексе.
// Возвращает ошибку, если blob не найден.
func (idx *Index) Update(a *model.BlobAttr) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.blobs[a.StorageID]; !ok {
		return fmt.Errorf("blob %s не найден в индексе", a.StorageID)
	}

	copied := *a
	idx.blobs[a.StorageID] = &copied
	return nil
}

// Remove удаляет blob из индекса по storage_id.
// Возвращает true, если blob был найден и удалён.
func (idx *Index) Remove(storageID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.blobs[storageID]; !ok {
		return false
	}
	delete(idx.blobs, storageID)
	return true
}

// Get возвращает метаданные blob'а по storage_id.
// Возвращает nil, если blob не найден.
func (idx *Index) Get(storageID string) *model.BlobAttr {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	a, ok := idx.blobs[storageID]
	if !ok {
		return nil
	}

	// Возвращаем копию для потокобезопасности
	copied := *a
	return &copied
}

// FindByFilename ищет blob по оригинальному имени файла.
// Имена не уникальны: при нескольких совпадениях возвращается
// самый свежий по дате загрузки. Возвращает nil, если не найден.
func (idx *Index) FindByFilename(filename string) *model.BlobAttr {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var newest *model.BlobAttr
	for _, a := range idx.blobs {
		if a.Filename != filename {
			continue
		}
		if newest == nil || a.UploadDate.After(newest.UploadDate) {
			newest = a
		}
	}

	if newest == nil {
		return nil
	}
	copied := *newest
	return &copied
}

// ListApproved возвращает метаданные всех одобренных blob'ов,
// отсортированные по дате загрузки (новые первые).
// Неодобренные ресурсы в публичный листинг не попадают.
func (idx *Index) ListApproved() []*model.BlobAttr {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var approved []*model.BlobAttr
	for _, a := range idx.blobs {
		if !a.IsApproved() {
			continue
		}
		copied := *a
		approved = append(approved, &copied)
	}

	sort.Slice(approved, func(i, j int) bool {
		return approved[i].UploadDate.After(approved[j].UploadDate)
	})

	return approved
}

// Count возвращает общее количество blob'ов в индексе.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.blobs)
}

// CountApproved возвращает количество одобренных blob'ов.
func (idx *Index) CountApproved() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	count := 0
	for _, a := range idx.blobs {
		if a.IsApproved() {
			count++
		}
	}
	return count
}
