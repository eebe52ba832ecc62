// Пакет blobstore — операции с бинарными объектами на диске.
// Объекты лежат в bucket-директории внутри корня данных.
// Streaming-запись с подсчётом SHA-256 на лету, чтение, удаление.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrPayloadTooLarge — фактический размер данных превысил заявленный предел.
// Страхует от клиентов, занижающих Content-Length.
var ErrPayloadTooLarge = errors.New("размер данных превышает допустимый предел")

// BlobStore — управление бинарными объектами на диске.
type BlobStore struct {
	// dataDir — корневая директория хранения (PS_DATA_DIR)
	dataDir string
	// bucket — имя bucket-директории внутри dataDir
	bucket string
}

// SaveResult — результат сохранения blob'а на диск.
type SaveResult struct {
	// StoragePath — имя файла относительно bucket-директории
	StoragePath string
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого
	Checksum string
}

// New создаёт новый BlobStore. Создаёт bucket-директорию,
// если она не существует.
func New(dataDir, bucket string) (*BlobStore, error) {
	dir := filepath.Join(dataDir, bucket)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать bucket-директорию %s: %w", dir, err)
	}

	return &BlobStore{dataDir: dataDir, bucket: bucket}, nil
}

// Save записывает данные из reader на диск с подсчётом SHA-256 на лету.
// Формат имени файла: {name}_{timestamp}_{uuid}.{ext}
// maxSize > 0 ограничивает фактический объём данных: при превышении
// запись прерывается, temp файл удаляется, возвращается ErrPayloadTooLarge.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При любой ошибке temp файл удаляется.
func (bs *BlobStore) Save(reader io.Reader, originalFilename string, maxSize int64) (*SaveResult, error) {
	storageName := generateStorageName(originalFilename)
	fullPath := filepath.Join(bs.dataDir, bs.bucket, storageName)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	src := reader
	if maxSize > 0 {
		// +1 байт, чтобы отличить ровно maxSize от превышения
		src = io.LimitReader(reader, maxSize+1)
	}
	tee := io.TeeReader(src, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if maxSize > 0 && size > maxSize {
		f.Close()
		os.Remove(tmpPath)
		return nil, ErrPayloadTooLarge
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		StoragePath: storageName,
		FullPath:    fullPath,
		Size:        size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает blob для чтения и возвращает *os.File.
// storagePath — имя файла относительно bucket-директории.
// Вызывающий код обязан закрыть файл.
func (bs *BlobStore) Open(storagePath string) (*os.File, error) {
	fullPath := bs.FullPath(storagePath)

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob не найден: %s", storagePath)
		}
		return nil, fmt.Errorf("ошибка открытия blob'а %s: %w", storagePath, err)
	}

	return f, nil
}

// FullPath возвращает абсолютный путь blob'а на диске.
func (bs *BlobStore) FullPath(storagePath string) string {
	return filepath.Join(bs.dataDir, bs.bucket, storagePath)
}

// Delete удаляет blob с диска.
// Возвращает nil, если blob уже не существует.
func (bs *BlobStore) Delete(storagePath string) error {
	err := os.Remove(bs.FullPath(storagePath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления blob'а %s: %w", storagePath, err)
	}
	return nil
}

// Exists проверяет существование blob'а на диске.
func (bs *BlobStore) Exists(storagePath string) bool {
	_, err := os.Stat(bs.FullPath(storagePath))
	return err == nil
}

// FileSize возвращает фактический размер blob'а на диске.
func (bs *BlobStore) FileSize(storagePath string) (int64, error) {
	info, err := os.Stat(bs.FullPath(storagePath))
	if err != nil {
		return 0, fmt.Errorf("ошибка получения размера blob'а %s: %w", storagePath, err)
	}
	return info.Size(), nil
}

// ComputeChecksum пересчитывает SHA-256 содержимого blob'а на диске.
func (bs *BlobStore) ComputeChecksum(storagePath string) (string, error) {
	f, err := os.Open(bs.FullPath(storagePath))
	if err != nil {
		return "", fmt.Errorf("ошибка открытия blob'а %s: %w", storagePath, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("ошибка чтения blob'а %s: %w", storagePath, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// BucketDir возвращает путь к bucket-директории.
func (bs *BlobStore) BucketDir() string {
	return filepath.Join(bs.dataDir, bs.bucket)
}

// DataDir возвращает корневую директорию данных.
func (bs *BlobStore) DataDir() string {
	return bs.dataDir
}

// generateStorageName генерирует имя blob'а на диске.
// Формат: {name}_{timestamp}_{uuid}.{ext}
// Пример: syllabus_20260830150405_a1b2c3d4.pdf
// Оригинальное имя файла не уникально, поэтому суффикс обязателен.
func generateStorageName(originalFilename string) string {
	ext := filepath.Ext(originalFilename)
	name := sanitize(strings.TrimSuffix(originalFilename, ext))

	// Ограничиваем длину имени для предотвращения проблем с FS.
	// Срез по рунам: байтовый срез мог бы разрезать кириллицу посередине
	if runes := []rune(name); len(runes) > 50 {
		name = string(runes[:50])
	}

	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8] // Короткий UUID для уникальности

	if ext != "" {
		return fmt.Sprintf("%s_%s_%s%s", name, ts, uid, ext)
	}
	return fmt.Sprintf("%s_%s_%s", name, ts, uid)
}

// sanitize убирает небезопасные символы из строки для использования в имени файла.
// Оставляет только буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' ||
			(r >= 0x0400 && r <= 0x04FF) { // Кириллица
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}
