// Пакет model — доменные модели Paperstore.
// ResourceRecord — запись каталога ресурсов (PostgreSQL),
// BlobAttr — метаданные бинарного объекта (attr.json на диске).
package model

import (
	"time"
)

// ResourceStatus — статус ресурса в каталоге.
type ResourceStatus string

const (
	// StatusPending — загружен, ожидает модерации
	StatusPending ResourceStatus = "pending"
	// StatusApproved — одобрен, виден в публичном списке и доступен для скачивания
	StatusApproved ResourceStatus = "approved"
	// StatusRejected — отклонён. Перехода в этот статус пока нет:
	// значение зарезервировано в схеме, endpoint модерации ставит только approved.
	StatusRejected ResourceStatus = "rejected"
)

// ResourceMetadata — учебные метаданные ресурса.
// Обязательные поля проверяются Upload Workflow до записи.
type ResourceMetadata struct {
	// Subject — предмет (например "OS")
	Subject string `json:"subject"`
	// Year — курс/год обучения
	Year string `json:"year"`
	// Branch — направление/факультет
	Branch string `json:"branch"`
	// Course — код курса (например "CS201")
	Course string `json:"course"`
	// ExamType — тип экзамена (Midterm, Final и т.д.)
	ExamType string `json:"exam_type"`
	// Description — описание (опционально)
	Description string `json:"description,omitempty"`
	// Approved — флаг одобрения; держится в lockstep со status каталога
	Approved bool `json:"approved"`
	// UploadedBy — идентификатор владельца; nil для анонимной загрузки
	UploadedBy *string `json:"uploaded_by"`
	// MimeType — заявленный MIME-тип файла
	MimeType string `json:"mime_type"`
	// FileSize — размер файла в байтах
	FileSize int64 `json:"file_size"`
}

// ResourceRecord — запись каталога ресурсов.
// Каталог авторитетен для статуса; blob-хранилище держит зеркало
// флага approved в attr.json.
type ResourceRecord struct {
	// ID — идентификатор записи (UUID, генерируется каталогом)
	ID string `json:"id"`

	// Filename — оригинальное имя загруженного файла.
	// Уникальность не гарантируется.
	Filename string `json:"filename"`

	// Metadata — учебные метаданные
	Metadata ResourceMetadata `json:"metadata"`

	// UploadedBy — владелец, продублирован на верхнем уровне; nil для анонима
	UploadedBy *string `json:"uploaded_by"`

	// OwnerEmail — email владельца, резолвится при админ-листинге.
	// Не хранится в таблице resources.
	OwnerEmail *string `json:"uploaded_by_email,omitempty"`

	// StorageID — идентификатор blob'а в хранилище
	StorageID string `json:"storage_id"`

	// StoragePath — имя blob'а на диске (относительно bucket-директории).
	// Внутреннее поле, в API-ответы не входит.
	StoragePath string `json:"-"`

	// UploadDate — дата загрузки, ставится один раз при создании
	UploadDate time.Time `json:"upload_date"`

	// Status — статус модерации
	Status ResourceStatus `json:"status"`
}

// IsApproved проверяет, одобрен ли ресурс.
func (r *ResourceRecord) IsApproved() bool {
	return r.Status == StatusApproved
}

// BlobAttr — метаданные бинарного объекта. Соответствует содержимому attr.json.
type BlobAttr struct {
	// StorageID — идентификатор blob'а (UUID v4)
	StorageID string `json:"storage_id"`

	// Filename — оригинальное имя файла при загрузке
	Filename string `json:"filename"`

	// StoragePath — имя файла на диске (относительно bucket-директории)
	StoragePath string `json:"storage_path"`

	// ContentType — MIME-тип содержимого
	ContentType string `json:"content_type"`

	// Size — размер blob'а в байтах
	Size int64 `json:"size"`

	// Checksum — SHA-256 хэш содержимого
	Checksum string `json:"checksum"`

	// UploadDate — дата и время загрузки (UTC)
	UploadDate time.Time `json:"upload_date"`

	// Metadata — учебные метаданные, включая зеркалируемый флаг approved
	Metadata ResourceMetadata `json:"metadata"`
}

// IsApproved проверяет зеркалируемый флаг одобрения.
func (a *BlobAttr) IsApproved() bool {
	return a.Metadata.Approved
}

// ValidStatus проверяет, является ли строка допустимым статусом ресурса.
func ValidStatus(s string) bool {
	switch ResourceStatus(s) {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}
