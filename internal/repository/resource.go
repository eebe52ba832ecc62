package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/paperstore/internal/domain/model"
)

// resourceColumns — список столбцов таблицы resources для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const resourceColumns = `r.id, r.filename, r.subject, r.year, r.branch, r.course,
	r.exam_type, r.description, r.approved, r.uploaded_by, r.mime_type,
	r.file_size, r.storage_id, r.storage_path, r.status, r.upload_date`

// ResourceRepository — интерфейс доступа к каталогу ресурсов.
type ResourceRepository interface {
	// Create сохраняет новую запись каталога и возвращает её ID.
	Create(ctx context.Context, rec *model.ResourceRecord) (string, error)
	// GetByID возвращает ресурс по UUID или ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.ResourceRecord, error)
	// ListAll возвращает все ресурсы для админ-листинга (новые первые)
	// с email владельца, если он известен.
	ListAll(ctx context.Context) ([]*model.ResourceRecord, error)
	// Approve переводит ресурс в статус approved и выставляет флаг approved.
	// Идемпотентен. Возвращает обновлённую запись или ErrNotFound.
	Approve(ctx context.Context, id string) (*model.ResourceRecord, error)
	// Delete удаляет запись каталога. Возвращает ErrNotFound при отсутствии.
	Delete(ctx context.Context, id string) error
}

// resourceRepo — реализация ResourceRepository через pgx.
type resourceRepo struct {
	db DBTX
}

// NewResourceRepository создаёт репозиторий каталога ресурсов.
func NewResourceRepository(db DBTX) ResourceRepository {
	return &resourceRepo{db: db}
}

// scanResource читает одну строку resources в модель.
func scanResource(row pgx.Row) (*model.ResourceRecord, error) {
	rec := &model.ResourceRecord{}
	err := row.Scan(
		&rec.ID, &rec.Filename,
		&rec.Metadata.Subject, &rec.Metadata.Year, &rec.Metadata.Branch,
		&rec.Metadata.Course, &rec.Metadata.ExamType, &rec.Metadata.Description,
		&rec.Metadata.Approved, &rec.UploadedBy, &rec.Metadata.MimeType,
		&rec.Metadata.FileSize, &rec.StorageID, &rec.StoragePath,
		&rec.Status, &rec.UploadDate,
	)
	if err != nil {
		return nil, err
	}
	rec.Metadata.UploadedBy = rec.UploadedBy
	return rec, nil
}

// Create сохраняет новую запись каталога. ID и upload_date генерирует база.
func (r *resourceRepo) Create(ctx context.Context, rec *model.ResourceRecord) (string, error) {
	query := `
		INSERT INTO resources (filename, subject, year, branch, course, exam_type,
			description, approved, uploaded_by, mime_type, file_size,
			storage_id, storage_path, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, upload_date`

	var id string
	err := r.db.QueryRow(ctx, query,
		rec.Filename, rec.Metadata.Subject, rec.Metadata.Year, rec.Metadata.Branch,
		rec.Metadata.Course, rec.Metadata.ExamType, rec.Metadata.Description,
		rec.Metadata.Approved, rec.UploadedBy, rec.Metadata.MimeType,
		rec.Metadata.FileSize, rec.StorageID, rec.StoragePath, rec.Status,
	).Scan(&id, &rec.UploadDate)
	if err != nil {
		return "", fmt.Errorf("ошибка создания записи каталога: %w", err)
	}

	rec.ID = id
	return id, nil
}

// GetByID возвращает ресурс по UUID или ErrNotFound.
func (r *resourceRepo) GetByID(ctx context.Context, id string) (*model.ResourceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM resources r WHERE r.id = $1`, resourceColumns)

	rec, err := scanResource(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения ресурса: %w", err)
	}
	return rec, nil
}

// ListAll возвращает все ресурсы, новые первые. Email владельца
// резолвится через LEFT JOIN users: для анонимных загрузок он NULL.
func (r *resourceRepo) ListAll(ctx context.Context) ([]*model.ResourceRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s, u.email
		FROM resources r
		LEFT JOIN users u ON u.id = r.uploaded_by
		ORDER BY r.upload_date DESC`, resourceColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка листинга ресурсов: %w", err)
	}
	defer rows.Close()

	var result []*model.ResourceRecord
	for rows.Next() {
		rec := &model.ResourceRecord{}
		err := rows.Scan(
			&rec.ID, &rec.Filename,
			&rec.Metadata.Subject, &rec.Metadata.Year, &rec.Metadata.Branch,
			&rec.Metadata.Course, &rec.Metadata.ExamType, &rec.Metadata.Description,
			&rec.Metadata.Approved, &rec.UploadedBy, &rec.Metadata.MimeType,
			&rec.Metadata.FileSize, &rec.StorageID, &rec.StoragePath,
			&rec.Status, &rec.UploadDate,
			&rec.OwnerEmail,
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения строки ресурса: %w", err)
		}
		rec.Metadata.UploadedBy = rec.UploadedBy
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации по ресурсам: %w", err)
	}

	return result, nil
}

// Approve переводит ресурс в approved. Одним UPDATE выставляются
// status и флаг approved, чтобы они не могли разойтись.
// Повторное одобрение — no-op с тем же результатом.
func (r *resourceRepo) Approve(ctx context.Context, id string) (*model.ResourceRecord, error) {
	query := fmt.Sprintf(`
		UPDATE resources r SET status = 'approved', approved = TRUE
		WHERE r.id = $1
		RETURNING %s`, resourceColumns)

	rec, err := scanResource(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка одобрения ресурса: %w", err)
	}
	return rec, nil
}

// Delete удаляет запись каталога или возвращает ErrNotFound.
func (r *resourceRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM resources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления ресурса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
