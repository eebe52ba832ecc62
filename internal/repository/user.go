package repository

import (
	"context"
	"fmt"
)

// UserRepository — доступ к таблице users.
// Пользователи создаются лениво: первая аутентифицированная загрузка
// регистрирует subject токена и возвращает внутренний UUID владельца.
type UserRepository interface {
	// Upsert регистрирует пользователя по subject токена.
	// Email и имя обновляются при каждом вызове (провайдер мог их сменить).
	// Возвращает внутренний UUID пользователя.
	Upsert(ctx context.Context, subject, email, name string) (string, error)
}

// userRepo — реализация UserRepository через pgx.
type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

// Upsert — INSERT ... ON CONFLICT по subject.
func (r *userRepo) Upsert(ctx context.Context, subject, email, name string) (string, error) {
	query := `
		INSERT INTO users (subject, email, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject) DO UPDATE
			SET email = EXCLUDED.email, name = EXCLUDED.name
		RETURNING id`

	var id string
	if err := r.db.QueryRow(ctx, query, subject, email, name).Scan(&id); err != nil {
		return "", fmt.Errorf("ошибка регистрации пользователя: %w", err)
	}
	return id, nil
}
