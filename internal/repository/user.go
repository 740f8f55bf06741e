package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/golexstore/internal/domain/model"
)

// UserRepository — интерфейс доступа к таблице users.
type UserRepository interface {
	// Create создаёт пользователя.
	Create(ctx context.Context, u *model.User) error
	// Upsert создаёт пользователя или обновляет профиль (email, name)
	// существующего. Роль и tier при обновлении не трогаются.
	Upsert(ctx context.Context, u *model.User) error
	// GetByID возвращает пользователя по идентификатору.
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetRole возвращает роль пользователя. Читается свежей при каждом
	// вызове — роль для мутирующих операций не кэшируется.
	GetRole(ctx context.Context, id string) (model.Role, error)
	// GetTier возвращает текущий уровень подписки.
	// nil — подписки нет.
	GetTier(ctx context.Context, id string) (*model.Tier, error)
	// UpdateTier обновляет уровень подписки пользователя.
	UpdateTier(ctx context.Context, id string, tier model.Tier) error
	// ClearTier сбрасывает уровень подписки (после возврата средств
	// или истечения подписки).
	ClearTier(ctx context.Context, id string) error
	// ClearTierStale сбрасывает tier указанным пользователям, у которых
	// не осталось действующих подписок. Возвращает количество затронутых.
	ClearTierStale(ctx context.Context, userIDs []string) (int64, error)
}

// userRepo — реализация UserRepository через pgx.
type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (id, email, name, role, subscription_tier)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	var tier *string
	if u.SubscriptionTier != nil {
		t := string(*u.SubscriptionTier)
		tier = &t
	}

	err := r.db.QueryRow(ctx, query, u.ID, u.Email, u.Name, string(u.Role), tier).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: пользователь с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return nil
}

func (r *userRepo) Upsert(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (id, email, name, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, name = EXCLUDED.name, updated_at = now()
		RETURNING created_at, updated_at`

	role := u.Role
	if role == "" {
		role = model.RoleUser
	}

	err := r.db.QueryRow(ctx, query, u.ID, u.Email, u.Name, string(role)).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка upsert пользователя: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `
		SELECT id, email, name, role, subscription_tier, created_at, updated_at
		FROM users
		WHERE id = $1`

	u := &model.User{}
	var role string
	var tier *string

	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.Name, &role, &tier, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}

	u.Role = model.Role(role)
	if tier != nil {
		t := model.Tier(*tier)
		u.SubscriptionTier = &t
	}
	return u, nil
}

func (r *userRepo) GetRole(ctx context.Context, id string) (model.Role, error) {
	var role string
	err := r.db.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, id).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка получения роли: %w", err)
	}
	return model.Role(role), nil
}

func (r *userRepo) GetTier(ctx context.Context, id string) (*model.Tier, error) {
	var tier *string
	err := r.db.QueryRow(ctx, `SELECT subscription_tier FROM users WHERE id = $1`, id).Scan(&tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения tier: %w", err)
	}
	if tier == nil {
		return nil, nil
	}
	t := model.Tier(*tier)
	return &t, nil
}

func (r *userRepo) UpdateTier(ctx context.Context, id string, tier model.Tier) error {
	query := `
		UPDATE users
		SET subscription_tier = $2, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, string(tier))
	if err != nil {
		return fmt.Errorf("ошибка обновления tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) ClearTierStale(ctx context.Context, userIDs []string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE users u
		SET subscription_tier = NULL, updated_at = now()
		WHERE u.id = ANY($1::uuid[])
		  AND NOT EXISTS (
			SELECT 1 FROM subscriptions s
			WHERE s.user_id = u.id AND s.status = 'active' AND s.end_date > now()
		  )`

	tag, err := r.db.Exec(ctx, query, userIDs)
	if err != nil {
		return 0, fmt.Errorf("ошибка массового сброса tier: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *userRepo) ClearTier(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET subscription_tier = NULL, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("ошибка сброса tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
