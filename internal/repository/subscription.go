package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/golexstore/internal/domain/model"
)

// subscriptionColumns — столбцы таблицы subscriptions для SELECT-запросов.
const subscriptionColumns = `id, user_id, plan, status, start_date, end_date,
	amount, currency, auto_renew, metadata, created_at, updated_at`

// SubscriptionRepository — интерфейс доступа к таблице subscriptions.
type SubscriptionRepository interface {
	// Create создаёт запись подписки.
	Create(ctx context.Context, s *model.Subscription) error
	// GetByID возвращает подписку по UUID.
	GetByID(ctx context.Context, id string) (*model.Subscription, error)
	// GetActiveByUser возвращает последнюю действующую подписку пользователя.
	GetActiveByUser(ctx context.Context, userID string) (*model.Subscription, error)
	// ListByUser возвращает все подписки пользователя (новые первыми).
	ListByUser(ctx context.Context, userID string) ([]*model.Subscription, error)
	// UpdateStatus обновляет статус подписки.
	UpdateStatus(ctx context.Context, id string, status model.SubscriptionStatus) error
	// ExpireOverdue переводит просроченные активные подписки в expired
	// и возвращает идентификаторы затронутых пользователей (без дублей).
	ExpireOverdue(ctx context.Context) ([]string, error)
}

// subscriptionRepo — реализация SubscriptionRepository через pgx.
type subscriptionRepo struct {
	db DBTX
}

// NewSubscriptionRepository создаёт репозиторий подписок.
// db может быть как pgxpool.Pool, так и pgx.Tx — Create участвует
// в транзакции вместе с обновлением tier пользователя.
func NewSubscriptionRepository(db DBTX) SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

func (r *subscriptionRepo) Create(ctx context.Context, s *model.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, user_id, plan, status, start_date, end_date,
			amount, currency, auto_renew, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	meta := s.Meta
	if len(meta) == 0 {
		meta = []byte("{}")
	}

	err := r.db.QueryRow(ctx, query,
		s.ID, s.UserID, string(s.Plan), string(s.Status), s.StartDate, s.EndDate,
		s.Amount, s.Currency, s.AutoRenew, meta,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: подписка с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания подписки: %w", err)
	}
	return nil
}

func (r *subscriptionRepo) GetByID(ctx context.Context, id string) (*model.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE id = $1`, subscriptionColumns)

	s, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения подписки: %w", err)
	}
	return s, nil
}

func (r *subscriptionRepo) GetActiveByUser(ctx context.Context, userID string) (*model.Subscription, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM subscriptions
		WHERE user_id = $1 AND status = 'active' AND end_date > now()
		ORDER BY end_date DESC
		LIMIT 1`, subscriptionColumns)

	s, err := scanSubscription(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения активной подписки: %w", err)
	}
	return s, nil
}

func (r *subscriptionRepo) ListByUser(ctx context.Context, userID string) ([]*model.Subscription, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC`, subscriptionColumns)

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения подписок: %w", err)
	}
	defer rows.Close()

	var result []*model.Subscription
	for rows.Next() {
		s, scanErr := scanSubscription(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("ошибка сканирования подписки: %w", scanErr)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *subscriptionRepo) UpdateStatus(ctx context.Context, id string, status model.SubscriptionStatus) error {
	query := `
		UPDATE subscriptions
		SET status = $2, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса подписки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *subscriptionRepo) ExpireOverdue(ctx context.Context) ([]string, error) {
	query := `
		UPDATE subscriptions
		SET status = 'expired', updated_at = now()
		WHERE status = 'active' AND end_date <= now()
		RETURNING user_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка перевода подписок в expired: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var users []string
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, fmt.Errorf("ошибка сканирования user_id: %w", scanErr)
		}
		if !seen[id] {
			seen[id] = true
			users = append(users, id)
		}
	}
	return users, rows.Err()
}

// scanSubscription сканирует строку subscriptions.
func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	var plan, status string
	var meta []byte

	if err := row.Scan(
		&s.ID, &s.UserID, &plan, &status, &s.StartDate, &s.EndDate,
		&s.Amount, &s.Currency, &s.AutoRenew, &meta, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}

	s.Plan = model.Tier(plan)
	s.Status = model.SubscriptionStatus(status)
	s.Meta = meta
	return s, nil
}
