package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/golexstore/internal/domain/model"
)

// paymentColumns — столбцы проекции платежа с данными пользователя
// и способа оплаты. Для платежей без сохранённого способа (мобильные
// деньги до подтверждения) подставляется 'card' как в исходных данных.
const paymentColumns = `p.id, p.user_id, u.name, u.email, p.amount, p.currency,
	p.status, p.type, COALESCE(pm.kind, 'card'), COALESCE(pm.detail, ''), p.created_at`

// PaymentFilters — фильтры списка платежей.
type PaymentFilters struct {
	// UserID — только платежи указанного пользователя.
	UserID string
	// Status — фильтр по статусу (completed, pending, failed, refunded).
	Status string
	// Method — фильтр по виду способа оплаты (card, mobile_money, bank_transfer).
	Method string
	// After, Before — границы по дате платежа.
	After  *time.Time
	Before *time.Time
}

// PaymentRecord — данные для вставки нового платежа.
type PaymentRecord struct {
	ID              string
	UserID          string
	SubscriptionID  *string
	Amount          float64
	Currency        string
	Status          model.PaymentStatus
	Type            model.PaymentType
	PaymentMethodID *string
	GatewayRef      string
}

// PaymentRepository — интерфейс доступа к таблицам payments и payment_methods.
type PaymentRepository interface {
	// Create создаёт запись платежа.
	Create(ctx context.Context, rec *PaymentRecord) error
	// GetByID возвращает платёж по UUID.
	GetByID(ctx context.Context, id string) (*model.Payment, error)
	// List возвращает страницу платежей и общее количество.
	List(ctx context.Context, f PaymentFilters, limit, offset int) ([]*model.Payment, int64, error)
	// UpdateStatus обновляет статус платежа.
	UpdateStatus(ctx context.Context, id string, status model.PaymentStatus) error
	// SubscriptionRef возвращает плательщика и связанную подписку платежа.
	// subscriptionID == nil — платёж не привязан к подписке.
	SubscriptionRef(ctx context.Context, id string) (userID string, subscriptionID *string, err error)
	// CreateMethod сохраняет способ оплаты и возвращает его UUID.
	CreateMethod(ctx context.Context, userID string, kind model.PaymentMethodKind, detail string) (string, error)
}

// paymentRepo — реализация PaymentRepository через pgx.
type paymentRepo struct {
	db DBTX
}

// NewPaymentRepository создаёт репозиторий платежей.
func NewPaymentRepository(db DBTX) PaymentRepository {
	return &paymentRepo{db: db}
}

func (r *paymentRepo) Create(ctx context.Context, rec *PaymentRecord) error {
	query := `
		INSERT INTO payments (id, user_id, subscription_id, amount, currency,
			status, type, payment_method_id, gateway_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.UserID, rec.SubscriptionID, rec.Amount, rec.Currency,
		string(rec.Status), string(rec.Type), rec.PaymentMethodID, rec.GatewayRef,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: платёж с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания платежа: %w", err)
	}
	return nil
}

func (r *paymentRepo) GetByID(ctx context.Context, id string) (*model.Payment, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM payments p
		JOIN users u ON u.id = p.user_id
		LEFT JOIN payment_methods pm ON pm.id = p.payment_method_id
		WHERE p.id = $1`, paymentColumns)

	p, err := scanPayment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения платежа: %w", err)
	}
	return p, nil
}

func (r *paymentRepo) List(ctx context.Context, f PaymentFilters, limit, offset int) ([]*model.Payment, int64, error) {
	where, args := buildPaymentWhere(f)

	countQuery := "SELECT count(*) FROM payments p" + where
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта платежей: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM payments p
		JOIN users u ON u.id = p.user_id
		LEFT JOIN payment_methods pm ON pm.id = p.payment_method_id
		%s
		ORDER BY p.created_at DESC`, paymentColumns, where)

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения списка платежей: %w", err)
	}
	defer rows.Close()

	var result []*model.Payment
	for rows.Next() {
		p, scanErr := scanPayment(rows)
		if scanErr != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования платежа: %w", scanErr)
		}
		result = append(result, p)
	}
	return result, total, rows.Err()
}

func (r *paymentRepo) UpdateStatus(ctx context.Context, id string, status model.PaymentStatus) error {
	query := `
		UPDATE payments
		SET status = $2, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса платежа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *paymentRepo) SubscriptionRef(ctx context.Context, id string) (string, *string, error) {
	var userID string
	var subID *string
	err := r.db.QueryRow(ctx,
		`SELECT user_id, subscription_id FROM payments WHERE id = $1`, id,
	).Scan(&userID, &subID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("ошибка получения ссылок платежа: %w", err)
	}
	return userID, subID, nil
}

func (r *paymentRepo) CreateMethod(ctx context.Context, userID string, kind model.PaymentMethodKind, detail string) (string, error) {
	query := `
		INSERT INTO payment_methods (user_id, kind, detail)
		VALUES ($1, $2, $3)
		RETURNING id`

	var id string
	if err := r.db.QueryRow(ctx, query, userID, string(kind), detail).Scan(&id); err != nil {
		return "", fmt.Errorf("ошибка сохранения способа оплаты: %w", err)
	}
	return id, nil
}

// buildPaymentWhere строит WHERE по фильтрам платежей.
// Фильтр Method требует JOIN payment_methods, поэтому в COUNT-запросе
// он реализован подзапросом.
func buildPaymentWhere(f PaymentFilters) (string, []any) {
	var conds []string
	var args []any

	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("p.user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("p.status = $%d", len(args)))
	}
	if f.Method != "" {
		args = append(args, f.Method)
		conds = append(conds, fmt.Sprintf(
			"COALESCE((SELECT kind FROM payment_methods WHERE id = p.payment_method_id), 'card') = $%d", len(args)))
	}
	if f.After != nil {
		args = append(args, *f.After)
		conds = append(conds, fmt.Sprintf("p.created_at >= $%d", len(args)))
	}
	if f.Before != nil {
		args = append(args, *f.Before)
		conds = append(conds, fmt.Sprintf("p.created_at <= $%d", len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// scanPayment сканирует строку проекции платежа.
func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	var status, ptype, kind string

	if err := row.Scan(
		&p.ID, &p.UserID, &p.UserName, &p.UserEmail, &p.Amount, &p.Currency,
		&status, &ptype, &kind, &p.MethodDetail, &p.Date,
	); err != nil {
		return nil, err
	}

	p.Status = model.PaymentStatus(status)
	p.Type = model.PaymentType(ptype)
	p.Method = model.PaymentMethodKind(kind)
	return p, nil
}
