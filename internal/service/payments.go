// payments.go — платёжные сценарии: карточная оплата через payment
// intent, мобильные деньги (MTN / Airtel), возвраты и отчёты.
//
// Завершение карточной оплаты атомарно: подписка, платёж и tier
// пользователя пишутся в одной транзакции. Мобильные деньги создают
// подписку в статусе pending — tier обновляется только после
// подтверждения оплаты оператором.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/golexstore/internal/domain/model"
	"github.com/bigkaa/golexstore/internal/payclient"
	"github.com/bigkaa/golexstore/internal/repository"
)

// ErrGatewayUnavailable — платёжный шлюз недоступен.
var ErrGatewayUnavailable = errors.New("платёжный шлюз недоступен")

// TxRunner — управление транзакциями БД.
// Реализуется repository.TxRunner.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// phonePattern — номер мобильных денег: ровно 10 цифр (формат 07XXXXXXXX).
var phonePattern = regexp.MustCompile(`^0\d{9}$`)

// mobileProviders — поддерживаемые операторы мобильных денег.
var mobileProviders = map[string]bool{
	"mtn":    true,
	"airtel": true,
}

// Prometheus-метрики платежей.
var (
	paymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ls_payments_total",
		Help: "Общее количество платёжных операций (по операции и статусу).",
	}, []string{"operation", "status"})

	paymentAmountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ls_payment_amount_total",
		Help: "Сумма завершённых платежей (по тарифному плану).",
	}, []string{"plan"})
)

// CompleteCardInput — завершение карточной оплаты.
type CompleteCardInput struct {
	// Plan — оплаченный тарифный план
	Plan string
	// PaymentIntentID — идентификатор intent, подтверждённого шлюзом
	PaymentIntentID string
	// CardLast4 — последние цифры карты для отчётов
	CardLast4 string
	// AutoRenew — автопродление подписки
	AutoRenew bool
}

// MobileMoneyInput — инициация оплаты мобильными деньгами.
type MobileMoneyInput struct {
	// Plan — тарифный план
	Plan string
	// PhoneNumber — номер плательщика, 10 цифр
	PhoneNumber string
	// Provider — оператор: mtn или airtel
	Provider string
	// AutoRenew — автопродление подписки
	AutoRenew bool
}

// MobileMoneyOutcome — результат инициации мобильного платежа.
type MobileMoneyOutcome struct {
	// Subscription — созданная подписка (в статусе pending)
	Subscription *model.Subscription `json:"subscription"`
	// TransactionID — идентификатор операции у оператора
	TransactionID string `json:"transaction_id"`
	// Status — статус операции по данным шлюза
	Status string `json:"status"`
	// Message — инструкция для плательщика (подтверждение на телефоне)
	Message string `json:"message,omitempty"`
}

// PaymentListInput — параметры списка платежей.
type PaymentListInput struct {
	UserID string
	Status string
	Method string
	After  *time.Time
	Before *time.Time
	Limit  int
	Offset int
}

// PaymentList — страница платежей.
type PaymentList struct {
	Items  []*model.Payment `json:"items"`
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// PaymentService — платёжные операции.
type PaymentService struct {
	payRepo  repository.PaymentRepository
	subRepo  repository.SubscriptionRepository
	userRepo repository.UserRepository
	runner   TxRunner
	gateway  *payclient.Client
	logger   *slog.Logger
}

// NewPaymentService создаёт платёжный сервис.
func NewPaymentService(
	payRepo repository.PaymentRepository,
	subRepo repository.SubscriptionRepository,
	userRepo repository.UserRepository,
	runner TxRunner,
	gateway *payclient.Client,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		payRepo:  payRepo,
		subRepo:  subRepo,
		userRepo: userRepo,
		runner:   runner,
		gateway:  gateway,
		logger:   logger.With(slog.String("component", "payment_service")),
	}
}

// ensureUser регистрирует пользователя из профиля JWT при первом
// платёжном обращении. Роль и tier существующих записей не трогаются.
func (s *PaymentService) ensureUser(ctx context.Context, actor *Actor) error {
	if actor == nil {
		return ErrUnauthorized
	}
	u := &model.User{
		ID:    actor.ID,
		Email: actor.Email,
		Name:  actor.Name,
	}
	if err := s.userRepo.Upsert(ctx, u); err != nil {
		return fmt.Errorf("регистрация пользователя: %w", err)
	}
	return nil
}

// validatePlan разбирает и проверяет тарифный план.
func validatePlan(plan string) (model.Tier, model.PlanInfo, error) {
	tier := model.Tier(strings.ToLower(strings.TrimSpace(plan)))
	info, ok := model.PlanByTier(tier)
	if !ok {
		return "", model.PlanInfo{}, fmt.Errorf("%w: неизвестный тарифный план %q", ErrValidation, plan)
	}
	return tier, info, nil
}

// CreateIntent создаёт payment intent в шлюзе для карточной оплаты плана.
// Сумма и валюта берутся из таблицы планов — клиентским значениям
// сервер не доверяет.
func (s *PaymentService) CreateIntent(ctx context.Context, actor *Actor, plan string) (*payclient.PaymentIntent, error) {
	tier, info, err := validatePlan(plan)
	if err != nil {
		paymentsTotal.WithLabelValues("intent", "invalid").Inc()
		return nil, err
	}
	if err := s.ensureUser(ctx, actor); err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, string(tier), int64(info.Price), actor.ID)
	if err != nil {
		if errors.Is(err, payclient.ErrGatewayUnavailable) {
			paymentsTotal.WithLabelValues("intent", "gateway_unavailable").Inc()
			return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, err)
		}
		paymentsTotal.WithLabelValues("intent", "gateway_rejected").Inc()
		return nil, fmt.Errorf("%w: шлюз отклонил создание intent", ErrValidation)
	}

	paymentsTotal.WithLabelValues("intent", "success").Inc()
	s.logger.Info("Payment intent создан",
		slog.String("user_id", actor.ID),
		slog.String("plan", string(model.Tier(plan))),
		slog.String("intent_id", intent.ID),
	)
	return intent, nil
}

// CompleteCardPayment фиксирует подтверждённую шлюзом карточную оплату.
// В одной транзакции: способ оплаты, подписка (active), платёж
// (completed) и tier пользователя.
func (s *PaymentService) CompleteCardPayment(ctx context.Context, actor *Actor, in CompleteCardInput) (*model.Subscription, error) {
	tier, info, err := validatePlan(in.Plan)
	if err != nil {
		paymentsTotal.WithLabelValues("card", "invalid").Inc()
		return nil, err
	}
	if strings.TrimSpace(in.PaymentIntentID) == "" {
		paymentsTotal.WithLabelValues("card", "invalid").Inc()
		return nil, fmt.Errorf("%w: не указан payment intent", ErrValidation)
	}
	if err := s.ensureUser(ctx, actor); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	meta, _ := json.Marshal(map[string]string{
		"payment_intent_id": in.PaymentIntentID,
	})
	sub := &model.Subscription{
		ID:        uuid.New().String(),
		UserID:    actor.ID,
		Plan:      tier,
		Status:    model.SubscriptionActive,
		StartDate: now,
		EndDate:   model.ComputeEndDate(now, info.Duration),
		Amount:    info.Price,
		Currency:  info.Currency,
		AutoRenew: in.AutoRenew,
		Meta:      meta,
	}

	err = s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		pays := repository.NewPaymentRepository(tx)
		subs := repository.NewSubscriptionRepository(tx)
		users := repository.NewUserRepository(tx)

		methodID, txErr := pays.CreateMethod(ctx, actor.ID, model.MethodCard,
			maskedCard(in.CardLast4))
		if txErr != nil {
			return txErr
		}
		if txErr := subs.Create(ctx, sub); txErr != nil {
			return txErr
		}
		if txErr := users.UpdateTier(ctx, actor.ID, tier); txErr != nil {
			return txErr
		}
		return pays.Create(ctx, &repository.PaymentRecord{
			ID:              uuid.New().String(),
			UserID:          actor.ID,
			SubscriptionID:  &sub.ID,
			Amount:          info.Price,
			Currency:        info.Currency,
			Status:          model.PaymentCompleted,
			Type:            model.PaymentTypeSubscription,
			PaymentMethodID: &methodID,
			GatewayRef:      in.PaymentIntentID,
		})
	})
	if err != nil {
		paymentsTotal.WithLabelValues("card", "error").Inc()
		return nil, fmt.Errorf("фиксация карточной оплаты: %w", err)
	}

	paymentsTotal.WithLabelValues("card", "success").Inc()
	paymentAmountTotal.WithLabelValues(string(tier)).Add(info.Price)

	s.logger.Info("Карточная оплата завершена",
		slog.String("user_id", actor.ID),
		slog.String("subscription_id", sub.ID),
		slog.String("plan", string(tier)),
		slog.Float64("amount", info.Price),
	)
	return sub, nil
}

// InitiateMobileMoney инициирует оплату мобильными деньгами.
// Валидация номера и оператора выполняется до обращения к шлюзу.
// Подписка создаётся в статусе pending: tier пользователя не меняется,
// пока оператор не подтвердит списание.
func (s *PaymentService) InitiateMobileMoney(ctx context.Context, actor *Actor, in MobileMoneyInput) (*MobileMoneyOutcome, error) {
	tier, info, err := validatePlan(in.Plan)
	if err != nil {
		paymentsTotal.WithLabelValues("mobile_money", "invalid").Inc()
		return nil, err
	}
	phone := strings.TrimSpace(in.PhoneNumber)
	if !phonePattern.MatchString(phone) {
		paymentsTotal.WithLabelValues("mobile_money", "invalid").Inc()
		return nil, fmt.Errorf("%w: номер телефона должен содержать 10 цифр", ErrValidation)
	}
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if !mobileProviders[provider] {
		paymentsTotal.WithLabelValues("mobile_money", "invalid").Inc()
		return nil, fmt.Errorf("%w: неизвестный оператор %q", ErrValidation, in.Provider)
	}
	if err := s.ensureUser(ctx, actor); err != nil {
		return nil, err
	}

	result, err := s.gateway.InitiateMobileMoney(ctx, payclient.MobileMoneyRequest{
		Provider:    provider,
		PhoneNumber: phone,
		Amount:      int64(info.Price),
		UserID:      actor.ID,
		Plan:        string(tier),
	})
	if err != nil {
		if errors.Is(err, payclient.ErrGatewayUnavailable) {
			paymentsTotal.WithLabelValues("mobile_money", "gateway_unavailable").Inc()
			return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, err)
		}
		paymentsTotal.WithLabelValues("mobile_money", "gateway_rejected").Inc()
		return nil, fmt.Errorf("%w: шлюз отклонил мобильный платёж", ErrValidation)
	}
	// Шлюз обязан вернуть ровно pending: списание подтверждается
	// плательщиком на телефоне позже.
	if result.Status != "pending" {
		paymentsTotal.WithLabelValues("mobile_money", "unexpected_status").Inc()
		return nil, fmt.Errorf("%w: неожиданный статус мобильного платежа %q", ErrValidation, result.Status)
	}

	now := time.Now().UTC()
	meta, _ := json.Marshal(map[string]string{
		"provider":       provider,
		"phone":          phone,
		"transaction_id": result.TransactionID,
	})
	sub := &model.Subscription{
		ID:        uuid.New().String(),
		UserID:    actor.ID,
		Plan:      tier,
		Status:    model.SubscriptionPending,
		StartDate: now,
		EndDate:   model.ComputeEndDate(now, info.Duration),
		Amount:    info.Price,
		Currency:  info.Currency,
		AutoRenew: in.AutoRenew,
		Meta:      meta,
	}

	err = s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		pays := repository.NewPaymentRepository(tx)
		subs := repository.NewSubscriptionRepository(tx)

		methodID, txErr := pays.CreateMethod(ctx, actor.ID, model.MethodMobileMoney,
			provider+" "+phone)
		if txErr != nil {
			return txErr
		}
		if txErr := subs.Create(ctx, sub); txErr != nil {
			return txErr
		}
		return pays.Create(ctx, &repository.PaymentRecord{
			ID:              uuid.New().String(),
			UserID:          actor.ID,
			SubscriptionID:  &sub.ID,
			Amount:          info.Price,
			Currency:        info.Currency,
			Status:          model.PaymentPending,
			Type:            model.PaymentTypeSubscription,
			PaymentMethodID: &methodID,
			GatewayRef:      result.TransactionID,
		})
	})
	if err != nil {
		paymentsTotal.WithLabelValues("mobile_money", "error").Inc()
		return nil, fmt.Errorf("регистрация мобильного платежа: %w", err)
	}

	paymentsTotal.WithLabelValues("mobile_money", "initiated").Inc()
	s.logger.Info("Мобильный платёж инициирован",
		slog.String("user_id", actor.ID),
		slog.String("subscription_id", sub.ID),
		slog.String("provider", provider),
		slog.String("transaction_id", result.TransactionID),
	)

	return &MobileMoneyOutcome{
		Subscription:  sub,
		TransactionID: result.TransactionID,
		Status:        result.Status,
		Message:       result.Message,
	}, nil
}

// Refund выполняет возврат завершённого платежа (только admin).
// В одной транзакции: платёж → refunded, связанная подписка →
// refunded, запись-проводка типа refund, пересчёт tier плательщика
// по оставшимся активным подпискам.
func (s *PaymentService) Refund(ctx context.Context, actor *Actor, paymentID string) (*model.Payment, error) {
	if err := requireAdmin(ctx, s.userRepo, actor); err != nil {
		return nil, err
	}

	payment, err := s.payRepo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение платежа: %w", err)
	}
	if payment.Status != model.PaymentCompleted {
		paymentsTotal.WithLabelValues("refund", "invalid").Inc()
		return nil, fmt.Errorf("%w: возврат возможен только для завершённых платежей", ErrValidation)
	}

	userID, subID, err := s.payRepo.SubscriptionRef(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("получение ссылок платежа: %w", err)
	}

	err = s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		pays := repository.NewPaymentRepository(tx)
		subs := repository.NewSubscriptionRepository(tx)
		users := repository.NewUserRepository(tx)

		if txErr := pays.UpdateStatus(ctx, paymentID, model.PaymentRefunded); txErr != nil {
			return txErr
		}
		if subID != nil {
			if txErr := subs.UpdateStatus(ctx, *subID, model.SubscriptionRefunded); txErr != nil {
				return txErr
			}
		}

		// Проводка возврата
		if txErr := pays.Create(ctx, &repository.PaymentRecord{
			ID:             uuid.New().String(),
			UserID:         userID,
			SubscriptionID: subID,
			Amount:         payment.Amount,
			Currency:       payment.Currency,
			Status:         model.PaymentCompleted,
			Type:           model.PaymentTypeRefund,
			GatewayRef:     "refund:" + paymentID,
		}); txErr != nil {
			return txErr
		}

		// Пересчёт tier по оставшимся активным подпискам
		active, txErr := subs.GetActiveByUser(ctx, userID)
		switch {
		case txErr == nil:
			return users.UpdateTier(ctx, userID, active.Plan)
		case errors.Is(txErr, repository.ErrNotFound):
			return users.ClearTier(ctx, userID)
		default:
			return txErr
		}
	})
	if err != nil {
		paymentsTotal.WithLabelValues("refund", "error").Inc()
		return nil, fmt.Errorf("возврат платежа: %w", err)
	}

	paymentsTotal.WithLabelValues("refund", "success").Inc()
	s.logger.Info("Платёж возвращён",
		slog.String("payment_id", paymentID),
		slog.String("user_id", userID),
		slog.String("refunded_by", actor.ID),
	)

	return s.payRepo.GetByID(ctx, paymentID)
}

// UpdateStatus меняет статус платежа (только admin). Так
// подтверждаются мобильные платежи: перевод pending → completed
// активирует связанную подписку и tier плательщика в одной
// транзакции. Для возвратов используется Refund.
func (s *PaymentService) UpdateStatus(ctx context.Context, actor *Actor, paymentID string, status model.PaymentStatus) (*model.Payment, error) {
	if err := requireAdmin(ctx, s.userRepo, actor); err != nil {
		return nil, err
	}

	switch status {
	case model.PaymentCompleted, model.PaymentPending, model.PaymentFailed:
	case model.PaymentRefunded:
		return nil, fmt.Errorf("%w: для возврата используется операция refund", ErrValidation)
	default:
		return nil, fmt.Errorf("%w: неизвестный статус платежа %q", ErrValidation, status)
	}

	userID, subID, err := s.payRepo.SubscriptionRef(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение ссылок платежа: %w", err)
	}

	err = s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		pays := repository.NewPaymentRepository(tx)
		subs := repository.NewSubscriptionRepository(tx)
		users := repository.NewUserRepository(tx)

		if txErr := pays.UpdateStatus(ctx, paymentID, status); txErr != nil {
			return txErr
		}
		if status != model.PaymentCompleted || subID == nil {
			return nil
		}

		// Подтверждение оплаты активирует подписку и tier
		sub, txErr := subs.GetByID(ctx, *subID)
		if txErr != nil {
			return txErr
		}
		if sub.Status != model.SubscriptionPending {
			return nil
		}
		if txErr := subs.UpdateStatus(ctx, *subID, model.SubscriptionActive); txErr != nil {
			return txErr
		}
		return users.UpdateTier(ctx, userID, sub.Plan)
	})
	if err != nil {
		paymentsTotal.WithLabelValues("update_status", "error").Inc()
		return nil, fmt.Errorf("обновление статуса платежа: %w", err)
	}

	paymentsTotal.WithLabelValues("update_status", "success").Inc()
	s.logger.Info("Статус платежа обновлён",
		slog.String("payment_id", paymentID),
		slog.String("status", string(status)),
		slog.String("updated_by", actor.ID),
	)
	return s.payRepo.GetByID(ctx, paymentID)
}

// List возвращает страницу платежей. Администратор видит все платежи
// с любыми фильтрами; обычный пользователь — только свои.
func (s *PaymentService) List(ctx context.Context, actor *Actor, in PaymentListInput) (*PaymentList, error) {
	if actor == nil {
		return nil, ErrUnauthorized
	}

	filters := repository.PaymentFilters{
		UserID: in.UserID,
		Status: in.Status,
		Method: in.Method,
		After:  in.After,
		Before: in.Before,
	}
	if err := requireAdmin(ctx, s.userRepo, actor); err != nil {
		if !errors.Is(err, ErrForbidden) {
			return nil, err
		}
		filters.UserID = actor.ID
	}

	limit := in.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := in.Offset
	if offset < 0 {
		offset = 0
	}

	items, total, err := s.payRepo.List(ctx, filters, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("список платежей: %w", err)
	}
	return &PaymentList{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// Get возвращает платёж. Доступен администратору и плательщику.
func (s *PaymentService) Get(ctx context.Context, actor *Actor, paymentID string) (*model.Payment, error) {
	if actor == nil {
		return nil, ErrUnauthorized
	}

	payment, err := s.payRepo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение платежа: %w", err)
	}

	if payment.UserID != actor.ID {
		if err := requireAdmin(ctx, s.userRepo, actor); err != nil {
			return nil, err
		}
	}
	return payment, nil
}

// maskedCard формирует маскированные реквизиты карты для отчётов.
func maskedCard(last4 string) string {
	last4 = strings.TrimSpace(last4)
	if last4 == "" {
		return "card"
	}
	return "**** " + last4
}
