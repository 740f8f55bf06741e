// subscriptions.go — тарифные планы, подписки пользователя и фоновый
// перевод просроченных подписок в expired.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/golexstore/internal/domain/model"
	"github.com/bigkaa/golexstore/internal/repository"
)

var (
	subscriptionsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ls_subscriptions_expired_total",
		Help: "Общее количество подписок, переведённых в expired.",
	})

	subscriptionSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ls_subscription_sweep_duration_seconds",
		Help:    "Длительность прохода по просроченным подпискам.",
		Buckets: prometheus.DefBuckets,
	})
)

// PlanView — тарифный план в ответе API.
type PlanView struct {
	Plan     string  `json:"plan"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Duration string  `json:"duration"`
}

// SubscriptionService — операции с подписками.
type SubscriptionService struct {
	subRepo  repository.SubscriptionRepository
	userRepo repository.UserRepository
	runner   TxRunner
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSubscriptionService создаёт сервис подписок.
func NewSubscriptionService(
	subRepo repository.SubscriptionRepository,
	userRepo repository.UserRepository,
	runner TxRunner,
	logger *slog.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		subRepo:  subRepo,
		userRepo: userRepo,
		runner:   runner,
		logger:   logger.With(slog.String("component", "subscription_service")),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Plans возвращает тарифные планы в порядке возрастания цены.
func (s *SubscriptionService) Plans() []PlanView {
	order := []model.Tier{model.TierBronze, model.TierSilver, model.TierGold, model.TierPlatinum}
	out := make([]PlanView, 0, len(order))
	for _, tier := range order {
		info, ok := model.PlanByTier(tier)
		if !ok {
			continue
		}
		out = append(out, PlanView{
			Plan:     string(tier),
			Price:    info.Price,
			Currency: info.Currency,
			Duration: info.Duration,
		})
	}
	return out
}

// Active возвращает действующую подписку пользователя.
// ErrNotFound — действующей подписки нет.
func (s *SubscriptionService) Active(ctx context.Context, actor *Actor) (*model.Subscription, error) {
	if actor == nil {
		return nil, ErrUnauthorized
	}
	sub, err := s.subRepo.GetActiveByUser(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение активной подписки: %w", err)
	}
	return sub, nil
}

// List возвращает историю подписок пользователя (новые первыми).
func (s *SubscriptionService) List(ctx context.Context, actor *Actor) ([]*model.Subscription, error) {
	if actor == nil {
		return nil, ErrUnauthorized
	}
	subs, err := s.subRepo.ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("список подписок: %w", err)
	}
	return subs, nil
}

// ListForUser возвращает подписки произвольного пользователя (только admin).
func (s *SubscriptionService) ListForUser(ctx context.Context, actor *Actor, userID string) ([]*model.Subscription, error) {
	if err := requireAdmin(ctx, s.userRepo, actor); err != nil {
		return nil, err
	}
	subs, err := s.subRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("список подписок пользователя: %w", err)
	}
	return subs, nil
}

// Cancel отменяет подписку. Доступно владельцу и администратору.
// Tier пользователя пересчитывается по оставшимся активным подпискам.
func (s *SubscriptionService) Cancel(ctx context.Context, actor *Actor, subID string) (*model.Subscription, error) {
	if actor == nil {
		return nil, ErrUnauthorized
	}

	sub, err := s.subRepo.GetByID(ctx, subID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение подписки: %w", err)
	}
	if sub.UserID != actor.ID {
		if err := requireAdmin(ctx, s.userRepo, actor); err != nil {
			return nil, err
		}
	}
	if sub.Status != model.SubscriptionActive && sub.Status != model.SubscriptionPending {
		return nil, fmt.Errorf("%w: подписка уже завершена", ErrValidation)
	}

	err = s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		subs := repository.NewSubscriptionRepository(tx)
		users := repository.NewUserRepository(tx)

		if txErr := subs.UpdateStatus(ctx, subID, model.SubscriptionCancelled); txErr != nil {
			return txErr
		}

		active, txErr := subs.GetActiveByUser(ctx, sub.UserID)
		switch {
		case txErr == nil:
			return users.UpdateTier(ctx, sub.UserID, active.Plan)
		case errors.Is(txErr, repository.ErrNotFound):
			return users.ClearTier(ctx, sub.UserID)
		default:
			return txErr
		}
	})
	if err != nil {
		return nil, fmt.Errorf("отмена подписки: %w", err)
	}

	s.logger.Info("Подписка отменена",
		slog.String("subscription_id", subID),
		slog.String("user_id", sub.UserID),
		slog.String("cancelled_by", actor.ID),
	)
	return s.subRepo.GetByID(ctx, subID)
}

// StartSweeper запускает фоновый перевод просроченных подписок
// в expired с указанным интервалом. Останавливается по StopSweeper
// или отмене ctx.
func (s *SubscriptionService) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		defer close(s.doneCh)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.logger.Info("Обработчик просроченных подписок запущен",
			slog.Duration("interval", interval))

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.SweepExpired(ctx)
			}
		}
	}()
}

// StopSweeper останавливает фоновый обработчик и дожидается его выхода.
func (s *SubscriptionService) StopSweeper() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// SweepExpired выполняет один проход: просроченные активные подписки →
// expired, tier затронутых пользователей без других действующих
// подписок сбрасывается. Обе операции в одной транзакции.
func (s *SubscriptionService) SweepExpired(ctx context.Context) {
	start := time.Now()

	var expired int
	err := s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		subs := repository.NewSubscriptionRepository(tx)
		users := repository.NewUserRepository(tx)

		userIDs, txErr := subs.ExpireOverdue(ctx)
		if txErr != nil {
			return txErr
		}
		expired = len(userIDs)
		if expired == 0 {
			return nil
		}
		_, txErr = users.ClearTierStale(ctx, userIDs)
		return txErr
	})
	if err != nil {
		s.logger.Error("Ошибка обработки просроченных подписок",
			slog.String("error", err.Error()))
		return
	}

	subscriptionSweepDuration.Observe(time.Since(start).Seconds())
	if expired > 0 {
		subscriptionsExpiredTotal.Add(float64(expired))
		s.logger.Info("Просроченные подписки переведены в expired",
			slog.Int("count", expired))
	}
}
