package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/golexstore/internal/domain/model"
	"github.com/bigkaa/golexstore/internal/payclient"
	"github.com/bigkaa/golexstore/internal/repository"
)

// --- Mocks ---

// mockRunner — мок TxRunner. Тело транзакции не выполняется:
// содержимое транзакций покрывается интеграционными тестами repository.
type mockRunner struct {
	calls int
	err   error
}

func (m *mockRunner) RunInTx(_ context.Context, _ func(tx pgx.Tx) error) error {
	m.calls++
	return m.err
}

// mockPayRepo — мок PaymentRepository.
type mockPayRepo struct {
	getByIDFn func(ctx context.Context, id string) (*model.Payment, error)
	listFn    func(ctx context.Context, f repository.PaymentFilters, limit, offset int) ([]*model.Payment, int64, error)
	subRefFn  func(ctx context.Context, id string) (string, *string, error)
}

func (m *mockPayRepo) Create(ctx context.Context, rec *repository.PaymentRecord) error { return nil }

func (m *mockPayRepo) GetByID(ctx context.Context, id string) (*model.Payment, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockPayRepo) List(ctx context.Context, f repository.PaymentFilters, limit, offset int) ([]*model.Payment, int64, error) {
	if m.listFn != nil {
		return m.listFn(ctx, f, limit, offset)
	}
	return nil, 0, nil
}

func (m *mockPayRepo) UpdateStatus(ctx context.Context, id string, status model.PaymentStatus) error {
	return nil
}

func (m *mockPayRepo) SubscriptionRef(ctx context.Context, id string) (string, *string, error) {
	if m.subRefFn != nil {
		return m.subRefFn(ctx, id)
	}
	return "", nil, repository.ErrNotFound
}

func (m *mockPayRepo) CreateMethod(ctx context.Context, userID string, kind model.PaymentMethodKind, detail string) (string, error) {
	return "method-1", nil
}

// mockSubRepo — мок SubscriptionRepository.
type mockSubRepo struct {
	getByIDFn     func(ctx context.Context, id string) (*model.Subscription, error)
	getActiveFn   func(ctx context.Context, userID string) (*model.Subscription, error)
	listByUserFn  func(ctx context.Context, userID string) ([]*model.Subscription, error)
	updateStatFn  func(ctx context.Context, id string, status model.SubscriptionStatus) error
	expireOverFn  func(ctx context.Context) ([]string, error)
}

func (m *mockSubRepo) Create(ctx context.Context, s *model.Subscription) error { return nil }

func (m *mockSubRepo) GetByID(ctx context.Context, id string) (*model.Subscription, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockSubRepo) GetActiveByUser(ctx context.Context, userID string) (*model.Subscription, error) {
	if m.getActiveFn != nil {
		return m.getActiveFn(ctx, userID)
	}
	return nil, repository.ErrNotFound
}

func (m *mockSubRepo) ListByUser(ctx context.Context, userID string) ([]*model.Subscription, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockSubRepo) UpdateStatus(ctx context.Context, id string, status model.SubscriptionStatus) error {
	if m.updateStatFn != nil {
		return m.updateStatFn(ctx, id, status)
	}
	return nil
}

func (m *mockSubRepo) ExpireOverdue(ctx context.Context) ([]string, error) {
	if m.expireOverFn != nil {
		return m.expireOverFn(ctx)
	}
	return nil, nil
}

// newGateway создаёт payclient поверх httptest-сервера.
func newGateway(t *testing.T, handler http.HandlerFunc) *payclient.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return payclient.New(srv.URL, 5*time.Second, slog.Default())
}

// deadGateway — шлюз, обращение к которому является ошибкой теста.
func deadGateway(t *testing.T) *payclient.Client {
	t.Helper()
	return newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("неожиданное обращение к шлюзу: %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	})
}

func newPaymentService(payRepo repository.PaymentRepository, subRepo repository.SubscriptionRepository, userRepo repository.UserRepository, runner TxRunner, gw *payclient.Client) *PaymentService {
	return NewPaymentService(payRepo, subRepo, userRepo, runner, gw, slog.Default())
}

// --- Тесты PaymentService ---

// TestPaymentService_CreateIntent проверяет, что план, цена из таблицы
// планов и идентификатор пользователя доходят до шлюза.
func TestPaymentService_CreateIntent(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Plan   string `json:"plan"`
			Price  int64  `json:"price"`
			UserID string `json:"userId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Plan != "silver" {
			t.Errorf("plan = %q, ожидался silver", body.Plan)
		}
		if body.Price != 50000 {
			t.Errorf("price = %d, ожидался 50000 (silver)", body.Price)
		}
		if body.UserID != "user-1" {
			t.Errorf("userId = %q, ожидался user-1", body.UserID)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id": "pi_123", "clientSecret": "pi_123_secret",
		})
	})
	svc := newPaymentService(&mockPayRepo{}, &mockSubRepo{}, &mockUserRepo{}, &mockRunner{}, gw)

	intent, err := svc.CreateIntent(context.Background(), &Actor{ID: "user-1"}, "silver")
	if err != nil {
		t.Fatalf("CreateIntent() ошибка: %v", err)
	}
	if intent.ClientSecret != "pi_123_secret" {
		t.Errorf("ClientSecret = %q", intent.ClientSecret)
	}
}

// TestPaymentService_CreateIntent_Invalid проверяет отклонение
// до обращения к шлюзу.
func TestPaymentService_CreateIntent_Invalid(t *testing.T) {
	svc := newPaymentService(&mockPayRepo{}, &mockSubRepo{}, &mockUserRepo{}, &mockRunner{}, deadGateway(t))

	if _, err := svc.CreateIntent(context.Background(), &Actor{ID: "u"}, "diamond"); !errors.Is(err, ErrValidation) {
		t.Errorf("неизвестный план: err = %v, ожидался ErrValidation", err)
	}
	if _, err := svc.CreateIntent(context.Background(), nil, "silver"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("анонимно: err = %v, ожидался ErrUnauthorized", err)
	}
}

// TestPaymentService_CompleteCardPayment проверяет построение подписки
// и запуск транзакции.
func TestPaymentService_CompleteCardPayment(t *testing.T) {
	runner := &mockRunner{}
	svc := newPaymentService(&mockPayRepo{}, &mockSubRepo{}, &mockUserRepo{}, runner, deadGateway(t))

	sub, err := svc.CompleteCardPayment(context.Background(), &Actor{ID: "user-1"}, CompleteCardInput{
		Plan:            "gold",
		PaymentIntentID: "pi_123",
		CardLast4:       "4242",
	})
	if err != nil {
		t.Fatalf("CompleteCardPayment() ошибка: %v", err)
	}

	if runner.calls != 1 {
		t.Errorf("RunInTx вызван %d раз, ожидался 1", runner.calls)
	}
	if sub.Plan != model.TierGold {
		t.Errorf("Plan = %q, ожидался gold", sub.Plan)
	}
	if sub.Status != model.SubscriptionActive {
		t.Errorf("Status = %q, ожидался active", sub.Status)
	}
	if sub.Amount != 120000 {
		t.Errorf("Amount = %v, ожидался 120000", sub.Amount)
	}
	// gold — месячный план
	wantEnd := sub.StartDate.AddDate(0, 0, 30)
	if !sub.EndDate.Equal(wantEnd) {
		t.Errorf("EndDate = %v, ожидался %v", sub.EndDate, wantEnd)
	}
}

// TestPaymentService_CompleteCardPayment_MissingIntent проверяет
// обязательность payment intent.
func TestPaymentService_CompleteCardPayment_MissingIntent(t *testing.T) {
	svc := newPaymentService(&mockPayRepo{}, &mockSubRepo{}, &mockUserRepo{}, &mockRunner{}, deadGateway(t))

	_, err := svc.CompleteCardPayment(context.Background(), &Actor{ID: "u"}, CompleteCardInput{
		Plan: "silver",
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, ожидался ErrValidation", err)
	}
}

// TestPaymentService_MobileMoney_ValidationBeforeGateway проверяет,
// что номер и оператор валидируются до сетевого вызова.
func TestPaymentService_MobileMoney_ValidationBeforeGateway(t *testing.T) {
	svc := newPaymentService(&mockPayRepo{}, &mockSubRepo{}, &mockUserRepo{}, &mockRunner{}, deadGateway(t))
	actor := &Actor{ID: "user-1"}

	tests := []struct {
		name string
		in   MobileMoneyInput
	}{
		{"короткий номер", MobileMoneyInput{Plan: "silver", PhoneNumber: "0777", Provider: "mtn"}},
		{"номер с буквами", MobileMoneyInput{Plan: "silver", PhoneNumber: "07761234ab", Provider: "mtn"}},
		{"номер без нуля", MobileMoneyInput{Plan: "silver", PhoneNumber: "7776123456", Provider: "mtn"}},
		{"одиннадцать цифр", MobileMoneyInput{Plan: "silver", PhoneNumber: "07761234567", Provider: "mtn"}},
		{"девять цифр с нулём", MobileMoneyInput{Plan: "silver", PhoneNumber: "077612345", Provider: "mtn"}},
		{"неизвестный оператор", MobileMoneyInput{Plan: "silver", PhoneNumber: "0776123456", Provider: "vodafone"}},
		{"неизвестный план", MobileMoneyInput{Plan: "diamond", PhoneNumber: "0776123456", Provider: "mtn"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.InitiateMobileMoney(context.Background(), actor, tt.in); !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, ожидался ErrValidation", err)
			}
		})
	}
}

// TestPaymentService_MobileMoney проверяет создание подписки pending.
func TestPaymentService_MobileMoney(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/mobile-money/initiate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body struct {
			Provider    string `json:"provider"`
			PhoneNumber string `json:"phoneNumber"`
			Amount      int64  `json:"amount"`
			UserID      string `json:"userId"`
			Plan        string `json:"plan"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Provider != "mtn" {
			t.Errorf("provider = %q, ожидался mtn", body.Provider)
		}
		if body.PhoneNumber != "0776123456" {
			t.Errorf("phoneNumber = %q", body.PhoneNumber)
		}
		if body.Amount != 10000 {
			t.Errorf("amount = %d, ожидался 10000 (bronze)", body.Amount)
		}
		if body.UserID != "user-1" {
			t.Errorf("userId = %q, ожидался user-1", body.UserID)
		}
		if body.Plan != "bronze" {
			t.Errorf("plan = %q, ожидался bronze", body.Plan)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"transactionId": "mm-42",
			"status":        "pending",
			"message":       "подтвердите списание на телефоне",
		})
	})
	runner := &mockRunner{}
	svc := newPaymentService(&mockPayRepo{}, &mockSubRepo{}, &mockUserRepo{}, runner, gw)

	out, err := svc.InitiateMobileMoney(context.Background(), &Actor{ID: "user-1"}, MobileMoneyInput{
		Plan:        "bronze",
		PhoneNumber: "0776123456",
		Provider:    "MTN",
	})
	if err != nil {
		t.Fatalf("InitiateMobileMoney() ошибка: %v", err)
	}

	if out.TransactionID != "mm-42" {
		t.Errorf("TransactionID = %q, ожидался mm-42", out.TransactionID)
	}
	if out.Status != "pending" {
		t.Errorf("Status = %q, ожидался pending", out.Status)
	}
	// Tier не обновляется до подтверждения: подписка только pending
	if out.Subscription.Status != model.SubscriptionPending {
		t.Errorf("Subscription.Status = %q, ожидался pending", out.Subscription.Status)
	}
	if runner.calls != 1 {
		t.Errorf("RunInTx вызван %d раз, ожидался 1", runner.calls)
	}
	// bronze — суточный план
	wantEnd := out.Subscription.StartDate.Add(24 * time.Hour)
	if !out.Subscription.EndDate.Equal(wantEnd) {
		t.Errorf("EndDate = %v, ожидался %v", out.Subscription.EndDate, wantEnd)
	}
}

// TestPaymentService_MobileMoney_GatewayDown проверяет трансляцию
// недоступности шлюза.
func TestPaymentService_MobileMoney_GatewayDown(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	svc := newPaymentService(&mockPayRepo{}, &mockSubRepo{}, &mockUserRepo{}, &mockRunner{}, gw)

	_, err := svc.InitiateMobileMoney(context.Background(), &Actor{ID: "u"}, MobileMoneyInput{
		Plan: "silver", PhoneNumber: "0776123456", Provider: "airtel",
	})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Errorf("err = %v, ожидался ErrGatewayUnavailable", err)
	}
}

// TestPaymentService_Refund проверяет права и предусловия возврата.
func TestPaymentService_Refund(t *testing.T) {
	subID := "sub-1"
	payRepo := &mockPayRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Payment, error) {
			return &model.Payment{ID: id, UserID: "user-1", Amount: 50000,
				Currency: "UGX", Status: model.PaymentCompleted}, nil
		},
		subRefFn: func(_ context.Context, _ string) (string, *string, error) {
			return "user-1", &subID, nil
		},
	}
	runner := &mockRunner{}
	svc := newPaymentService(payRepo, &mockSubRepo{}, adminRepo("admin-1"), runner, deadGateway(t))

	// Не-админ
	if _, err := svc.Refund(context.Background(), &Actor{ID: "user-1"}, "pay-1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("не-админ: err = %v, ожидался ErrForbidden", err)
	}

	// Админ, завершённый платёж
	if _, err := svc.Refund(context.Background(), &Actor{ID: "admin-1"}, "pay-1"); err != nil {
		t.Fatalf("Refund() ошибка: %v", err)
	}
	if runner.calls != 1 {
		t.Errorf("RunInTx вызван %d раз, ожидался 1", runner.calls)
	}
}

// TestPaymentService_Refund_NotCompleted проверяет отказ возврата
// незавершённого платежа.
func TestPaymentService_Refund_NotCompleted(t *testing.T) {
	payRepo := &mockPayRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Payment, error) {
			return &model.Payment{ID: id, Status: model.PaymentPending}, nil
		},
	}
	svc := newPaymentService(payRepo, &mockSubRepo{}, adminRepo("admin-1"), &mockRunner{}, deadGateway(t))

	_, err := svc.Refund(context.Background(), &Actor{ID: "admin-1"}, "pay-1")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, ожидался ErrValidation", err)
	}
}

// TestPaymentService_UpdateStatus проверяет права и допустимые статусы.
func TestPaymentService_UpdateStatus(t *testing.T) {
	subID := "sub-1"
	payRepo := &mockPayRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Payment, error) {
			return &model.Payment{ID: id, Status: model.PaymentCompleted}, nil
		},
		subRefFn: func(_ context.Context, _ string) (string, *string, error) {
			return "user-1", &subID, nil
		},
	}
	runner := &mockRunner{}
	svc := newPaymentService(payRepo, &mockSubRepo{}, adminRepo("admin-1"), runner, deadGateway(t))

	if _, err := svc.UpdateStatus(context.Background(), &Actor{ID: "user-1"}, "pay-1", model.PaymentCompleted); !errors.Is(err, ErrForbidden) {
		t.Errorf("не-админ: err = %v, ожидался ErrForbidden", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), &Actor{ID: "admin-1"}, "pay-1", model.PaymentRefunded); !errors.Is(err, ErrValidation) {
		t.Errorf("refunded через UpdateStatus: err = %v, ожидался ErrValidation", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), &Actor{ID: "admin-1"}, "pay-1", model.PaymentCompleted); err != nil {
		t.Fatalf("UpdateStatus() ошибка: %v", err)
	}
	if runner.calls != 1 {
		t.Errorf("RunInTx вызван %d раз, ожидался 1", runner.calls)
	}
}

// TestPaymentService_List_Scoping проверяет, что обычный пользователь
// видит только свои платежи.
func TestPaymentService_List_Scoping(t *testing.T) {
	var gotUserID string
	payRepo := &mockPayRepo{
		listFn: func(_ context.Context, f repository.PaymentFilters, _, _ int) ([]*model.Payment, int64, error) {
			gotUserID = f.UserID
			return nil, 0, nil
		},
	}
	svc := newPaymentService(payRepo, &mockSubRepo{}, adminRepo("admin-1"), &mockRunner{}, deadGateway(t))

	// Обычный пользователь: фильтр принудительно его собственный
	_, err := svc.List(context.Background(), &Actor{ID: "user-1"}, PaymentListInput{UserID: "other"})
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if gotUserID != "user-1" {
		t.Errorf("UserID = %q, ожидался user-1 (принудительный фильтр)", gotUserID)
	}

	// Админ: произвольный фильтр
	_, err = svc.List(context.Background(), &Actor{ID: "admin-1"}, PaymentListInput{UserID: "other"})
	if err != nil {
		t.Fatalf("List() (админ) ошибка: %v", err)
	}
	if gotUserID != "other" {
		t.Errorf("UserID = %q, ожидался other (админ)", gotUserID)
	}
}

// TestPaymentService_Get_Owner проверяет доступ к платежу.
func TestPaymentService_Get_Owner(t *testing.T) {
	payRepo := &mockPayRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Payment, error) {
			return &model.Payment{ID: id, UserID: "user-1"}, nil
		},
	}
	svc := newPaymentService(payRepo, &mockSubRepo{}, adminRepo("admin-1"), &mockRunner{}, deadGateway(t))

	if _, err := svc.Get(context.Background(), &Actor{ID: "user-1"}, "pay-1"); err != nil {
		t.Errorf("владелец: ошибка %v", err)
	}
	if _, err := svc.Get(context.Background(), &Actor{ID: "user-2"}, "pay-1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("чужой платёж: err = %v, ожидался ErrForbidden", err)
	}
	if _, err := svc.Get(context.Background(), &Actor{ID: "admin-1"}, "pay-1"); err != nil {
		t.Errorf("админ: ошибка %v", err)
	}
}

// --- Тесты SubscriptionService ---

// TestSubscriptionService_Plans проверяет порядок планов по цене.
func TestSubscriptionService_Plans(t *testing.T) {
	svc := NewSubscriptionService(&mockSubRepo{}, &mockUserRepo{}, &mockRunner{}, slog.Default())

	plans := svc.Plans()
	if len(plans) != 4 {
		t.Fatalf("len(plans) = %d, ожидалось 4", len(plans))
	}
	want := []string{"bronze", "silver", "gold", "platinum"}
	for i, p := range plans {
		if p.Plan != want[i] {
			t.Errorf("plans[%d] = %q, ожидался %q", i, p.Plan, want[i])
		}
		if p.Currency != "UGX" {
			t.Errorf("plans[%d].Currency = %q, ожидался UGX", i, p.Currency)
		}
	}
}

// TestSubscriptionService_Active проверяет получение действующей подписки.
func TestSubscriptionService_Active(t *testing.T) {
	subRepo := &mockSubRepo{
		getActiveFn: func(_ context.Context, userID string) (*model.Subscription, error) {
			if userID == "user-1" {
				return &model.Subscription{ID: "sub-1", UserID: userID,
					Status: model.SubscriptionActive}, nil
			}
			return nil, repository.ErrNotFound
		},
	}
	svc := NewSubscriptionService(subRepo, &mockUserRepo{}, &mockRunner{}, slog.Default())

	sub, err := svc.Active(context.Background(), &Actor{ID: "user-1"})
	if err != nil {
		t.Fatalf("Active() ошибка: %v", err)
	}
	if sub.ID != "sub-1" {
		t.Errorf("ID = %q", sub.ID)
	}

	if _, err := svc.Active(context.Background(), &Actor{ID: "user-2"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("без подписки: err = %v, ожидался ErrNotFound", err)
	}
	if _, err := svc.Active(context.Background(), nil); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("анонимно: err = %v, ожидался ErrUnauthorized", err)
	}
}

// TestSubscriptionService_Cancel проверяет права и предусловия отмены.
func TestSubscriptionService_Cancel(t *testing.T) {
	subRepo := &mockSubRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Subscription, error) {
			return &model.Subscription{ID: id, UserID: "user-1",
				Status: model.SubscriptionActive}, nil
		},
	}
	runner := &mockRunner{}
	svc := NewSubscriptionService(subRepo, adminRepo("admin-1"), runner, slog.Default())

	// Чужая подписка, не-админ
	if _, err := svc.Cancel(context.Background(), &Actor{ID: "user-2"}, "sub-1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("чужая подписка: err = %v, ожидался ErrForbidden", err)
	}

	// Владелец
	if _, err := svc.Cancel(context.Background(), &Actor{ID: "user-1"}, "sub-1"); err != nil {
		t.Fatalf("Cancel() ошибка: %v", err)
	}
	if runner.calls != 1 {
		t.Errorf("RunInTx вызван %d раз, ожидался 1", runner.calls)
	}
}

// TestSubscriptionService_Cancel_Finished проверяет отказ отмены
// завершённой подписки.
func TestSubscriptionService_Cancel_Finished(t *testing.T) {
	subRepo := &mockSubRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Subscription, error) {
			return &model.Subscription{ID: id, UserID: "user-1",
				Status: model.SubscriptionExpired}, nil
		},
	}
	svc := NewSubscriptionService(subRepo, &mockUserRepo{}, &mockRunner{}, slog.Default())

	_, err := svc.Cancel(context.Background(), &Actor{ID: "user-1"}, "sub-1")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, ожидался ErrValidation", err)
	}
}
