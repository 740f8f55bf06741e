// Пакет payclient — HTTP-клиент платёжного шлюза.
// Шлюз создаёт карточные payment intent и инициирует операции
// mobile money (MTN, Airtel). LexStore не хранит платёжные реквизиты:
// карточные данные подтверждаются на стороне шлюза.
package payclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrGatewayUnavailable — платёжный шлюз недоступен или вернул 5xx.
var ErrGatewayUnavailable = errors.New("платёжный шлюз недоступен")

// ErrGatewayRejected — шлюз отклонил операцию (4xx).
var ErrGatewayRejected = errors.New("платёжный шлюз отклонил операцию")

// PaymentIntent — созданный карточный payment intent.
type PaymentIntent struct {
	// ID — идентификатор intent в шлюзе.
	ID string `json:"id"`
	// ClientSecret — секрет для подтверждения платежа на клиенте.
	ClientSecret string `json:"clientSecret"`
}

// MobileMoneyResult — результат инициации mobile money операции.
type MobileMoneyResult struct {
	// TransactionID — идентификатор транзакции в шлюзе.
	TransactionID string `json:"transactionId"`
	// Status — статус операции ("pending" — push-запрос отправлен на телефон).
	Status string `json:"status"`
	// Message — человекочитаемое описание от шлюза.
	Message string `json:"message"`
}

// Client — HTTP-клиент платёжного шлюза.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// New создаёт клиент платёжного шлюза.
// baseURL — базовый URL шлюза, timeout — таймаут HTTP-запросов.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger.With(slog.String("component", "pay_client")),
	}
}

// CreatePaymentIntent создаёт карточный payment intent.
// POST /api/create-payment-intent {plan, price, userId}
// price — сумма в минимальных единицах валюты.
func (c *Client) CreatePaymentIntent(ctx context.Context, plan string, price int64, userID string) (*PaymentIntent, error) {
	reqBody := map[string]any{
		"plan":   plan,
		"price":  price,
		"userId": userID,
	}

	var intent PaymentIntent
	if err := c.post(ctx, "/api/create-payment-intent", reqBody, &intent); err != nil {
		return nil, err
	}

	if intent.ClientSecret == "" {
		return nil, fmt.Errorf("пустой clientSecret в ответе шлюза")
	}

	c.logger.Debug("Payment intent создан",
		slog.String("intent_id", intent.ID),
		slog.String("plan", plan),
		slog.Int64("price", price),
	)
	return &intent, nil
}

// MobileMoneyRequest — параметры инициации mobile money операции.
type MobileMoneyRequest struct {
	Provider    string `json:"provider"`
	PhoneNumber string `json:"phoneNumber"`
	Amount      int64  `json:"amount"`
	UserID      string `json:"userId"`
	Plan        string `json:"plan"`
}

// InitiateMobileMoney инициирует mobile money операцию.
// POST /api/mobile-money/initiate {provider, phoneNumber, amount, userId, plan}
// Шлюз отправляет push-запрос на телефон; операция остаётся pending
// до подтверждения пользователем.
func (c *Client) InitiateMobileMoney(ctx context.Context, req MobileMoneyRequest) (*MobileMoneyResult, error) {
	var result MobileMoneyResult
	if err := c.post(ctx, "/api/mobile-money/initiate", req, &result); err != nil {
		return nil, err
	}

	c.logger.Debug("Mobile money операция инициирована",
		slog.String("transaction_id", result.TransactionID),
		slog.String("provider", req.Provider),
		slog.String("status", result.Status),
	)
	return &result, nil
}

// post выполняет POST-запрос к шлюзу и декодирует JSON-ответ в out.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("сериализация запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("создание запроса %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s вернул статус %d: %s", ErrGatewayUnavailable, path, resp.StatusCode, string(respBody))
	case resp.StatusCode >= 400:
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s вернул статус %d: %s", ErrGatewayRejected, path, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа %s: %w", path, err)
	}
	return nil
}

// ReadinessChecker — проверка доступности платёжного шлюза для health endpoint.
type ReadinessChecker struct {
	client  *http.Client
	baseURL string
}

// NewReadinessChecker создаёт checker доступности платёжного шлюза.
func NewReadinessChecker(baseURL string, timeout time.Duration) *ReadinessChecker {
	return &ReadinessChecker{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// CheckReady проверяет доступность шлюза запросом к корню.
// Любой HTTP-ответ считается признаком жизни: шлюз может не иметь
// выделенного health endpoint.
func (c *ReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, c.baseURL+"/", http.NoBody)
	if err != nil {
		return "fail", "ошибка создания запроса: " + err.Error()
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("платёжный шлюз недоступен: %v", err)
	}
	defer resp.Body.Close()

	return "ok", fmt.Sprintf("шлюз отвечает, статус %d", resp.StatusCode)
}
