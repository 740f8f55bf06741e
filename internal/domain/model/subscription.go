// subscription.go — модель подписки и тарифные планы.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// SubscriptionStatus — статус подписки.
type SubscriptionStatus string

const (
	// SubscriptionActive — оплачена, действует
	SubscriptionActive SubscriptionStatus = "active"
	// SubscriptionPending — инициирована (mobile money), ждёт подтверждения
	SubscriptionPending SubscriptionStatus = "pending"
	// SubscriptionRefunded — возврат средств
	SubscriptionRefunded SubscriptionStatus = "refunded"
	// SubscriptionCancelled — отменена пользователем
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	// SubscriptionExpired — срок действия истёк
	SubscriptionExpired SubscriptionStatus = "expired"
)

// Subscription — запись в таблице subscriptions.
type Subscription struct {
	// ID — уникальный идентификатор подписки (UUID v4)
	ID string `json:"id"`
	// UserID — владелец подписки
	UserID string `json:"user_id"`
	// Plan — тарифный план (bronze/silver/gold/platinum)
	Plan Tier `json:"plan"`
	// Status — статус подписки
	Status SubscriptionStatus `json:"status"`
	// StartDate — начало действия
	StartDate time.Time `json:"start_date"`
	// EndDate — окончание действия: start_date + длительность плана
	EndDate time.Time `json:"end_date"`
	// Amount — сумма платежа
	Amount float64 `json:"amount"`
	// Currency — валюта платежа
	Currency string `json:"currency"`
	// AutoRenew — автопродление
	AutoRenew bool `json:"auto_renew"`
	// Meta — детали платёжного метода (jsonb):
	// card: payment_intent_id; mobile money: provider, phone, transaction_id
	Meta json.RawMessage `json:"metadata,omitempty"`
	// CreatedAt / UpdatedAt — временные метки, назначаются БД
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlanInfo — параметры тарифного плана.
type PlanInfo struct {
	// Price — стоимость плана
	Price float64
	// Currency — валюта
	Currency string
	// Duration — человекочитаемая метка длительности,
	// разбирается в ComputeEndDate
	Duration string
}

// Plans — фиксированная таблица тарифных планов.
var Plans = map[Tier]PlanInfo{
	TierBronze:   {Price: 10000, Currency: "UGX", Duration: "1 Day"},
	TierSilver:   {Price: 50000, Currency: "UGX", Duration: "Monthly"},
	TierGold:     {Price: 120000, Currency: "UGX", Duration: "Monthly"},
	TierPlatinum: {Price: 1000000, Currency: "UGX", Duration: "Per Year"},
}

// PlanByTier возвращает параметры плана. ok == false для неизвестного tier.
func PlanByTier(tier Tier) (PlanInfo, bool) {
	p, ok := Plans[tier]
	return p, ok
}

// ComputeEndDate вычисляет окончание подписки из метки длительности плана.
// Сопоставление метки — case-insensitive:
//
//	"1 day"    → +24 часа
//	"per year" → +365 дней
//	иначе      → +30 дней (по умолчанию — месяц)
func ComputeEndDate(start time.Time, duration string) time.Time {
	switch strings.ToLower(strings.TrimSpace(duration)) {
	case "1 day":
		return start.Add(24 * time.Hour)
	case "per year":
		return start.AddDate(0, 0, 365)
	default:
		return start.AddDate(0, 0, 30)
	}
}
