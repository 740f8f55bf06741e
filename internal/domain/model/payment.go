// payment.go — проекция платежа для отчётных dashboards.
// Read-only join таблиц payments, users и payment_methods;
// мутируется только изменением статуса (refund, update status).
package model

import "time"

// PaymentStatus — статус платежа.
type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentPending   PaymentStatus = "pending"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// PaymentType — тип платежа.
type PaymentType string

const (
	PaymentTypeSubscription PaymentType = "subscription"
	PaymentTypeOneTime      PaymentType = "one_time"
	PaymentTypeRefund       PaymentType = "refund"
)

// PaymentMethodKind — способ оплаты.
type PaymentMethodKind string

const (
	MethodCard         PaymentMethodKind = "card"
	MethodMobileMoney  PaymentMethodKind = "mobile_money"
	MethodBankTransfer PaymentMethodKind = "bank_transfer"
)

// Payment — строка отчёта по платежам.
// UserName/UserEmail и детали метода приходят из join.
type Payment struct {
	// ID — идентификатор платежа (UUID v4)
	ID string `json:"id"`
	// UserID / UserName / UserEmail — плательщик (join users)
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
	// Amount / Currency — сумма и валюта
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	// Status — completed/pending/failed/refunded
	Status PaymentStatus `json:"status"`
	// Type — subscription/one_time/refund
	Type PaymentType `json:"type"`
	// Method — способ оплаты (join payment_methods)
	Method PaymentMethodKind `json:"payment_method"`
	// MethodDetail — маскированные реквизиты метода
	// (последние цифры карты, номер mobile money и т.п.)
	MethodDetail string `json:"method_detail,omitempty"`
	// Date — дата платежа
	Date time.Time `json:"date"`
}
