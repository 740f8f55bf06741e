// user.go — модель пользователя библиотеки.
package model

import "time"

// Role — роль пользователя в системе.
type Role string

const (
	// RoleAdmin — администратор: загрузка и мутация документов,
	// управление платежами
	RoleAdmin Role = "admin"
	// RoleUser — обычный пользователь: поиск и скачивание по подписке
	RoleUser Role = "user"
)

// Tier — уровень подписки пользователя.
type Tier string

// Уровни подписки в порядке возрастания доступа.
const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// User — запись в таблице users.
type User struct {
	// ID — идентификатор пользователя (sub из JWT)
	ID string `json:"id"`
	// Email — электронная почта
	Email string `json:"email"`
	// Name — отображаемое имя
	Name string `json:"name"`
	// Role — роль (admin/user)
	Role Role `json:"role"`
	// SubscriptionTier — текущий уровень подписки.
	// nil — подписки нет, доступ к платным документам закрыт.
	SubscriptionTier *Tier `json:"subscription_tier,omitempty"`
	// CreatedAt / UpdatedAt — временные метки, назначаются БД
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
