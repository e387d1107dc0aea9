// Package models содержит доменную модель пользователя прокси-сервиса:
// учётную запись с привязкой к Telegram, признак использованного пробного
// периода и дату окончания доступа. Структуры используются в бизнес-логике
// и при работе с хранилищем.
package models

import "time"

// SubscriptionStatus производный статус доступа пользователя.
// Статус не хранится в базе, он вычисляется из полей TrialUsed и
// SubscriptionExpiresAt относительно текущего момента и используется
// только для отображения.
type SubscriptionStatus string

const (
	// StatusNew пользователь ещё не активировал ни пробный период, ни подписку.
	StatusNew SubscriptionStatus = "new"
	// StatusTrialActive действует пробный период.
	StatusTrialActive SubscriptionStatus = "trial_active"
	// StatusSubscribed действует оплаченная подписка.
	StatusSubscribed SubscriptionStatus = "subscribed"
	// StatusExpired доступ истёк.
	StatusExpired SubscriptionStatus = "expired"
)

// User представляет пользователя прокси-сервиса.
type User struct {
	UID                   string     // Уникальный идентификатор пользователя (UUID)
	TelegramID            int64      // Внешний идентификатор Telegram (уникальный, неизменяемый)
	DisplayName           string     // Отображаемое имя, обновляется при каждом контакте
	TrialUsed             bool       // Признак использованного пробного периода, false -> true один раз
	SubscriptionExpiresAt *time.Time // Дата окончания доступа (UTC), nil или прошлое = доступа нет
	CreatedAt             time.Time  // Дата первого контакта
}

// StatusSummary сводка по состоянию доступа пользователя, возвращается
// операцией start и кешируется.
type StatusSummary struct {
	Status                SubscriptionStatus `json:"status"`
	TrialUsed             bool               `json:"trial_used"`
	SubscriptionExpiresAt *time.Time         `json:"subscription_expires_at,omitempty"`
}
