// Package models содержит доменную модель платежа.
package models

import "time"

// Статусы платежа. Переходы: pending -> completed или pending -> failed,
// completed и failed терминальны.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// Payment запись о попытке платежа у внешнего провайдера.
// ProviderPaymentID уникален на уровне схемы и служит ключом идемпотентности:
// повторная доставка уведомления о том же платеже не зачисляется второй раз.
type Payment struct {
	ID                int        // Внутренний идентификатор
	UserUID           string     // Пользователь, которому зачисляется платёж
	ProviderPaymentID string     // Внешний идентификатор платежа (уникальный)
	Amount            int64      // Сумма в минорных единицах валюты
	Currency          string     // Код валюты, например USD
	Status            string     // pending / completed / failed
	CreatedAt         time.Time  // Момент первой регистрации
	CompletedAt       *time.Time // Момент перехода в терминальный статус completed
}
