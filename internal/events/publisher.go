// Package events публикует события движка доступа в RabbitMQ для
// пайплайна уведомлений: выдача пробного периода и продление подписки.
// Публикация не влияет на исход операции — ошибка брокера логируется,
// но не откатывает уже зафиксированное изменение доступа.
package events

import (
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/ryabovmax/proxy-access-engine/internal/lib/rabbitmq"
	"github.com/ryabovmax/proxy-access-engine/internal/lib/sl"
)

// Exchange имя exchange для событий движка.
const Exchange = "access.events"

// Ключи маршрутизации событий.
const (
	RoutingKeyTrialGranted         = "trial.granted"
	RoutingKeySubscriptionExtended = "subscription.extended"
)

// TrialGranted событие выдачи пробного периода.
type TrialGranted struct {
	TelegramID int64     `json:"telegram_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SubscriptionExtended событие продления подписки после платежа.
type SubscriptionExtended struct {
	TelegramID        int64     `json:"telegram_id"`
	ProviderPaymentID string    `json:"provider_payment_id"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// Publisher публикует события в RabbitMQ. Нулевой Publisher допустим
// и молча пропускает публикацию: брокер в конфигурации не обязателен.
type Publisher struct {
	ch  *amqp.Channel
	log *slog.Logger
}

// New создает новый Publisher поверх открытого канала.
func New(ch *amqp.Channel, log *slog.Logger) *Publisher {
	return &Publisher{ch: ch, log: log}
}

// PublishTrialGranted публикует событие выдачи пробного периода.
func (p *Publisher) PublishTrialGranted(event TrialGranted) {
	p.publish(RoutingKeyTrialGranted, event)
}

// PublishSubscriptionExtended публикует событие продления подписки.
func (p *Publisher) PublishSubscriptionExtended(event SubscriptionExtended) {
	p.publish(RoutingKeySubscriptionExtended, event)
}

func (p *Publisher) publish(routingKey string, event any) {
	if p == nil || p.ch == nil {
		return
	}
	if err := rabbitmq.PublishMessage(p.ch, Exchange, routingKey, event); err != nil {
		p.log.Warn("failed to publish event",
			slog.String("routing_key", routingKey), sl.Err(err))
	}
}
