// Package payment реализует платёжный реестр и защиту от двойного
// зачисления. Внешнее уведомление о платеже превращается не более чем в
// одно продление подписки независимо от количества повторных доставок.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ryabovmax/proxy-access-engine/internal/config"
	"github.com/ryabovmax/proxy-access-engine/internal/events"
	"github.com/ryabovmax/proxy-access-engine/internal/metrics"
	"github.com/ryabovmax/proxy-access-engine/internal/models"
)

// Result исход обработки платёжного уведомления.
type Result string

const (
	// ResultApplied платёж зачислен, подписка продлена.
	ResultApplied Result = "applied"
	// ResultAlreadyApplied повторная доставка уже зачисленного платежа,
	// безвредный идемпотентный no-op.
	ResultAlreadyApplied Result = "already_applied"
	// ResultRejected платёж отклонён валидацией.
	ResultRejected Result = "rejected"
)

// Outcome результат обработки платежа с деталями для вызывающего.
type Outcome struct {
	Result                Result     `json:"result"`
	Reason                string     `json:"reason,omitempty"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
}

// Ledger определяет методы реестра платежей в хранилище.
type Ledger interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	InsertPendingPayment(ctx context.Context, p models.Payment) (bool, error)
	GetPaymentForUpdate(ctx context.Context, providerPaymentID string) (*models.Payment, error)
	CompletePayment(ctx context.Context, providerPaymentID string, completedAt time.Time) error
	FailPayment(ctx context.Context, providerPaymentID string, failedAt time.Time) error
}

// TxManager выполняет функцию в одной транзакции хранилища.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Extender продлевает подписку пользователя. Реестр не изменяет дату
// окончания сам: продление всегда проходит через машину состояний.
type Extender interface {
	Extend(ctx context.Context, user *models.User, duration time.Duration, now time.Time) (time.Time, error)
	Forget(telegramID int64)
}

// Service реализует обработку платёжных уведомлений.
type Service struct {
	repo     Ledger
	tx       TxManager
	subs     Extender
	events   *events.Publisher
	cfg      config.Payment
	duration time.Duration
	log      *slog.Logger
}

// New создает новый Service.
func New(repo Ledger, tx TxManager, subs Extender, publisher *events.Publisher,
	cfg config.Payment, subscriptionDuration time.Duration, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		subs:     subs,
		events:   publisher,
		cfg:      cfg,
		duration: subscriptionDuration,
		log:      log,
	}
}

// PreCheck синхронная проверка платежа до подтверждения списания.
// Не изменяет состояние, только валидирует форму и цену: провайдер
// ждёт ответа в жёстком таймауте.
func (s *Service) PreCheck(providerPaymentID string, amount int64, currency string) error {
	const op = "payment.PreCheck"

	if providerPaymentID == "" {
		return fmt.Errorf("%s: empty provider payment id", op)
	}
	if err := s.validatePrice(amount, currency); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RecordAndApply регистрирует подтверждённый платёж и продлевает подписку.
// Регистрация, валидация и продление выполняются в одной транзакции:
// частичное состояние (платёж завершён, подписка не продлена) невозможно.
func (s *Service) RecordAndApply(ctx context.Context, providerPaymentID string, telegramID int64,
	amount int64, currency string, now time.Time) (*Outcome, error) {
	const op = "payment.RecordAndApply"
	now = now.UTC()
	log := s.log.With(
		slog.String("op", op),
		slog.String("provider_payment_id", providerPaymentID),
		slog.Int64("telegram_id", telegramID),
	)

	var out Outcome
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.repo.GetUserByTelegramID(ctx, telegramID)
		if err != nil {
			return err
		}

		inserted, err := s.repo.InsertPendingPayment(ctx, models.Payment{
			UserUID:           user.UID,
			ProviderPaymentID: providerPaymentID,
			Amount:            amount,
			Currency:          currency,
			CreatedAt:         now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := s.repo.GetPaymentForUpdate(ctx, providerPaymentID)
			if err != nil {
				return err
			}
			switch existing.Status {
			case models.PaymentStatusCompleted:
				out = Outcome{Result: ResultAlreadyApplied}
				return nil
			case models.PaymentStatusFailed:
				out = Outcome{Result: ResultRejected, Reason: "payment already failed"}
				return nil
			}
			// Статус pending: предыдущая обработка оборвалась до
			// терминального статуса, доводим платёж до конца.
		}

		if err := s.validatePrice(amount, currency); err != nil {
			if failErr := s.repo.FailPayment(ctx, providerPaymentID, now); failErr != nil {
				return failErr
			}
			out = Outcome{Result: ResultRejected, Reason: err.Error()}
			return nil
		}

		if err := s.repo.CompletePayment(ctx, providerPaymentID, now); err != nil {
			return err
		}
		newExpiry, err := s.subs.Extend(ctx, user, s.duration, now)
		if err != nil {
			return err
		}
		out = Outcome{Result: ResultApplied, SubscriptionExpiresAt: &newExpiry}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	switch out.Result {
	case ResultApplied:
		s.subs.Forget(telegramID)
		metrics.PaymentsApplied.Inc()
		s.events.PublishSubscriptionExtended(events.SubscriptionExtended{
			TelegramID:        telegramID,
			ProviderPaymentID: providerPaymentID,
			ExpiresAt:         *out.SubscriptionExpiresAt,
		})
		log.Info("payment applied", slog.Time("expires_at", *out.SubscriptionExpiresAt))
	case ResultAlreadyApplied:
		metrics.PaymentsDuplicate.Inc()
		log.Info("duplicate payment notification ignored")
	case ResultRejected:
		metrics.PaymentsRejected.Inc()
		log.Warn("payment rejected", slog.String("reason", out.Reason))
	}
	return &out, nil
}

func (s *Service) validatePrice(amount int64, currency string) error {
	if currency != s.cfg.PriceCurrency {
		return fmt.Errorf("unexpected currency %q, want %q", currency, s.cfg.PriceCurrency)
	}
	if amount != s.cfg.PriceAmount {
		return fmt.Errorf("unexpected amount %d, want %d", amount, s.cfg.PriceAmount)
	}
	return nil
}
