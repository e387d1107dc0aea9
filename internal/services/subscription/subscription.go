// Package subscription реализует машину состояний доступа пользователя.
//
// Статус не хранится в базе: он выводится из полей trial_used и
// subscription_expires_at относительно текущего момента. Решения о доступе
// принимаются только функцией IsActive, производный статус служит для
// отображения.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ryabovmax/proxy-access-engine/internal/events"
	"github.com/ryabovmax/proxy-access-engine/internal/lib/sl"
	"github.com/ryabovmax/proxy-access-engine/internal/metrics"
	"github.com/ryabovmax/proxy-access-engine/internal/models"
)

// ErrTrialAlreadyUsed пробный период уже был использован, повторная выдача отклонена.
var ErrTrialAlreadyUsed = errors.New("trial already used")

// cacheTTL время жизни кешированной записи пользователя.
const cacheTTL = 5 * time.Minute

// UserRepository определяет методы для работы с пользователями в хранилище.
type UserRepository interface {
	// CreateOrGetUser возвращает пользователя, создавая запись при первом контакте.
	CreateOrGetUser(ctx context.Context, telegramID int64, displayName string, now time.Time) (*models.User, error)
	// GetUserByTelegramID возвращает пользователя по telegram id.
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	// MarkTrialUsed атомарно отмечает пробный период использованным.
	MarkTrialUsed(ctx context.Context, telegramID int64, expiresAt time.Time) (*time.Time, bool, error)
	// ExtendSubscription продлевает доступ пользователя.
	ExtendSubscription(ctx context.Context, userUID string, duration time.Duration, now time.Time) (time.Time, error)
	// HasCompletedPayment сообщает о наличии завершённого платежа.
	HasCompletedPayment(ctx context.Context, userUID string) (bool, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// Service реализует операции жизненного цикла доступа.
type Service struct {
	repo          UserRepository
	cache         Cache
	events        *events.Publisher
	trialDuration time.Duration
	log           *slog.Logger
}

// New создает новый Service.
func New(repo UserRepository, cache Cache, publisher *events.Publisher, trialDuration time.Duration, log *slog.Logger) *Service {
	return &Service{
		repo:          repo,
		cache:         cache,
		events:        publisher,
		trialDuration: trialDuration,
		log:           log,
	}
}

// IsActive сообщает, действует ли доступ в момент now. Сравнение строгое:
// в момент, равный дате окончания, доступ уже не действует.
func IsActive(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && expiresAt.After(now)
}

// DeriveStatus выводит отображаемый статус из полей пользователя.
// Различие пробного и оплаченного доступа восстанавливается по trial_used
// и истории платежей, отдельных часов для пробного периода нет.
func DeriveStatus(trialUsed bool, expiresAt *time.Time, hasPaid bool, now time.Time) models.SubscriptionStatus {
	switch {
	case expiresAt == nil && !trialUsed:
		return models.StatusNew
	case expiresAt == nil:
		return models.StatusExpired
	case !expiresAt.After(now):
		return models.StatusExpired
	case hasPaid:
		return models.StatusSubscribed
	case trialUsed:
		return models.StatusTrialActive
	default:
		return models.StatusSubscribed
	}
}

// Start регистрирует контакт пользователя: создаёт запись при первом
// обращении, обновляет отображаемое имя и возвращает сводку статуса.
func (s *Service) Start(ctx context.Context, telegramID int64, displayName string, now time.Time) (*models.StatusSummary, error) {
	const op = "subscription.Start"
	now = now.UTC()

	user, err := s.repo.CreateOrGetUser(ctx, telegramID, displayName, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.cacheUser(user)

	hasPaid, err := s.repo.HasCompletedPayment(ctx, user.UID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.StatusSummary{
		Status:                DeriveStatus(user.TrialUsed, user.SubscriptionExpiresAt, hasPaid, now),
		TrialUsed:             user.TrialUsed,
		SubscriptionExpiresAt: user.SubscriptionExpiresAt,
	}, nil
}

// UserByTelegramID возвращает пользователя, используя кеш или хранилище.
func (s *Service) UserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	const op = "subscription.UserByTelegramID"

	key := userCacheKey(telegramID)
	var cached models.User
	found, err := s.cache.Get(key, &cached)
	if err != nil {
		s.log.Warn("failed to read user from cache", slog.String("key", key), sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	user, err := s.repo.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.cacheUser(user)
	return user, nil
}

// GrantTrial выдаёт одноразовый пробный период. Возвращает ErrTrialAlreadyUsed,
// если пробный период уже был использован: повторный вызов отклоняется,
// а не повторяется молча.
func (s *Service) GrantTrial(ctx context.Context, telegramID int64, now time.Time) (time.Time, error) {
	const op = "subscription.GrantTrial"
	now = now.UTC()

	expiresAt, granted, err := s.repo.MarkTrialUsed(ctx, telegramID, now.Add(s.trialDuration))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}
	if !granted {
		// Условный UPDATE не различает "нет пользователя" и "пробный
		// период использован", уточняем отдельным чтением.
		if _, err = s.repo.GetUserByTelegramID(ctx, telegramID); err != nil {
			return time.Time{}, fmt.Errorf("%s: %w", op, err)
		}
		return time.Time{}, fmt.Errorf("%s: %w", op, ErrTrialAlreadyUsed)
	}

	s.forget(telegramID)
	metrics.TrialsGranted.Inc()
	s.events.PublishTrialGranted(events.TrialGranted{TelegramID: telegramID, ExpiresAt: *expiresAt})
	s.log.Info("trial granted",
		slog.Int64("telegram_id", telegramID),
		slog.Time("expires_at", *expiresAt))
	return *expiresAt, nil
}

// Extend продлевает доступ пользователя на duration. Это единственный путь
// увеличения даты окончания; продление отталкивается от более позднего из
// текущей даты и now и никогда не сокращает доступ. Вызывается только
// платёжным реестром после первой фиксации платежа.
func (s *Service) Extend(ctx context.Context, user *models.User, duration time.Duration, now time.Time) (time.Time, error) {
	const op = "subscription.Extend"

	newExpiry, err := s.repo.ExtendSubscription(ctx, user.UID, duration, now.UTC())
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	s.forget(user.TelegramID)
	s.log.Info("subscription extended",
		slog.Int64("telegram_id", user.TelegramID),
		slog.Time("expires_at", newExpiry))
	return newExpiry, nil
}

// Forget сбрасывает кешированную запись пользователя. Вызывается после
// фиксации изменений, сделанных вне этого сервиса.
func (s *Service) Forget(telegramID int64) {
	s.forget(telegramID)
}

func (s *Service) cacheUser(user *models.User) {
	key := userCacheKey(user.TelegramID)
	if err := s.cache.Set(key, user, cacheTTL); err != nil {
		s.log.Warn("failed to cache user", slog.String("key", key), sl.Err(err))
	}
}

func (s *Service) forget(telegramID int64) {
	key := userCacheKey(telegramID)
	if err := s.cache.Invalidate(key); err != nil {
		s.log.Warn("failed to invalidate user cache", slog.String("key", key), sl.Err(err))
	}
}

func userCacheKey(telegramID int64) string {
	return fmt.Sprintf("user:%d", telegramID)
}
