// Package access реализует шлюз авторизации — единственную точку, через
// которую привилегированные операции добираются до выпуска учётных данных.
// Обработчики не обращаются к выпускающему сервису напрямую: композиция
// проверки и выпуска зафиксирована здесь, обход шлюза — нарушение контракта.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ryabovmax/proxy-access-engine/internal/config"
	"github.com/ryabovmax/proxy-access-engine/internal/models"
	"github.com/ryabovmax/proxy-access-engine/internal/services/credential"
	"github.com/ryabovmax/proxy-access-engine/internal/services/subscription"
)

// DenyReason причина отказа в доступе, по ней фронтенд выбирает призыв к действию.
type DenyReason string

const (
	// DenyNoSubscription подписка никогда не оформлялась.
	DenyNoSubscription DenyReason = "no_subscription"
	// DenyExpired подписка была, но истекла.
	DenyExpired DenyReason = "expired"
)

// Decision решение шлюза по запросу.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

// Users возвращает пользователей для проверки доступа.
type Users interface {
	UserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
}

// Issuer выпускает и ротирует учётные данные.
type Issuer interface {
	GetOrCreateAll(ctx context.Context, userUID string, endpoints []config.Endpoint, now time.Time) ([]*models.ProxyCredential, error)
	RotateAll(ctx context.Context, userUID string, now time.Time) ([]*models.ProxyCredential, error)
}

// Gate авторизационный шлюз движка.
type Gate struct {
	users     Users
	issuer    Issuer
	endpoints []config.Endpoint
	log       *slog.Logger
}

// New создает новый Gate.
func New(users Users, issuer Issuer, endpoints []config.Endpoint, log *slog.Logger) *Gate {
	return &Gate{
		users:     users,
		issuer:    issuer,
		endpoints: endpoints,
		log:       log,
	}
}

// Check проверяет доступ пользователя в момент now. Решение принимается
// строго по IsActive, отображаемый статус здесь не участвует.
func (g *Gate) Check(ctx context.Context, telegramID int64, now time.Time) (*models.User, Decision, error) {
	const op = "access.Check"
	now = now.UTC()

	user, err := g.users.UserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, Decision{}, fmt.Errorf("%s: %w", op, err)
	}

	if subscription.IsActive(user.SubscriptionExpiresAt, now) {
		return user, Decision{Allowed: true}, nil
	}
	reason := DenyExpired
	if user.SubscriptionExpiresAt == nil {
		reason = DenyNoSubscription
	}
	return user, Decision{Allowed: false, Reason: reason}, nil
}

// Config возвращает представления учётных данных пользователя для всех
// настроенных серверов, создавая недостающие. При отказе шлюза выпуск
// не вызывается.
func (g *Gate) Config(ctx context.Context, telegramID int64, now time.Time) ([]models.CredentialView, Decision, error) {
	const op = "access.Config"

	user, decision, err := g.Check(ctx, telegramID, now)
	if err != nil {
		return nil, Decision{}, fmt.Errorf("%s: %w", op, err)
	}
	if !decision.Allowed {
		return nil, decision, nil
	}

	creds, err := g.issuer.GetOrCreateAll(ctx, user.UID, g.endpoints, now)
	if err != nil {
		return nil, Decision{}, fmt.Errorf("%s: %w", op, err)
	}
	return credential.Views(creds, g.endpoints), decision, nil
}

// Refresh ротирует все существующие учётки пользователя и возвращает новые
// представления. Отсутствие учёток — успешный no-op с пустым списком,
// пользователю это не показывается как ошибка.
func (g *Gate) Refresh(ctx context.Context, telegramID int64, now time.Time) ([]models.CredentialView, Decision, error) {
	const op = "access.Refresh"

	user, decision, err := g.Check(ctx, telegramID, now)
	if err != nil {
		return nil, Decision{}, fmt.Errorf("%s: %w", op, err)
	}
	if !decision.Allowed {
		return nil, decision, nil
	}

	rotated, err := g.issuer.RotateAll(ctx, user.UID, now)
	if err != nil {
		if errors.Is(err, credential.ErrNoCredentialsToRotate) {
			return []models.CredentialView{}, decision, nil
		}
		return nil, Decision{}, fmt.Errorf("%s: %w", op, err)
	}
	return credential.Views(rotated, g.endpoints), decision, nil
}
