package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ryabovmax/proxy-access-engine/internal/models"
)

// CreateOrGetUser возвращает пользователя по telegram id, создавая запись
// при первом контакте. Отображаемое имя обновляется при каждом вызове,
// остальные поля при повторном контакте не трогаются.
func (s *Storage) CreateOrGetUser(ctx context.Context, telegramID int64, displayName string, now time.Time) (*models.User, error) {
	const op = "storage.CreateOrGetUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO users (telegram_id, display_name, created_at)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (telegram_id) DO UPDATE SET display_name = EXCLUDED.display_name
			  RETURNING uid, telegram_id, display_name, trial_used, subscription_expires_at, created_at`
	return s.scanUser(s.conn(ctx).QueryRowContext(ctx, query, telegramID, displayName, now.UTC()))
}

// GetUserByTelegramID возвращает пользователя по его telegram id.
func (s *Storage) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	const op = "storage.GetUserByTelegramID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT uid, telegram_id, display_name, trial_used, subscription_expires_at, created_at
			  FROM users
			  WHERE telegram_id = $1`
	u, err := s.scanUser(s.conn(ctx).QueryRowContext(ctx, query, telegramID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	return u, err
}

// MarkTrialUsed атомарно отмечает пробный период использованным и
// выставляет дату окончания доступа. Возвращает false, если пробный
// период уже был использован: условие trial_used = FALSE в одном
// UPDATE исключает двойную выдачу при конкурентных запросах.
// Дата окончания никогда не уменьшается.
func (s *Storage) MarkTrialUsed(ctx context.Context, telegramID int64, expiresAt time.Time) (*time.Time, bool, error) {
	const op = "storage.MarkTrialUsed"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET trial_used = TRUE,
			      subscription_expires_at = GREATEST(COALESCE(subscription_expires_at, $2), $2)
			  WHERE telegram_id = $1 AND trial_used = FALSE
			  RETURNING subscription_expires_at`
	var newExpiry time.Time
	err := s.conn(ctx).QueryRowContext(ctx, query, telegramID, expiresAt.UTC()).Scan(&newExpiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	newExpiry = newExpiry.UTC()
	return &newExpiry, true, nil
}

// ExtendSubscription продлевает доступ пользователя на duration, отталкиваясь
// от более позднего из текущей даты окончания и now. Новая дата вычисляется
// в самом UPDATE, поэтому конкурентные продления не теряют друг друга.
func (s *Storage) ExtendSubscription(ctx context.Context, userUID string, duration time.Duration, now time.Time) (time.Time, error) {
	const op = "storage.ExtendSubscription"
	select {
	case <-ctx.Done():
		return time.Time{}, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET subscription_expires_at =
			      GREATEST(COALESCE(subscription_expires_at, $2), $2) + make_interval(secs => $3)
			  WHERE uid = $1
			  RETURNING subscription_expires_at`
	var newExpiry time.Time
	err := s.conn(ctx).QueryRowContext(ctx, query, userUID, now.UTC(), duration.Seconds()).Scan(&newExpiry)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}
	return newExpiry.UTC(), nil
}

// HasCompletedPayment сообщает, был ли у пользователя хотя бы один
// завершённый платёж. Используется только для отображаемого статуса.
func (s *Storage) HasCompletedPayment(ctx context.Context, userUID string) (bool, error) {
	const op = "storage.HasCompletedPayment"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT EXISTS (SELECT 1 FROM payments WHERE user_uid = $1 AND status = 'completed')`
	var exists bool
	if err := s.conn(ctx).QueryRowContext(ctx, query, userUID).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

func (s *Storage) scanUser(row *sql.Row) (*models.User, error) {
	const op = "storage.scanUser"

	u := &models.User{}
	var expiresAt sql.NullTime
	if err := row.Scan(&u.UID, &u.TelegramID, &u.DisplayName, &u.TrialUsed,
		&expiresAt, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Все даты приводятся к UTC на границе хранилища, смешанных
	// представлений времени выше этой границы не бывает.
	if expiresAt.Valid {
		utc := expiresAt.Time.UTC()
		u.SubscriptionExpiresAt = &utc
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}
