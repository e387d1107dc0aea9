package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ryabovmax/proxy-access-engine/internal/models"
)

// InsertPendingPayment регистрирует платёж в статусе pending. Возвращает
// false без ошибки, если платёж с таким provider_payment_id уже
// зарегистрирован: уникальное ограничение схемы — первичный механизм
// защиты от двойного зачисления, он работает и между независимыми
// экземплярами движка.
func (s *Storage) InsertPendingPayment(ctx context.Context, p models.Payment) (bool, error) {
	const op = "storage.InsertPendingPayment"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO payments (user_uid, provider_payment_id, amount, currency, status, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (provider_payment_id) DO NOTHING`
	res, err := s.conn(ctx).ExecContext(ctx, query,
		p.UserUID, p.ProviderPaymentID, p.Amount, p.Currency, models.PaymentStatusPending, p.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rows == 1, nil
}

// GetPaymentForUpdate возвращает платёж по provider_payment_id, удерживая
// блокировку строки до конца транзакции. Конкурентная доставка того же
// уведомления ждёт на этой блокировке и после коммита видит терминальный статус.
func (s *Storage) GetPaymentForUpdate(ctx context.Context, providerPaymentID string) (*models.Payment, error) {
	const op = "storage.GetPaymentForUpdate"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, provider_payment_id, amount, currency, status, created_at, completed_at
			  FROM payments
			  WHERE provider_payment_id = $1
			  FOR UPDATE`
	p, err := scanPayment(s.conn(ctx).QueryRowContext(ctx, query, providerPaymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrPaymentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// GetPaymentByProviderID возвращает платёж по provider_payment_id без блокировки.
func (s *Storage) GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error) {
	const op = "storage.GetPaymentByProviderID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, provider_payment_id, amount, currency, status, created_at, completed_at
			  FROM payments
			  WHERE provider_payment_id = $1`
	p, err := scanPayment(s.conn(ctx).QueryRowContext(ctx, query, providerPaymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrPaymentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// CompletePayment переводит платёж из pending в completed. Терминальные
// статусы не перезаписываются: повторный вызов не находит строку.
func (s *Storage) CompletePayment(ctx context.Context, providerPaymentID string, completedAt time.Time) error {
	const op = "storage.CompletePayment"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payments
			  SET status = $2, completed_at = $3
			  WHERE provider_payment_id = $1 AND status = $4`
	res, err := s.conn(ctx).ExecContext(ctx, query,
		providerPaymentID, models.PaymentStatusCompleted, completedAt.UTC(), models.PaymentStatusPending)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, ErrPaymentNotFound)
	}
	return nil
}

// FailPayment переводит платёж из pending в failed.
func (s *Storage) FailPayment(ctx context.Context, providerPaymentID string, failedAt time.Time) error {
	const op = "storage.FailPayment"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payments
			  SET status = $2, completed_at = $3
			  WHERE provider_payment_id = $1 AND status = $4`
	res, err := s.conn(ctx).ExecContext(ctx, query,
		providerPaymentID, models.PaymentStatusFailed, failedAt.UTC(), models.PaymentStatusPending)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, ErrPaymentNotFound)
	}
	return nil
}

func scanPayment(row *sql.Row) (*models.Payment, error) {
	p := &models.Payment{}
	var completedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.UserUID, &p.ProviderPaymentID, &p.Amount,
		&p.Currency, &p.Status, &p.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	if completedAt.Valid {
		utc := completedAt.Time.UTC()
		p.CompletedAt = &utc
	}
	return p, nil
}
