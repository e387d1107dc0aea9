package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ryabovmax/proxy-access-engine/internal/models"
)

// FindCredential возвращает учётку пользователя для сервера либо nil, если её нет.
func (s *Storage) FindCredential(ctx context.Context, userUID, endpointID string) (*models.ProxyCredential, error) {
	const op = "storage.FindCredential"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, endpoint_id, secret, issued_at, rotated_at
			  FROM proxy_credentials
			  WHERE user_uid = $1 AND endpoint_id = $2`
	c, err := scanCredential(s.conn(ctx).QueryRowContext(ctx, query, userUID, endpointID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// FindCredentialBySecret возвращает учётку по значению секрета либо nil.
// Ротация делает прежний секрет недействительным немедленно: старое
// значение этим запросом больше не находится.
func (s *Storage) FindCredentialBySecret(ctx context.Context, secret string) (*models.ProxyCredential, error) {
	const op = "storage.FindCredentialBySecret"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, endpoint_id, secret, issued_at, rotated_at
			  FROM proxy_credentials
			  WHERE secret = $1`
	c, err := scanCredential(s.conn(ctx).QueryRowContext(ctx, query, secret))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// ListCredentials возвращает все учётки пользователя в порядке выпуска.
func (s *Storage) ListCredentials(ctx context.Context, userUID string) ([]*models.ProxyCredential, error) {
	const op = "storage.ListCredentials"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, endpoint_id, secret, issued_at, rotated_at
			  FROM proxy_credentials
			  WHERE user_uid = $1
			  ORDER BY id`
	rows, err := s.conn(ctx).QueryContext(ctx, query, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.ProxyCredential
	for rows.Next() {
		c := &models.ProxyCredential{}
		var rotatedAt sql.NullTime
		if err = rows.Scan(&c.ID, &c.UserUID, &c.EndpointID, &c.Secret,
			&c.IssuedAt, &rotatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		c.IssuedAt = c.IssuedAt.UTC()
		if rotatedAt.Valid {
			utc := rotatedAt.Time.UTC()
			c.RotatedAt = &utc
		}
		result = append(result, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// InsertCredential сохраняет новую учётку. Возвращает ErrSecretTaken при
// коллизии секрета (вызывающий генерирует новый и повторяет) и
// ErrCredentialExists, если учётку для этой пары уже создал конкурентный запрос.
func (s *Storage) InsertCredential(ctx context.Context, c models.ProxyCredential) (*models.ProxyCredential, error) {
	const op = "storage.InsertCredential"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO proxy_credentials (user_uid, endpoint_id, secret, issued_at)
			  VALUES ($1, $2, $3, $4)
			  RETURNING id, user_uid, endpoint_id, secret, issued_at, rotated_at`
	created, err := scanCredential(s.conn(ctx).QueryRowContext(ctx, query,
		c.UserUID, c.EndpointID, c.Secret, c.IssuedAt.UTC()))
	if err != nil {
		if isUniqueViolation(err, "proxy_credentials_secret_key") {
			return nil, fmt.Errorf("%s: %w", op, ErrSecretTaken)
		}
		if isUniqueViolation(err, "proxy_credentials_user_endpoint_key") {
			return nil, fmt.Errorf("%s: %w", op, ErrCredentialExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// RotateCredentialSecret заменяет секрет учётки и отмечает момент ротации.
// Возвращает ErrSecretTaken при коллизии нового секрета.
func (s *Storage) RotateCredentialSecret(ctx context.Context, id int, newSecret string, rotatedAt time.Time) (*models.ProxyCredential, error) {
	const op = "storage.RotateCredentialSecret"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE proxy_credentials
			  SET secret = $2, rotated_at = $3
			  WHERE id = $1
			  RETURNING id, user_uid, endpoint_id, secret, issued_at, rotated_at`
	updated, err := scanCredential(s.conn(ctx).QueryRowContext(ctx, query, id, newSecret, rotatedAt.UTC()))
	if err != nil {
		if isUniqueViolation(err, "proxy_credentials_secret_key") {
			return nil, fmt.Errorf("%s: %w", op, ErrSecretTaken)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return updated, nil
}

func scanCredential(row *sql.Row) (*models.ProxyCredential, error) {
	c := &models.ProxyCredential{}
	var rotatedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.UserUID, &c.EndpointID, &c.Secret,
		&c.IssuedAt, &rotatedAt); err != nil {
		return nil, err
	}
	c.IssuedAt = c.IssuedAt.UTC()
	if rotatedAt.Valid {
		utc := rotatedAt.Time.UTC()
		c.RotatedAt = &utc
	}
	return c, nil
}
