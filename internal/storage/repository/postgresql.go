// Package repository реализует хранилище данных на основе PostgreSQL
// для учёта пользователей, учётных данных прокси и платежей. Сериализация
// конкурирующих операций над одним пользователем обеспечивается самим
// хранилищем: условными однострочными UPDATE, блокировкой строки платежа
// и уникальными ограничениями схемы.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Ошибки хранилища, на которые реагирует бизнес-логика.
var (
	// ErrUserNotFound пользователь с таким идентификатором не зарегистрирован.
	ErrUserNotFound = errors.New("user not found")
	// ErrPaymentNotFound платёж с таким provider_payment_id отсутствует.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrSecretTaken сгенерированный секрет уже существует, генерацию нужно повторить.
	ErrSecretTaken = errors.New("secret already taken")
	// ErrCredentialExists учётка для пары (пользователь, сервер) уже создана конкурентно.
	ErrCredentialExists = errors.New("credential already exists")
)

// dbtx общий интерфейс *sql.DB и *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Storage инкапсулирует соединение с базой данных PostgreSQL
// и реализует методы работы с пользователями, учётными данными и платежами.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// CheckDatabaseReady проверяет готовность базы данных.
func (s *Storage) CheckDatabaseReady(ctx context.Context) error {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'users'
    )`).Scan(&exists)
	if err != nil || !exists {
		return fmt.Errorf("required table users missing or query error: %w", err)
	}
	return nil
}

type txKey struct{}

// WithinTx выполняет fn в одной транзакции. Все методы хранилища,
// вызванные с возвращённым контекстом, работают через эту транзакцию.
// Вложенный вызов продолжает уже открытую транзакцию.
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	const op = "storage.WithinTx"

	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func txFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// conn возвращает активную транзакцию из контекста либо пул соединений.
func (s *Storage) conn(ctx context.Context) dbtx {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return s.DB
}

// isUniqueViolation сообщает, нарушено ли уникальное ограничение constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == constraint
}
