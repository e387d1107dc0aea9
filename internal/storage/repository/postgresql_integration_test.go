package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryabovmax/proxy-access-engine/internal/models"
)

func TestStorage_CreateOrGetUser(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	created, err := storage.CreateOrGetUser(ctx, 111, "alice", now)
	require.NoError(t, err)
	assert.NotEmpty(t, created.UID)
	assert.Equal(t, int64(111), created.TelegramID)
	assert.Equal(t, "alice", created.DisplayName)
	assert.False(t, created.TrialUsed)
	assert.Nil(t, created.SubscriptionExpiresAt)

	// Повторный вызов возвращает ту же запись и обновляет отображаемое имя.
	again, err := storage.CreateOrGetUser(ctx, 111, "alice_renamed", now)
	require.NoError(t, err)
	assert.Equal(t, created.UID, again.UID)
	assert.Equal(t, "alice_renamed", again.DisplayName)
}

func TestStorage_MarkTrialUsed(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	factory.CreateUser(t, 111, "alice")

	trialExpiry := time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC)

	expiresAt, granted, err := storage.MarkTrialUsed(ctx, 111, trialExpiry)
	require.NoError(t, err)
	assert.True(t, granted)
	require.NotNil(t, expiresAt)
	assert.True(t, expiresAt.Equal(trialExpiry))

	// Повторная выдача отклоняется без изменения даты окончания.
	_, granted, err = storage.MarkTrialUsed(ctx, 111, trialExpiry.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, granted)

	user, err := storage.GetUserByTelegramID(ctx, 111)
	require.NoError(t, err)
	assert.True(t, user.TrialUsed)
	assert.True(t, user.SubscriptionExpiresAt.Equal(trialExpiry))

	// Для несуществующего пользователя выдача не происходит.
	_, granted, err = storage.MarkTrialUsed(ctx, 999, trialExpiry)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestStorage_MarkTrialUsed_NeverShortensAccess(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	paidExpiry := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	factory.CreateUserWithSubscription(t, 111, "alice", false, paidExpiry)

	// Пробный период короче уже оплаченного доступа: дата не уменьшается.
	trialExpiry := time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC)
	expiresAt, granted, err := storage.MarkTrialUsed(ctx, 111, trialExpiry)
	require.NoError(t, err)
	assert.True(t, granted)
	require.NotNil(t, expiresAt)
	assert.True(t, expiresAt.Equal(paidExpiry))
}

func TestStorage_ExtendSubscription(t *testing.T) {
	duration := 30 * 24 * time.Hour

	tests := []struct {
		name           string
		setup          func(t *testing.T, factory *TestDataFactory) string
		now            time.Time
		expectedExpiry time.Time
	}{
		{
			name: "first extension starts from now",
			setup: func(t *testing.T, factory *TestDataFactory) string {
				return factory.CreateUser(t, 111, "alice")
			},
			now:            time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
			expectedExpiry: time.Date(2025, 4, 9, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "extension stacks on active subscription",
			setup: func(t *testing.T, factory *TestDataFactory) string {
				return factory.CreateUserWithSubscription(t, 222, "bob", true,
					time.Date(2025, 4, 9, 12, 0, 0, 0, time.UTC))
			},
			now:            time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
			expectedExpiry: time.Date(2025, 5, 9, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "expired subscription restarts from now",
			setup: func(t *testing.T, factory *TestDataFactory) string {
				return factory.CreateUserWithSubscription(t, 333, "carol", true,
					time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
			},
			now:            time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
			expectedExpiry: time.Date(2025, 4, 9, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, cleanup := setupTestDatabase(t)
			defer cleanup()

			factory := NewTestDataFactory(storage)
			userUID := tt.setup(t, factory)

			newExpiry, err := storage.ExtendSubscription(context.Background(), userUID, duration, tt.now)
			require.NoError(t, err)
			assert.True(t, newExpiry.Equal(tt.expectedExpiry),
				"expected %s, got %s", tt.expectedExpiry, newExpiry)
		})
	}
}

func TestStorage_InsertPendingPayment(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	userUID := factory.CreateUser(t, 111, "alice")
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	payment := models.Payment{
		UserUID:           userUID,
		ProviderPaymentID: "pay-1",
		Amount:            500,
		Currency:          "USD",
		CreatedAt:         now,
	}

	inserted, err := storage.InsertPendingPayment(ctx, payment)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Повторная вставка того же provider_payment_id безвредна.
	inserted, err = storage.InsertPendingPayment(ctx, payment)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := storage.GetPaymentByProviderID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, got.Status)
	assert.Equal(t, int64(500), got.Amount)
}

func TestStorage_CompletePayment(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	verification := NewTestVerification(storage)
	userUID := factory.CreateUser(t, 111, "alice")
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	_, err := storage.InsertPendingPayment(ctx, models.Payment{
		UserUID: userUID, ProviderPaymentID: "pay-1", Amount: 500, Currency: "USD", CreatedAt: now,
	})
	require.NoError(t, err)

	err = storage.CompletePayment(ctx, "pay-1", now)
	require.NoError(t, err)
	verification.VerifyPaymentStatus(t, "pay-1", "completed")

	// Завершённый платёж нельзя завершить повторно.
	err = storage.CompletePayment(ctx, "pay-1", now)
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	// Неизвестный платёж.
	err = storage.CompletePayment(ctx, "pay-unknown", now)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestStorage_FailPayment(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	verification := NewTestVerification(storage)
	userUID := factory.CreateUser(t, 111, "alice")
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	_, err := storage.InsertPendingPayment(ctx, models.Payment{
		UserUID: userUID, ProviderPaymentID: "pay-1", Amount: 300, Currency: "USD", CreatedAt: now,
	})
	require.NoError(t, err)

	err = storage.FailPayment(ctx, "pay-1", now)
	require.NoError(t, err)
	verification.VerifyPaymentStatus(t, "pay-1", "failed")

	err = storage.FailPayment(ctx, "pay-1", now)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestStorage_HasCompletedPayment(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	userUID := factory.CreateUser(t, 111, "alice")

	has, err := storage.HasCompletedPayment(ctx, userUID)
	require.NoError(t, err)
	assert.False(t, has)

	factory.CreateCompletedPayment(t, userUID, "pay-1", 500)

	has, err = storage.HasCompletedPayment(ctx, userUID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestStorage_InsertCredential(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	userUID := factory.CreateUser(t, 111, "alice")
	otherUID := factory.CreateUser(t, 222, "bob")
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	created, err := storage.InsertCredential(ctx, models.ProxyCredential{
		UserUID: userUID, EndpointID: "proxy-a:443", Secret: "secretvalue1", IssuedAt: now,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	// Секрет уникален глобально, даже для другого пользователя.
	_, err = storage.InsertCredential(ctx, models.ProxyCredential{
		UserUID: otherUID, EndpointID: "proxy-a:443", Secret: "secretvalue1", IssuedAt: now,
	})
	assert.ErrorIs(t, err, ErrSecretTaken)

	// Повторная учётка для той же пары пользователь-сервер запрещена.
	_, err = storage.InsertCredential(ctx, models.ProxyCredential{
		UserUID: userUID, EndpointID: "proxy-a:443", Secret: "secretvalue2", IssuedAt: now,
	})
	assert.ErrorIs(t, err, ErrCredentialExists)
}

func TestStorage_RotateCredentialSecret(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	userUID := factory.CreateUser(t, 111, "alice")
	id := factory.CreateCredential(t, userUID, "proxy-a:443", "oldsecret")
	factory.CreateCredential(t, userUID, "proxy-b:443", "takensecret")
	rotatedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	updated, err := storage.RotateCredentialSecret(ctx, id, "newsecret", rotatedAt)
	require.NoError(t, err)
	assert.Equal(t, "newsecret", updated.Secret)
	require.NotNil(t, updated.RotatedAt)
	assert.True(t, updated.RotatedAt.Equal(rotatedAt))

	// Прежний секрет недействителен немедленно.
	cred, err := storage.FindCredentialBySecret(ctx, "oldsecret")
	require.NoError(t, err)
	assert.Nil(t, cred)
	cred, err = storage.FindCredentialBySecret(ctx, "newsecret")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, id, cred.ID)

	// Ротация в занятый секрет отклоняется.
	_, err = storage.RotateCredentialSecret(ctx, id, "takensecret", rotatedAt)
	assert.ErrorIs(t, err, ErrSecretTaken)
}

func TestStorage_ListCredentials(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	userUID := factory.CreateUser(t, 111, "alice")
	factory.CreateCredential(t, userUID, "proxy-a:443", "secreta")
	factory.CreateCredential(t, userUID, "proxy-b:443", "secretb")

	creds, err := storage.ListCredentials(ctx, userUID)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, "proxy-a:443", creds[0].EndpointID)
	assert.Equal(t, "proxy-b:443", creds[1].EndpointID)

	otherUID := factory.CreateUser(t, 222, "bob")
	creds, err = storage.ListCredentials(ctx, otherUID)
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestStorage_WithinTx(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	userUID := factory.CreateUser(t, 111, "alice")
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// Ошибка внутри транзакции откатывает все изменения.
	err := storage.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := storage.InsertCredential(ctx, models.ProxyCredential{
			UserUID: userUID, EndpointID: "proxy-a:443", Secret: "secreta", IssuedAt: now,
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	NewTestVerification(storage).VerifyCredentialCount(t, userUID, 0)

	// Успешная транзакция фиксирует изменения.
	err = storage.WithinTx(ctx, func(ctx context.Context) error {
		_, err := storage.InsertCredential(ctx, models.ProxyCredential{
			UserUID: userUID, EndpointID: "proxy-a:443", Secret: "secreta", IssuedAt: now,
		})
		return err
	})
	require.NoError(t, err)
	NewTestVerification(storage).VerifyCredentialCount(t, userUID, 1)
}
