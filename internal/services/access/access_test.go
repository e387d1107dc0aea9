package access

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ryabovmax/proxy-access-engine/internal/config"
	"github.com/ryabovmax/proxy-access-engine/internal/models"
	"github.com/ryabovmax/proxy-access-engine/internal/services/credential"
)

type MockUsers struct {
	mock.Mock
}

func (m *MockUsers) UserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type MockIssuer struct {
	mock.Mock
}

func (m *MockIssuer) GetOrCreateAll(ctx context.Context, userUID string, endpoints []config.Endpoint, now time.Time) ([]*models.ProxyCredential, error) {
	args := m.Called(ctx, userUID, endpoints, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ProxyCredential), args.Error(1)
}

func (m *MockIssuer) RotateAll(ctx context.Context, userUID string, now time.Time) ([]*models.ProxyCredential, error) {
	args := m.Called(ctx, userUID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ProxyCredential), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

var testEndpoints = []config.Endpoint{
	{ID: "proxy-a.example.com:443", Host: "proxy-a.example.com", Port: 443},
}

func TestGate_Check(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name             string
		setupMocks       func(*MockUsers)
		expectedDecision Decision
		expectedError    bool
		errorMessage     string
	}{
		{
			name: "active subscription allowed",
			setupMocks: func(u *MockUsers) {
				u.On("UserByTelegramID", mock.Anything, int64(111)).Return(&models.User{
					UID: "uid-1", TelegramID: 111, SubscriptionExpiresAt: &future,
				}, nil).Once()
			},
			expectedDecision: Decision{Allowed: true},
		},
		{
			name: "never subscribed",
			setupMocks: func(u *MockUsers) {
				u.On("UserByTelegramID", mock.Anything, int64(111)).Return(&models.User{
					UID: "uid-1", TelegramID: 111,
				}, nil).Once()
			},
			expectedDecision: Decision{Allowed: false, Reason: DenyNoSubscription},
		},
		{
			name: "subscription expired",
			setupMocks: func(u *MockUsers) {
				u.On("UserByTelegramID", mock.Anything, int64(111)).Return(&models.User{
					UID: "uid-1", TelegramID: 111, TrialUsed: true, SubscriptionExpiresAt: &past,
				}, nil).Once()
			},
			expectedDecision: Decision{Allowed: false, Reason: DenyExpired},
		},
		{
			name: "expiry exactly now denied",
			setupMocks: func(u *MockUsers) {
				u.On("UserByTelegramID", mock.Anything, int64(111)).Return(&models.User{
					UID: "uid-1", TelegramID: 111, SubscriptionExpiresAt: &now,
				}, nil).Once()
			},
			expectedDecision: Decision{Allowed: false, Reason: DenyExpired},
		},
		{
			name: "user lookup error",
			setupMocks: func(u *MockUsers) {
				u.On("UserByTelegramID", mock.Anything, int64(111)).Return(nil, errors.New("user not found")).Once()
			},
			expectedError: true,
			errorMessage:  "user not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := new(MockUsers)
			issuer := new(MockIssuer)
			gate := New(users, issuer, testEndpoints, newNoopLogger())

			tt.setupMocks(users)

			_, decision, err := gate.Check(context.Background(), 111, now)

			if tt.expectedError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMessage)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expectedDecision, decision)
			}

			users.AssertExpectations(t)
			issuer.AssertExpectations(t)
		})
	}
}

func TestGate_Config(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	tests := []struct {
		name             string
		setupMocks       func(*MockUsers, *MockIssuer)
		expectedViews    int
		expectedDecision Decision
		expectedError    bool
	}{
		{
			name: "credentials issued for active user",
			setupMocks: func(u *MockUsers, i *MockIssuer) {
				u.On("UserByTelegramID", mock.Anything, int64(111)).Return(&models.User{
					UID: "uid-1", TelegramID: 111, SubscriptionExpiresAt: &future,
				}, nil).Once()
				i.On("GetOrCreateAll", mock.Anything, "uid-1", testEndpoints, now).Return([]*models.ProxyCredential{
					{ID: 1, UserUID: "uid-1", EndpointID: testEndpoints[0].ID, Secret: "secreta"},
				}, nil).Once()
			},
			expectedViews:    1,
			expectedDecision: Decision{Allowed: true},
		},
		{
			name: "denied user never reaches issuer",
			setupMocks: func(u *MockUsers, i *MockIssuer) {
				u.On("UserByTelegramID", mock.Anything, int64(111)).Return(&models.User{
					UID: "uid-1", TelegramID: 111,
				}, nil).Once()
			},
			expectedDecision: Decision{Allowed: false, Reason: DenyNoSubscription},
		},
		{
			name: "issuer error",
			setupMocks: func(u *MockUsers, i *MockIssuer) {
				u.On("UserByTelegramID", mock.Anything, int64(111)).Return(&models.User{
					UID: "uid-1", TelegramID: 111, SubscriptionExpiresAt: &future,
				}, nil).Once()
				i.On("GetOrCreateAll", mock.Anything, "uid-1", testEndpoints, now).Return(nil, errors.New("db error")).Once()
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := new(MockUsers)
			issuer := new(MockIssuer)
			gate := New(users, issuer, testEndpoints, newNoopLogger())

			tt.setupMocks(users, issuer)

			views, decision, err := gate.Config(context.Background(), 111, now)

			if tt.expectedError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expectedDecision, decision)
				assert.Len(t, views, tt.expectedViews)
			}

			users.AssertExpectations(t)
			issuer.AssertExpectations(t)
		})
	}
}

func TestGate_Refresh(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	activeUser := &models.User{UID: "uid-1", TelegramID: 111, SubscriptionExpiresAt: &future}

	t.Run("rotated credentials returned", func(t *testing.T) {
		users := new(MockUsers)
		issuer := new(MockIssuer)
		gate := New(users, issuer, testEndpoints, newNoopLogger())

		users.On("UserByTelegramID", mock.Anything, int64(111)).Return(activeUser, nil).Once()
		issuer.On("RotateAll", mock.Anything, "uid-1", now).Return([]*models.ProxyCredential{
			{ID: 1, UserUID: "uid-1", EndpointID: testEndpoints[0].ID, Secret: "newsecret"},
		}, nil).Once()

		views, decision, err := gate.Refresh(context.Background(), 111, now)

		assert.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Len(t, views, 1)
		assert.Equal(t, "newsecret", views[0].Secret)
		users.AssertExpectations(t)
		issuer.AssertExpectations(t)
	})

	t.Run("no credentials yet - successful no-op", func(t *testing.T) {
		users := new(MockUsers)
		issuer := new(MockIssuer)
		gate := New(users, issuer, testEndpoints, newNoopLogger())

		users.On("UserByTelegramID", mock.Anything, int64(111)).Return(activeUser, nil).Once()
		issuer.On("RotateAll", mock.Anything, "uid-1", now).Return(nil, credential.ErrNoCredentialsToRotate).Once()

		views, decision, err := gate.Refresh(context.Background(), 111, now)

		assert.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Empty(t, views)
		assert.NotNil(t, views)
		users.AssertExpectations(t)
		issuer.AssertExpectations(t)
	})

	t.Run("denied user never reaches rotation", func(t *testing.T) {
		users := new(MockUsers)
		issuer := new(MockIssuer)
		gate := New(users, issuer, testEndpoints, newNoopLogger())

		users.On("UserByTelegramID", mock.Anything, int64(111)).Return(&models.User{
			UID: "uid-1", TelegramID: 111,
		}, nil).Once()

		views, decision, err := gate.Refresh(context.Background(), 111, now)

		assert.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, DenyNoSubscription, decision.Reason)
		assert.Nil(t, views)
		users.AssertExpectations(t)
		issuer.AssertExpectations(t)
	})
}
