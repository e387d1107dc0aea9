package trial

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ryabovmax/proxy-access-engine/internal/http/middlewarectx"
	"github.com/ryabovmax/proxy-access-engine/internal/services/subscription"
)

// MockService реализует интерфейс trial.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) GrantTrial(ctx context.Context, telegramID int64, now time.Time) (time.Time, error) {
	args := m.Called(ctx, telegramID)
	return args.Get(0).(time.Time), args.Error(1)
}

func TestTrialHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	expiry := time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		telegramID     int64
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:       "пробный период выдан",
			telegramID: 111,
			setupMock: func(m *MockService) {
				m.On("GrantTrial", mock.Anything, int64(111)).Return(expiry, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"subscription_expires_at"`,
		},
		{
			name:       "пробный период уже использован",
			telegramID: 222,
			setupMock: func(m *MockService) {
				m.On("GrantTrial", mock.Anything, int64(222)).Return(time.Time{}, subscription.ErrTrialAlreadyUsed)
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `"error":"trial already used"`,
		},
		{
			name:           "нет идентификатора в контексте",
			telegramID:     0,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"unauthorized"`,
		},
		{
			name:       "ошибка сервиса",
			telegramID: 333,
			setupMock: func(m *MockService) {
				m.On("GrantTrial", mock.Anything, int64(333)).Return(time.Time{}, errors.New("db error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `"error":"could not grant trial"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodPost, "/trial", nil)
			if tt.telegramID != 0 {
				ctx := context.WithValue(req.Context(), middlewarectx.TelegramID, tt.telegramID)
				req = req.WithContext(ctx)
			}

			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), tt.expectedBody),
				"response body should contain %s, got %s", tt.expectedBody, w.Body.String())

			mockService.AssertExpectations(t)
		})
	}
}
