// Package refresh реализует HTTP-обработчик ротации учётных данных.
//
// Ротация заменяет секреты всех существующих учёток пользователя, прежние
// значения становятся недействительными немедленно. Отсутствие учёток —
// успешный no-op с пустым списком.
package refresh

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/ryabovmax/proxy-access-engine/internal/http/middlewarectx"
	"github.com/ryabovmax/proxy-access-engine/internal/http/response"
	"github.com/ryabovmax/proxy-access-engine/internal/lib/sl"
	"github.com/ryabovmax/proxy-access-engine/internal/models"
	"github.com/ryabovmax/proxy-access-engine/internal/services/access"
)

// Gate описывает интерфейс авторизационного шлюза.
type Gate interface {
	Refresh(ctx context.Context, telegramID int64, now time.Time) ([]models.CredentialView, access.Decision, error)
}

// Handler управляет HTTP-запросами на ротацию учётных данных.
type Handler struct {
	log  *slog.Logger
	gate Gate
}

// New создает новый Handler с переданными логгером и шлюзом.
func New(log *slog.Logger, gate Gate) *Handler {
	return &Handler{
		log:  log,
		gate: gate,
	}
}

// ServeHTTP godoc
// @Summary Ротировать учётные данные
// @Description Заменяет секреты всех существующих учёток пользователя и возвращает новые.
// @Tags Proxy
// @Produce json
// @Success 200 {object} response.Response "Список серверов с новыми учётными данными"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 403 {object} response.ErrorResponse "Нет активной подписки"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /proxy/refresh [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.refresh"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	telegramID, ok := r.Context().Value(middlewarectx.TelegramID).(int64)
	if !ok || telegramID == 0 {
		log.Error("telegram id not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	views, decision, err := h.gate.Refresh(r.Context(), telegramID, time.Now().UTC())
	if err != nil {
		log.Error("failed to rotate credentials", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not rotate credentials"))
		return
	}
	if !decision.Allowed {
		log.Info("access denied", slog.Int64("telegram_id", telegramID),
			slog.String("reason", string(decision.Reason)))
		w.WriteHeader(http.StatusForbidden)
		render.JSON(w, r, response.Error(string(decision.Reason)))
		return
	}

	log.Info("credentials rotated", slog.Int64("telegram_id", telegramID),
		slog.Int("servers", len(views)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"servers": views,
	}))
}
