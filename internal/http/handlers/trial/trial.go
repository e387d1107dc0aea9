// Package trial реализует HTTP-обработчик выдачи пробного периода.
//
// Пробный период одноразовый: повторный запрос возвращает HTTP 409
// с понятным пользователю сообщением, а не повторяет выдачу.
package trial

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/ryabovmax/proxy-access-engine/internal/http/middlewarectx"
	"github.com/ryabovmax/proxy-access-engine/internal/http/response"
	"github.com/ryabovmax/proxy-access-engine/internal/lib/sl"
	"github.com/ryabovmax/proxy-access-engine/internal/services/subscription"
)

// Service описывает интерфейс бизнес-логики выдачи пробного периода.
type Service interface {
	GrantTrial(ctx context.Context, telegramID int64, now time.Time) (time.Time, error)
}

// Handler управляет HTTP-запросами на выдачу пробного периода.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Выдать пробный период
// @Description Выдаёт одноразовый пробный период. Повторный запрос отклоняется.
// @Tags Access
// @Produce json
// @Success 200 {object} response.Response "Дата окончания пробного периода"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 409 {object} response.ErrorResponse "Пробный период уже использован"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /trial [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.trial"
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

	expiresAt, err := h.service.GrantTrial(r.Context(), telegramID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, subscription.ErrTrialAlreadyUsed) {
			log.Info("trial already used", slog.Int64("telegram_id", telegramID))
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error("trial already used"))
			return
		}
		log.Error("failed to grant trial", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not grant trial"))
		return
	}

	log.Info("trial granted", slog.Int64("telegram_id", telegramID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"subscription_expires_at": expiresAt,
	}))
}
