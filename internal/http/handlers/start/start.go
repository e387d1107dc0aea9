// Package start реализует HTTP-обработчик первого контакта пользователя.
//
// Handler создаёт запись пользователя при первом обращении, обновляет
// отображаемое имя и возвращает сводку статуса доступа.
package start

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
)

// Service описывает интерфейс бизнес-логики регистрации контакта.
type Service interface {
	Start(ctx context.Context, telegramID int64, displayName string, now time.Time) (*models.StatusSummary, error)
}

// Handler управляет HTTP-запросами первого контакта.
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
// @Summary Зарегистрировать контакт пользователя
// @Description Создаёт пользователя при первом обращении и возвращает сводку статуса доступа.
// @Tags Access
// @Produce json
// @Success 200 {object} response.Response "Сводка статуса"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /start [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.start"
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
	displayName, _ := r.Context().Value(middlewarectx.DisplayName).(string)

	summary, err := h.service.Start(r.Context(), telegramID, displayName, time.Now().UTC())
	if err != nil {
		log.Error("failed to register contact", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not register contact"))
		return
	}

	log.Info("contact registered", slog.Int64("telegram_id", telegramID),
		slog.String("status", string(summary.Status)))
	render.JSON(w, r, response.OKWithData(summary))
}
