// Package precheck реализует HTTP-обработчик предпроверки платежа.
//
// Провайдер вызывает предпроверку до подтверждения списания и ждёт ответа
// в жёстком таймауте, поэтому обработчик только валидирует форму и цену
// и не изменяет состояние.
package precheck

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/ryabovmax/proxy-access-engine/internal/http/response"
	"github.com/ryabovmax/proxy-access-engine/internal/lib/sl"
)

// Service описывает интерфейс предпроверки платежа.
type Service interface {
	PreCheck(providerPaymentID string, amount int64, currency string) error
}

// Request тело запроса предпроверки.
type Request struct {
	ProviderPaymentID string `json:"provider_payment_id" validate:"required"`
	Amount            int64  `json:"amount" validate:"required,gt=0"`
	Currency          string `json:"currency" validate:"required"`
}

// Handler управляет HTTP-запросами предпроверки платежа.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Предпроверка платежа
// @Description Проверяет форму и цену платежа до подтверждения списания. Состояние не изменяется.
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body Request true "Данные платежа"
// @Success 200 {object} response.Response "Платёж принят"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Платёж отклонён"
// @Router /payments/precheck [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.precheck"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	if err := h.service.PreCheck(req.ProviderPaymentID, req.Amount, req.Currency); err != nil {
		log.Warn("payment rejected at precheck", sl.Err(err),
			slog.String("provider_payment_id", req.ProviderPaymentID))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("payment rejected"))
		return
	}

	log.Info("payment accepted at precheck",
		slog.String("provider_payment_id", req.ProviderPaymentID))
	render.JSON(w, r, response.OK())
}
