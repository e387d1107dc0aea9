// Package webhook реализует HTTP-обработчик платёжных уведомлений.
//
// Провайдер доставляет уведомления с политикой at-least-once, подлинность
// подтверждается подписью HMAC-SHA256 в заголовке X-Api-Signature.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/ryabovmax/proxy-access-engine/internal/http/response"
	"github.com/ryabovmax/proxy-access-engine/internal/lib/sl"
	"github.com/ryabovmax/proxy-access-engine/internal/services/payment"
)

// Service описывает интерфейс регистрации подтверждённого платежа.
type Service interface {
	RecordAndApply(ctx context.Context, providerPaymentID string, telegramID int64,
		amount int64, currency string, now time.Time) (*payment.Outcome, error)
}

// Payload тело платёжного уведомления.
type Payload struct {
	ProviderPaymentID string `json:"provider_payment_id" validate:"required"`
	TelegramID        int64  `json:"telegram_id" validate:"required"`
	Amount            int64  `json:"amount" validate:"required,gt=0"`
	Currency          string `json:"currency" validate:"required"`
}

// Handler управляет HTTP-запросами платёжных уведомлений.
type Handler struct {
	log           *slog.Logger
	service       Service
	webhookSecret string
	validate      *validator.Validate
}

// New создает новый Handler с переданными логгером, сервисом и секретом подписи.
func New(log *slog.Logger, service Service, secret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		webhookSecret: secret,
		validate:      validator.New(),
	}
}

// Проверка подписи webhook (X-Api-Signature).
func (h *Handler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expectedSig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expectedSig), []byte(signature))
}

// ServeHTTP godoc
// @Summary Платёжное уведомление
// @Description Регистрирует подтверждённый платёж и продлевает подписку. Повторные доставки одного платежа идемпотентны.
// @Tags Payments
// @Accept json
// @Produce json
// @Param X-Api-Signature header string true "HMAC-SHA256 подпись тела, base64"
// @Param request body Payload true "Платёжное уведомление"
// @Success 200 {object} response.Response "Исход обработки платежа"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Неверная подпись"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to read body"))
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Api-Signature")
	if signature == "" || !h.verifySignature(body, signature) {
		log.Error("invalid or missing webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(payload); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	outcome, err := h.service.RecordAndApply(r.Context(), payload.ProviderPaymentID,
		payload.TelegramID, payload.Amount, payload.Currency, time.Now().UTC())
	if err != nil {
		log.Error("failed to process payment notification", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("payment notification processed",
		slog.String("provider_payment_id", payload.ProviderPaymentID),
		slog.String("result", string(outcome.Result)))
	render.JSON(w, r, response.OKWithData(outcome))
}
