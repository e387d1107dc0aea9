// Package proxyaccessengine предоставляет маршруты движка доступа.
package proxyaccessengine

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/ryabovmax/proxy-access-engine/internal/config"
	"github.com/ryabovmax/proxy-access-engine/internal/http/handlers/health"
	"github.com/ryabovmax/proxy-access-engine/internal/http/handlers/payment/precheck"
	"github.com/ryabovmax/proxy-access-engine/internal/http/handlers/payment/webhook"
	"github.com/ryabovmax/proxy-access-engine/internal/http/handlers/proxyconfig"
	"github.com/ryabovmax/proxy-access-engine/internal/http/handlers/refresh"
	"github.com/ryabovmax/proxy-access-engine/internal/http/handlers/start"
	"github.com/ryabovmax/proxy-access-engine/internal/http/handlers/trial"
	"github.com/ryabovmax/proxy-access-engine/internal/http/middlewarectx"
	jwtlib "github.com/ryabovmax/proxy-access-engine/internal/lib/jwt"
	accessservice "github.com/ryabovmax/proxy-access-engine/internal/services/access"
	paymentservice "github.com/ryabovmax/proxy-access-engine/internal/services/payment"
	subscriptionservice "github.com/ryabovmax/proxy-access-engine/internal/services/subscription"
	"github.com/ryabovmax/proxy-access-engine/internal/storage/repository"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config,
	tokenMaker *jwtlib.MakerImpl, db *repository.Storage,
	subscriptionService *subscriptionservice.Service,
	accessGate *accessservice.Gate,
	paymentService *paymentservice.Service) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Группа команд бота: шлюз подписывает каждый запрос сервисным JWT
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.ServiceTokenMiddleware(tokenMaker, logger))
			r.Post("/start", start.New(logger, subscriptionService).ServeHTTP)
			r.Post("/trial", trial.New(logger, subscriptionService).ServeHTTP)
			r.Get("/proxy/config", proxyconfig.New(logger, accessGate).ServeHTTP)
			r.Post("/proxy/refresh", refresh.New(logger, accessGate).ServeHTTP)
		})

		// Конечные точки платёжного провайдера (без сервисного JWT)
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger, cfg.HTTPServer.PrecheckRPS, cfg.HTTPServer.PrecheckBurst))
			r.Post("/payments/precheck", precheck.New(logger, paymentService).ServeHTTP)
		})
		r.Post("/payments/webhook", webhook.New(logger, paymentService, cfg.Payment.WebhookSecret).ServeHTTP)
	})

	r.Get("/health", health.New(logger, db).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
