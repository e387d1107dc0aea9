// Package proxyaccessengine собирает движок доступа: хранилище, кеш,
// брокер событий, сервисы и HTTP-сервер.
package proxyaccessengine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/ryabovmax/proxy-access-engine/internal/cache"
	"github.com/ryabovmax/proxy-access-engine/internal/config"
	"github.com/ryabovmax/proxy-access-engine/internal/events"
	jwtlib "github.com/ryabovmax/proxy-access-engine/internal/lib/jwt"
	"github.com/ryabovmax/proxy-access-engine/internal/lib/rabbitmq"
	"github.com/ryabovmax/proxy-access-engine/internal/lib/sl"
	"github.com/ryabovmax/proxy-access-engine/internal/migrations"
	accessservice "github.com/ryabovmax/proxy-access-engine/internal/services/access"
	credentialservice "github.com/ryabovmax/proxy-access-engine/internal/services/credential"
	paymentservice "github.com/ryabovmax/proxy-access-engine/internal/services/payment"
	subscriptionservice "github.com/ryabovmax/proxy-access-engine/internal/services/subscription"
	"github.com/ryabovmax/proxy-access-engine/internal/storage/repository"
)

// App движок доступа со всеми зависимостями.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	amqp   io.Closer
}

// New создает приложение: подключает хранилище, применяет миграции,
// поднимает кеш и брокер, собирает сервисы и маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	var publisher *events.Publisher
	var amqpConn io.Closer
	if cfg.RabbitMQ.RabbitMQURL != "" {
		conn, err := rabbitmq.Connect(cfg.RabbitMQ.RabbitMQURL,
			cfg.RabbitMQ.RabbitMQMaxRetries, cfg.RabbitMQ.RabbitMQRetryDelay)
		if err != nil {
			return nil, err
		}
		ch, err := rabbitmq.SetupChannel(conn, events.Exchange, rabbitmq.GetAccessEventQueues())
		if err != nil {
			return nil, err
		}
		publisher = events.New(ch, logger)
		amqpConn = conn
	} else {
		logger.Warn("rabbitmq url is empty, event publishing disabled")
	}

	endpoints, err := cfg.Proxy.Endpoints()
	if err != nil {
		return nil, err
	}

	tokenMaker := jwtlib.NewJWTMaker(cfg.ServiceToken.JWTSecretKey, cfg.ServiceToken.TokenTTL)

	subscriptionService := subscriptionservice.New(db, cacheRedis, publisher,
		cfg.Subscription.TrialDuration, logger)
	credentialIssuer := credentialservice.New(db, db, logger)
	accessGate := accessservice.New(subscriptionService, credentialIssuer, endpoints, logger)
	paymentService := paymentservice.New(db, db, subscriptionService, publisher,
		cfg.Payment, cfg.Subscription.SubscriptionDuration, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, tokenMaker, db,
		subscriptionService, accessGate, paymentService)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		amqp:   amqpConn,
	}, nil
}

// Run запускает HTTP-сервер и останавливает его при отмене контекста.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		if a.amqp != nil {
			if closeErr := a.amqp.Close(); closeErr != nil {
				a.logger.Warn("failed to close rabbitmq connection", sl.Err(closeErr))
			}
		}
		a.db.DB.Close()
		return err
	}
}
