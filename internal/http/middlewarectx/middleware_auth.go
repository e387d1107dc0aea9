// Package middlewarectx содержит HTTP middleware движка доступа.
//
// ServiceTokenMiddleware проверяет сервисный JWT шлюза бота в заголовке
// Authorization и кладёт в контекст идентификатор пользователя Telegram,
// от имени которого выполняется запрос. При ошибке проверки возвращает
// HTTP 401 Unauthorized.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/ryabovmax/proxy-access-engine/internal/http/response"
	jwtlib "github.com/ryabovmax/proxy-access-engine/internal/lib/jwt"
	"github.com/ryabovmax/proxy-access-engine/internal/lib/sl"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// TelegramID — ключ для идентификатора пользователя Telegram в контексте.
	TelegramID Key = "telegram_id"
	// DisplayName — ключ для отображаемого имени в контексте.
	DisplayName Key = "display_name"
)

// TokenParser описывает интерфейс проверки сервисного токена.
type TokenParser interface {
	ParseToken(tokenStr string) (*jwtlib.CustomClaims, error)
}

// ServiceTokenMiddleware возвращает HTTP middleware, который проверяет
// сервисный JWT в заголовке Authorization.
//
// Если токен валиден, добавляет telegram id и отображаемое имя в контекст
// запроса, иначе возвращает ошибку с HTTP статусом 401 Unauthorized.
func ServiceTokenMiddleware(parser TokenParser, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.ServiceTokenMiddleware"
			authHeader := r.Header.Get("Authorization")

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Error("missing or invalid authorization header")
				w.WriteHeader(http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))
				return
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

			claims, err := parser.ParseToken(tokenStr)
			if err != nil {
				log.Error("invalid or expired token", sl.Err(err))
				w.WriteHeader(http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid or expired token"))
				return
			}
			ctx := context.WithValue(r.Context(), TelegramID, claims.TelegramID)
			ctx = context.WithValue(ctx, DisplayName, claims.DisplayName)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
