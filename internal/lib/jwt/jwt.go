// Package jwt реализует генерацию и парсинг сервисных JWT токенов.
//
// Токен выпускается шлюзом бота и удостоверяет, от имени какого
// пользователя Telegram выполняется запрос к движку. Движок только
// проверяет подпись и извлекает идентификатор, собственной системы
// логинов у него нет.
package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Maker описывает интерфейс для генерации и парсинга сервисных токенов.
type Maker interface {
	// GenerateToken выпускает токен для пользователя Telegram.
	GenerateToken(telegramID int64, displayName string) (string, error)
	// ParseToken проверяет подпись и возвращает claims токена.
	ParseToken(tokenStr string) (*CustomClaims, error)
}

// CustomClaims описывает данные, хранящиеся в сервисном JWT.
type CustomClaims struct {
	TelegramID           int64  `json:"telegram_id"`  // Идентификатор пользователя Telegram
	DisplayName          string `json:"display_name"` // Отображаемое имя на момент запроса
	jwt.RegisteredClaims        // Стандартные claims (ExpiresAt, IssuedAt и пр.)
}

// MakerImpl реализует Maker на секретном ключе HS256 с заданным TTL.
type MakerImpl struct {
	secretKey string
	tokenTTL  time.Duration
}

// NewJWTMaker создаёт новый экземпляр MakerImpl.
func NewJWTMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
	}
}

// GenerateToken создает JWT токен с заданным telegram id, подписывая его секретным ключом.
func (j *MakerImpl) GenerateToken(telegramID int64, displayName string) (string, error) {
	claims := CustomClaims{
		TelegramID:  telegramID,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(j.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.secretKey))
}

// ParseToken парсит JWT токен, проверяет его подпись и срок действия,
// возвращает CustomClaims, если токен корректен.
func (j *MakerImpl) ParseToken(tokenStr string) (*CustomClaims, error) {
	const op = "jwt.ParseToken"
	token, err := jwt.ParseWithClaims(tokenStr, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(j.secretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: invalid token", op)
	}
	return claims, nil
}
