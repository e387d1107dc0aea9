// Package secret реализует генерацию секретов прокси-доступа.
//
// Секрет — строка фиксированной длины из латинских букв и цифр,
// полученная из криптографически стойкого источника случайности.
// Формат непрозрачен для движка: рендеринг конфигурации на стороне
// прокси сам решает, как его использовать.
package secret

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Length длина генерируемого секрета в символах.
const Length = 32

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// New возвращает новый случайный секрет длины Length.
func New() (string, error) {
	const op = "secret.New"

	buf := make([]byte, Length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}
