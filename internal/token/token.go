// Пакет token — генерация токенов доступа и секретов удаления.
//
// Токен — это capability: любой, кто его знает, может скачать объект.
// Поэтому неугадываемость — свойство безопасности, а не только
// уникальности. Источник энтропии — crypto/rand, алфавит base62.
// 12 символов base62 дают ~71 бит энтропии, 24 символа секрета — ~142.
package token

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// alphabet — base62: безопасен в URL и именах файлов.
const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

const (
	// TokenLength — длина публичного токена
	TokenLength = 12
	// DeleteTokenLength — длина секрета удаления
	DeleteTokenLength = 24
)

// Generator — генератор токенов.
type Generator struct{}

// NewGenerator создаёт генератор токенов.
func NewGenerator() *Generator {
	return &Generator{}
}

// Token генерирует публичный токен объекта.
// Проверка коллизии с живыми токенами — ответственность вызывающего
// кода (резервирование в индексе с повтором при занятом токене).
func (g *Generator) Token() (string, error) {
	return randomString(TokenLength)
}

// DeleteToken генерирует секрет удаления. Генерируется независимо
// от публичного токена и невыводим из него.
func (g *Generator) DeleteToken() (string, error) {
	return randomString(DeleteTokenLength)
}

// randomString возвращает строку длины n из алфавита base62,
// каждый символ выбирается равномерно из crypto/rand.
func randomString(n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("ошибка чтения crypto/rand: %w", err)
		}
		buf[i] = alphabet[idx.Int64()]
	}
	return string(buf), nil
}
