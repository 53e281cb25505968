// Package password реализует bcrypt-хеширование паролей и одноразовых токенов.
package password

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// GetHash возвращает bcrypt-хэш секрета.
func GetHash(password string) (string, error) {
	const op = "password.GetHash"
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(hashedPassword), nil
}

// CompareHash сравнивает bcrypt-хэш с введённым значением.
//
// Возвращает nil, если значение соответствует хэшу, иначе ошибку.
func CompareHash(originalHash, externalPassword string) error {
	const op = "password.CompareHash"
	if err := bcrypt.CompareHashAndPassword([]byte(originalHash), []byte(externalPassword)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// CompareDummy выполняет сравнение с заранее вычисленным хэшем и всегда
// возвращает ошибку. Используется, когда пользователь не найден, чтобы время
// ответа не выдавало существование учётной записи.
func CompareDummy(externalPassword string) error {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(externalPassword))
	return fmt.Errorf("password.CompareDummy: %w", bcrypt.ErrMismatchedHashAndPassword)
}
