package models

import "time"

// ActivationTokenTTL время жизни токена активации.
const ActivationTokenTTL = 24 * time.Hour

// ActivationToken хранит bcrypt-хэш одноразового токена активации.
// Открытый токен существует только в письме пользователю.
type ActivationToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Expired сообщает, истёк ли токен на момент now.
func (t *ActivationToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
