// Package models содержит доменные сущности биллинга: пользователей, заказы,
// согласия, подписки, токены активации и журнал писем, а также события
// платёжного провайдера и таксономию ошибок.
package models

import (
	"strings"
	"time"
)

// Role роль пользователя в системе.
type Role string

const (
	// RoleClient клиент, оплативший коучинг.
	RoleClient Role = "CLIENT"
	// RoleCoach коуч.
	RoleCoach Role = "COACH"
	// RoleAdmin администратор.
	RoleAdmin Role = "ADMIN"
)

// User представляет учётную запись клиента.
//
// Пользователь создаётся без пароля при первой оплате и становится
// активированным после установки пароля по токену активации.
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             *string    `json:"name,omitempty"`
	Role             Role       `json:"role"`
	PasswordHash     *string    `json:"-"`
	StripeCustomerID *string    `json:"-"`
	ActivatedAt      *time.Time `json:"activated_at,omitempty"`
	EmailVerified    bool       `json:"email_verified"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsActivated сообщает, прошёл ли пользователь активацию.
// Сессия выдаётся только активированным пользователям.
func (u *User) IsActivated() bool {
	return u.ActivatedAt != nil && u.EmailVerified
}

// HasPassword сообщает, установлен ли пароль.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// NormalizeEmail приводит адрес к каноничному виду для поиска и хранения.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
