package models

import "time"

// EmailType класс письма.
type EmailType string

const (
	EmailSignup        EmailType = "SIGNUP"
	EmailTransactional EmailType = "TRANSACTIONAL"
)

// EmailStatus итог отправки письма.
type EmailStatus string

const (
	EmailSent   EmailStatus = "SENT"
	EmailFailed EmailStatus = "FAILED"
)

// EmailLog запись журнала на одного получателя.
type EmailLog struct {
	ID                string
	Type              EmailType
	OrderID           *string
	Recipient         string
	Subject           string
	Status            EmailStatus
	ProviderMessageID *string
	ErrorMessage      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
