package models

import (
	"errors"
	"fmt"
)

// Классы ошибок. Конкретные ошибки оборачивают один из них, поэтому
// классификация выполняется через errors.Is.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrExpired         = errors.New("expired")
	ErrExternalService = errors.New("external service error")
)

var (
	ErrInvalidToken       = fmt.Errorf("invalid activation token: %w", ErrInvalidInput)
	ErrTokenExpired       = fmt.Errorf("activation token expired: %w", ErrExpired)
	ErrAlreadyActivated   = fmt.Errorf("account already activated: %w", ErrConflict)
	ErrTokenUsed          = fmt.Errorf("activation token already used: %w", ErrConflict)
	ErrAlreadyCancelled   = fmt.Errorf("subscription already cancelled: %w", ErrConflict)
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
	ErrUnknownPlan        = fmt.Errorf("unknown plan: %w", ErrInvalidInput)
	ErrCaptchaFailed      = fmt.Errorf("captcha verification failed: %w", ErrInvalidInput)
)
