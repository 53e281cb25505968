// Package auth содержит вход по паролю и проверку сессионных токенов.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/coaching-billing/internal/lib/jwt"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/password"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coaching-billing/internal/metrics"
	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

// UserRepository описывает контракт для чтения пользователей.
type UserRepository interface {
	// GetUserByEmail возвращает пользователя по email или models.ErrNotFound.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// GetUserByID возвращает пользователя по ID или models.ErrNotFound.
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// LoginResult результат успешного входа.
type LoginResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// AuthService отвечает за вход и валидацию JWT.
type AuthService struct {
	users    UserRepository
	jwtMaker jwt.Maker
	log      *slog.Logger
}

// NewAuthService создает новый экземпляр AuthService.
func NewAuthService(users UserRepository, jwtMaker jwt.Maker, log *slog.Logger) *AuthService {
	return &AuthService{
		users:    users,
		jwtMaker: jwtMaker,
		log:      log,
	}
}

// Login проверяет пароль и выпускает сессионный токен. Неизвестный email,
// неактивированная учётная запись и неверный пароль дают одну и ту же
// ошибку models.ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, rawPassword string) (*LoginResult, error) {
	const op = "auth.Login"
	log := s.log.With(slog.String("op", op))

	user, err := s.users.GetUserByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.Error("failed to look up user", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		_ = password.CompareDummy(rawPassword)
		return nil, s.reject(op)
	}
	if !user.HasPassword() || !user.IsActivated() {
		_ = password.CompareDummy(rawPassword)
		return nil, s.reject(op)
	}
	if err := password.CompareHash(*user.PasswordHash, rawPassword); err != nil {
		return nil, s.reject(op)
	}

	token, err := s.jwtMaker.GenerateToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	metrics.AuthAttempts.WithLabelValues("login", "success").Inc()
	log.Info("user logged in", slog.String("user_id", user.ID))
	return &LoginResult{Token: token, User: user}, nil
}

func (s *AuthService) reject(op string) error {
	metrics.AuthAttempts.WithLabelValues("login", "rejected").Inc()
	return fmt.Errorf("%s: %w", op, models.ErrInvalidCredentials)
}

// Authenticate проверяет токен и заново читает пользователя из хранилища,
// поэтому роль и активация берутся актуальные, а не из claims.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	const op = "auth.Authenticate"
	claims, err := s.jwtMaker.ParseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, models.ErrUnauthorized, err)
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID())
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !user.IsActivated() {
		return nil, fmt.Errorf("%s: %w", op, models.ErrUnauthorized)
	}
	return user, nil
}
