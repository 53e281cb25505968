// Package activate реализует установку пароля по токену активации.
package activate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/coaching-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/coaching-billing/internal/http/response"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

// Request данные формы активации.
type Request struct {
	Token    string  `json:"token" validate:"required"`
	UserID   string  `json:"user_id" validate:"required,uuid"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
	Name     *string `json:"name,omitempty" validate:"omitempty,max=100"`

	CaptchaToken string `json:"captcha_token"`
}

// Service активация учётной записи.
type Service interface {
	Activate(ctx context.Context, token, userID, password string, name *string) (*models.User, error)
}

// CaptchaVerifier проверка CAPTCHA-токена клиента.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// Handler обрабатывает запросы на активацию учётной записи.
type Handler struct {
	log      *slog.Logger
	service  Service
	captcha  CaptchaVerifier
	validate *validator.Validate
}

// New создает новый Handler.
func New(log *slog.Logger, service Service, captcha CaptchaVerifier) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		captcha:  captcha,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Активация учётной записи
// @Description Погашает токен активации, устанавливает пароль и имя.
// @Tags Activation
// @Accept  json
// @Produce  json
// @Param request body Request true "Токен, пользователь и пароль"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 410 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 429 {object} response.ErrorResponse
// @Router /api/v1/activation [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.activation.activate"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Warn("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}
	if err := h.captcha.Verify(r.Context(), req.CaptchaToken, middlewarectx.ClientIP(r)); err != nil {
		log.Warn("captcha rejected", sl.Err(err))
		status, resp := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	user, err := h.service.Activate(r.Context(), req.Token, req.UserID, req.Password, req.Name)
	if err != nil {
		log.Warn("activation failed", sl.Err(err))
		status, resp := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	log.Info("account activated", slog.String("user_id", user.ID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"user": user,
	}))
}
