// Package resend реализует повторную отправку письма активации.
//
// Ответ не зависит от того, существует ли адрес, чтобы эндпоинт нельзя было
// использовать для перебора учётных записей.
package resend

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
)

// Message текст ответа на любой корректный запрос.
const Message = "if the account exists and is not activated, a new link has been sent"

// Request адрес, на который нужно переслать ссылку.
type Request struct {
	Email        string `json:"email" validate:"required,email"`
	CaptchaToken string `json:"captcha_token"`
}

// Service повторная выдача токена активации.
type Service interface {
	Resend(ctx context.Context, email string)
}

// CaptchaVerifier проверка CAPTCHA-токена клиента.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// Handler обрабатывает запросы на повторную отправку ссылки.
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
// @Summary Повторная отправка ссылки активации
// @Tags Activation
// @Accept  json
// @Produce  json
// @Param request body Request true "Email"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 429 {object} response.ErrorResponse
// @Router /api/v1/activation/resend [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.activation.resend"

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

	h.service.Resend(r.Context(), req.Email)

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"message": Message,
	}))
}
