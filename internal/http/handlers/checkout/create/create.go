// Package create реализует HTTP-обработчик оформления заказа.
//
// Handler проверяет входные данные, передаёт запрос сервису оформления заказа
// и возвращает ссылку на страницу оплаты платёжного провайдера.
package create

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/coaching-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/coaching-billing/internal/http/response"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coaching-billing/internal/models"
	"github.com/magabrotheeeer/coaching-billing/internal/services/checkout"
)

// Request данные формы оформления заказа.
type Request struct {
	PlanID          string `json:"plan_id" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	TermsAccepted   bool   `json:"terms_accepted"`
	PrivacyAccepted bool   `json:"privacy_accepted"`
	MarketingOptIn  bool   `json:"marketing_opt_in"`
	CaptchaToken    string `json:"captcha_token"`
}

// Service оформление заказа.
type Service interface {
	Create(ctx context.Context, req checkout.Request) (*models.CheckoutSession, error)
}

// Handler обрабатывает запросы на оформление заказа.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Оформление заказа
// @Description Создаёт сессию оплаты у платёжного провайдера и возвращает ссылку на неё.
// @Tags Checkout
// @Accept  json
// @Produce  json
// @Param request body Request true "План, email и согласия"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /api/v1/checkout [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.checkout.create"

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

	session, err := h.service.Create(r.Context(), checkout.Request{
		PlanID:          req.PlanID,
		Email:           req.Email,
		TermsAccepted:   req.TermsAccepted,
		PrivacyAccepted: req.PrivacyAccepted,
		MarketingOptIn:  req.MarketingOptIn,
		CaptchaToken:    req.CaptchaToken,
		IPAddress:       middlewarectx.ClientIP(r),
		UserAgent:       r.UserAgent(),
	})
	if err != nil {
		log.Error("failed to create checkout session", sl.Err(err), slog.String("plan_id", req.PlanID))
		status, resp := response.FromError(err)
		if errors.Is(err, models.ErrExternalService) {
			resp.Error = response.Detail(err)
		}
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	log.Info("checkout session created", slog.String("session_id", session.ID), slog.String("plan_id", req.PlanID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"session_id": session.ID,
		"url":        session.URL,
	}))
}
