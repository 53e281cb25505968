// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON‑ответов HTTP‑обработчиков. Пакет упрощает возврат
// успешных ответов, ошибок и сообщений валидации в едином формате, а также
// переводит доменные ошибки в HTTP-статусы.
package response

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

// Response описывает стандартную структуру JSON‑ответа сервера.
// Поле Status статус запроса ("OK" или "Error").
// Поле Error текст ошибки (опционально, при неуспехе).
// Поле Data данные ответа (опционально, при успехе).
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse структура ошибки для Swagger-документации и ответов с ошибкой.
// Code заполняется для ошибок, которые клиент должен различать (например, "expired").
type ErrorResponse struct {
	Status string `json:"status" example:"Error"`
	Error  string `json:"error" example:"invalid request body"`
	Code   string `json:"code,omitempty" example:"expired"`
}

const (
	// StatusOK значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// CodeExpired код ответа для просроченной ссылки активации.
const CodeExpired = "expired"

// StatusOKWithData возвращает успешный Response с переданными данными.
func StatusOKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает Response с ошибкой и переданным сообщением.
func Error(msg string) ErrorResponse {
	return ErrorResponse{
		Status: StatusError,
		Error:  msg,
	}
}

// ValidationError формирует Response со статусом Error на основе ошибок валидации.
// Каждое нарушение формируется в человеко‑читаемый текст, объединённый через запятую.
func ValidationError(errs validator.ValidationErrors) Response {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "email":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be a valid email", err.Field()))
		case "uuid":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only uuid", err.Field()))
		case "min":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at least %s characters", err.Field(), err.Param()))
		case "max":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at most %s characters", err.Field(), err.Param()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return Response{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}

// publicErrors ошибки, текст которых безопасно отдавать клиенту как есть.
var publicErrors = []error{
	models.ErrUnknownPlan,
	models.ErrCaptchaFailed,
	models.ErrInvalidToken,
	models.ErrTokenExpired,
	models.ErrAlreadyActivated,
	models.ErrTokenUsed,
	models.ErrAlreadyCancelled,
}

var opPrefix = regexp.MustCompile(`^([a-zA-Z0-9_]+\.[a-zA-Z0-9_.]+: )+`)

// Detail возвращает текст ошибки без префиксов операций вида "pkg.Func: ".
func Detail(err error) string {
	return opPrefix.ReplaceAllString(err.Error(), "")
}

// FromError переводит доменную ошибку в HTTP-статус и тело ответа.
// Все ошибки класса Unauthorized дают одно и то же сообщение.
func FromError(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized, Error("invalid credentials")
	case errors.Is(err, models.ErrExpired):
		resp := Error(message(err, "link expired"))
		resp.Code = CodeExpired
		return http.StatusGone, resp
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, Error("not found")
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, Error(message(err, "conflict"))
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, Error(message(err, Detail(err)))
	case errors.Is(err, models.ErrExternalService):
		return http.StatusBadGateway, Error("external service unavailable")
	default:
		return http.StatusInternalServerError, Error("internal error")
	}
}

func message(err error, fallback string) string {
	for _, pub := range publicErrors {
		if errors.Is(err, pub) {
			return strings.TrimSuffix(pub.Error(), ": "+errors.Unwrap(pub).Error())
		}
	}
	return fallback
}
