// Package docs регистрирует описание API для http-swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/checkout": {
            "post": {
                "tags": ["Checkout"],
                "summary": "Оформление заказа",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/create.Request"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/plans": {
            "get": {
                "tags": ["Checkout"],
                "summary": "Каталог планов",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/payments/webhook": {
            "post": {
                "tags": ["Payment"],
                "summary": "Webhook платёжного провайдера",
                "parameters": [{"in": "header", "name": "Stripe-Signature", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/activation/validate": {
            "post": {
                "tags": ["Activation"],
                "summary": "Проверка ссылки активации",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/validate.Request"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "410": {"description": "Gone", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/activation": {
            "post": {
                "tags": ["Activation"],
                "summary": "Активация учётной записи",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/activate.Request"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "410": {"description": "Gone", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/activation/resend": {
            "post": {
                "tags": ["Activation"],
                "summary": "Повторная отправка ссылки активации",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/resend.Request"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Авторизация пользователя",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/login.Request"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/subscription": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Subscription"],
                "summary": "Текущая подписка",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/subscription/cancel": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Subscription"],
                "summary": "Отмена подписки",
                "parameters": [{"in": "body", "name": "request", "schema": {"$ref": "#/definitions/cancel.Request"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/subscription/reactivate": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Subscription"],
                "summary": "Возобновление подписки",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/subscription/sync": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Subscription"],
                "summary": "Сверка подписки с провайдером",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/resync.Request"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "response.Response": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "error": {"type": "string"},
                "data": {}
            }
        },
        "response.ErrorResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "Error"},
                "error": {"type": "string", "example": "invalid request body"},
                "code": {"type": "string", "example": "expired"}
            }
        },
        "create.Request": {
            "type": "object",
            "required": ["email", "plan_id"],
            "properties": {
                "plan_id": {"type": "string"},
                "email": {"type": "string"},
                "terms_accepted": {"type": "boolean"},
                "privacy_accepted": {"type": "boolean"},
                "marketing_opt_in": {"type": "boolean"},
                "captcha_token": {"type": "string"}
            }
        },
        "validate.Request": {
            "type": "object",
            "required": ["token", "user_id"],
            "properties": {
                "token": {"type": "string"},
                "user_id": {"type": "string"},
                "captcha_token": {"type": "string"}
            }
        },
        "activate.Request": {
            "type": "object",
            "required": ["password", "token", "user_id"],
            "properties": {
                "token": {"type": "string"},
                "user_id": {"type": "string"},
                "password": {"type": "string", "minLength": 8, "maxLength": 72},
                "name": {"type": "string"},
                "captcha_token": {"type": "string"}
            }
        },
        "resend.Request": {
            "type": "object",
            "required": ["email"],
            "properties": {"email": {"type": "string"}, "captcha_token": {"type": "string"}}
        },
        "login.Request": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "cancel.Request": {
            "type": "object",
            "properties": {"immediate": {"type": "boolean"}}
        },
        "resync.Request": {
            "type": "object",
            "required": ["subscription_id"],
            "properties": {"subscription_id": {"type": "string"}}
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and JWT token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo описание API, подставляемое в шаблон.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Coaching Billing API",
	Description:      "Оплата коучинга, активация учётных записей и управление подпиской.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
