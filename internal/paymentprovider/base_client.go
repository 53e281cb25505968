// Package paymentprovider реализует интеграцию со Stripe: сессии оплаты,
// управление подписками через REST API и проверку вебхуков.
package paymentprovider

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

// RetryPolicy параметры повторов для временных ошибок.
type RetryPolicy struct {
	MaxRetries int
	Wait       time.Duration
}

// BaseClient выполняет HTTP-запросы через circuit breaker с повторами
// при сетевых ошибках, 429 и 5xx.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	sleepFn     func(time.Duration)
}

// NewBaseClient создаёт BaseClient с именованным circuit breaker'ом.
func NewBaseClient(httpClient *http.Client, breakerName string, retryPolicy RetryPolicy) *BaseClient {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &BaseClient{
		client:      httpClient,
		breaker:     cb,
		retryPolicy: retryPolicy,
		sleepFn:     time.Sleep,
	}
}

// Do выполняет запрос. Тело запроса должно поддерживать GetBody для повторов.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retryPolicy.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := req.Context().Err(); err != nil {
				return nil, err
			}
			c.sleepFn(c.retryPolicy.Wait * time.Duration(attempt))
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				req.Body = body
			}
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			resp, err := c.client.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode >= http.StatusInternalServerError {
				// ответ нужен вызывающему, ошибка нужна breaker'у
				return resp, errServerStatus
			}
			return resp, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open: %w", models.ErrExternalService, err)
		}
		if errors.Is(err, errServerStatus) {
			lastErr = fmt.Errorf("%w: upstream status %d", models.ErrExternalService, resp.StatusCode)
			_ = resp.Body.Close()
			continue
		}
		if err != nil {
			lastErr = fmt.Errorf("%w: %w", models.ErrExternalService, err)
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests && attempt < c.retryPolicy.MaxRetries {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("%w: rate limited", models.ErrExternalService)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

var errServerStatus = errors.New("upstream server error")
