// Package metrics объявляет счётчики Prometheus, которые отдаются на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents события Stripe по типу и результату обработки.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "webhook_events_total",
		Help:      "Processed payment provider webhook events.",
	}, []string{"type", "result"})

	// EmailsSent письма по типу и статусу.
	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "emails_total",
		Help:      "Dispatched emails by type and status.",
	}, []string{"type", "status"})

	// TokensSwept удалённые просроченные токены активации.
	TokensSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "activation_tokens_swept_total",
		Help:      "Expired activation tokens removed by the sweep.",
	})

	// AuthAttempts попытки входа и активации по результату.
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "auth_attempts_total",
		Help:      "Login and activation attempts by operation and result.",
	}, []string{"operation", "result"})
)
