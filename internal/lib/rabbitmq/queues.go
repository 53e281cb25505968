// Package rabbitmq содержит подключение к RabbitMQ, объявление очередей
// уведомлений, публикацию и потребление сообщений.
package rabbitmq

// NotificationsExchange direct-обменник для событий уведомлений.
const NotificationsExchange = "notifications"

const (
	// QueueOrderCompleted очередь событий о новых заказах для администраторов.
	QueueOrderCompleted = "orders.completed"
	// RoutingKeyOrderCompleted ключ маршрутизации событий о новых заказах.
	RoutingKeyOrderCompleted = "order.completed"
)

// QueueConfig описывает очередь и ключ её привязки к обменнику.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetNotificationQueues возвращает очереди, объявляемые при старте сервисов.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: QueueOrderCompleted, RoutingKey: RoutingKeyOrderCompleted},
	}
}
