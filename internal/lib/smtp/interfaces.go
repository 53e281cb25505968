// Package smtp отправляет письма через SMTP с STARTTLS. Отправка защищена
// circuit breaker'ом, который размыкается при серии ошибок сервера.
package smtp

import "io"

// Client подмножество *smtp.Client, используемое при отправке.
type Client interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// Dialer устанавливает аутентифицированное соединение с SMTP-сервером.
type Dialer interface {
	Connect() (Client, error)
}
