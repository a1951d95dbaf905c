package queue

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultDialTimeout bounds connect and handshake when none is configured.
const DefaultDialTimeout = 2 * time.Second

type dialFunc func(url string) (*amqp.Connection, error)

// dialer opens broker connections that give up after timeout instead of the
// library's 30s default.
func dialer(timeout time.Duration) dialFunc {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	return func(url string) (*amqp.Connection, error) {
		return amqp.DialConfig(url, amqp.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
			Dial:      amqp.DefaultDial(timeout),
		})
	}
}
