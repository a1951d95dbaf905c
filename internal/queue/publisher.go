package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/piewallah/pw-gateway/internal/config"
	"github.com/piewallah/pw-gateway/internal/logging"
	"github.com/piewallah/pw-gateway/internal/model"
)

// ErrBrokerUnavailable is returned while the publisher waits out the
// cool-down after a failed dial.
var ErrBrokerUnavailable = errors.New("rabbitmq: broker unavailable")

// Publisher sends session events to RabbitMQ. The connection is opened
// lazily and reopened after a failure; messages are persistent. A failed
// dial makes every Publish fail fast until the cool-down has passed, so auth
// handlers never wait on a dead broker more than once per cool-down.
type Publisher struct {
	url      string
	queue    string
	log      logrus.FieldLogger
	dial     dialFunc
	cooldown time.Duration
	now      func() time.Time

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	retryAt time.Time
}

func NewPublisher(cfg config.QueueConfig, log logrus.FieldLogger) *Publisher {
	q := cfg.Queue
	if q == "" {
		q = DefaultQueue
	}
	if log == nil {
		log = logging.Discard()
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = 30 * time.Second
	}
	return &Publisher{
		url:      cfg.URL,
		queue:    q,
		log:      log,
		dial:     dialer(cfg.DialTimeout),
		cooldown: cd,
		now:      time.Now,
	}
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.closeLocked()
	if p.now().Before(p.retryAt) {
		return nil, ErrBrokerUnavailable
	}
	conn, err := p.dial(p.url)
	if err != nil {
		p.retryAt = p.now().Add(p.cooldown)
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	// durable so events survive broker restarts
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

// Publish implements auth.EventPublisher. Errors are logged and returned
// so callers may ignore them.
func (p *Publisher) Publish(ctx context.Context, ev model.SessionEvent) error {
	body, err := Encode(ev)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if errors.Is(err, ErrBrokerUnavailable) {
		return err
	}
	if err != nil {
		p.log.WithError(err).WithField("cooldown", p.cooldown.String()).Warn("rabbitmq: publisher unavailable")
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    time.Now().UTC(),
		Type:         string(ev.Type),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		p.log.WithError(err).Warn("rabbitmq: publish failed")
		p.closeLocked()
		return err
	}
	return nil
}

// Close releases the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *Publisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
