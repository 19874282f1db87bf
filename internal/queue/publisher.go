package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends events. Callers treat failures as non-fatal: a broker
// outage never fails the request that produced the event.
type Publisher interface {
	Publish(ctx context.Context, ev Envelope) error
}

// NopPublisher drops every event; used when no broker URL is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Envelope) error { return nil }

const (
	defaultDialTimeout = 2 * time.Second
	// publishTimeout bounds one Emit, independent of the caller's deadline.
	publishTimeout = 3 * time.Second
)

// AMQPPublisher dials the broker for each publish. Event volume is a handful
// per sync, so there is no long-lived channel to babysit. DialTimeout covers
// the TCP connect and the AMQP handshake.
type AMQPPublisher struct {
	URL         string
	Queue       string
	DialTimeout time.Duration
	Logger      *log.Logger
}

// NewPublisher returns an AMQPPublisher for url, or a NopPublisher when url is empty.
func NewPublisher(url string, logger *log.Logger) Publisher {
	if url == "" {
		return NopPublisher{}
	}
	return &AMQPPublisher{URL: url, Queue: EventsQueue, Logger: logger}
}

// Publish declares the durable queue and sends ev as a persistent message.
func (p *AMQPPublisher) Publish(ctx context.Context, ev Envelope) error {
	conn, err := p.dial(ctx)
	if err != nil {
		p.Logger.Warn("rabbitmq: dial failed", "err", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.Logger.Warn("rabbitmq: channel open failed", "err", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		p.Queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		p.Logger.Warn("rabbitmq: queue declare failed", "err", err)
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.Queue, false, false, pub); err != nil {
		p.Logger.Warn("rabbitmq: publish failed", "type", ev.Type, "err", err)
		return err
	}
	return nil
}

func (p *AMQPPublisher) dial(ctx context.Context) (*amqp.Connection, error) {
	timeout := p.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return amqp.DialConfig(p.URL, amqp.Config{
		Locale: "en_US",
		Dial:   amqp.DefaultDial(timeout),
	})
}

// Emit builds and publishes an event, logging instead of returning failures.
// It publishes under its own publishTimeout, so an event still goes out when
// the request that produced it has already hit its deadline.
func Emit(ctx context.Context, p Publisher, logger *log.Logger, typ string, payload any) {
	ev, err := NewEnvelope(typ, payload)
	if err == nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		err = p.Publish(pctx, ev)
		cancel()
	}
	if err != nil {
		logger.Warn("event not published", "type", typ, "err", err)
	}
}
