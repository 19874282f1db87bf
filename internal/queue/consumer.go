package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

const maxBackoff = 30 * time.Second

// Consumer reads EventsQueue and appends one line per event to Out.
type Consumer struct {
	URL    string
	Queue  string
	Out    io.Writer
	Logger *log.Logger
}

// Run keeps a consumer attached to the broker, reconnecting with backoff,
// until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Logger.Warn("events consumer: dial failed", "err", err, "retry", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Logger.Warn("events consumer: loop ended, reconnecting", "err", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Logger.Warn("events consumer: set QoS failed", "err", err)
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(d.Body); err != nil {
				c.Logger.Warn("events consumer: handle message failed", "err", err)
				_ = d.Nack(false, false) // no requeue, avoids a hot loop on poison messages
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle decodes one delivery and writes its log line.
func (c *Consumer) Handle(body []byte) error {
	line, err := FormatLine(body)
	if err != nil {
		return err
	}
	_, err = io.WriteString(c.Out, line)
	return err
}

// FormatLine renders an envelope as a single human-readable line.
func FormatLine(body []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("unmarshal: %w", err)
	}
	switch env.Type {
	case TypeSyncCompleted:
		var ev SyncCompleted
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return "", fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		return fmt.Sprintf("[%s] Sync completed | resource=%s | inserted=%d | updated=%d | failed=%d\n",
			ev.At, ev.Resource, ev.Inserted, ev.Updated, ev.Failed), nil
	case TypeSessionUpdated:
		var ev SessionUpdated
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return "", fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		return fmt.Sprintf("[%s] Session %s | username=%q | character_id=%d\n",
			ev.At, ev.Action, ev.Username, ev.CharacterID), nil
	}
	return "", fmt.Errorf("unknown event type %q", env.Type)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
