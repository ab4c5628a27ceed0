package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection with the publish/subscribe surface the
// service needs. A nil *Client is safe to use: every method becomes a no-op
// so the service can run without a broker in local development.
type Client struct {
	conn *nats.Conn
}

// Connect establishes a NATS connection with reconnect handling.
func Connect(url string) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Publish sends data to the given subject.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if c == nil || c.conn == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.conn.Publish(subject, data)
}

// QueueSubscribe subscribes to a subject within a queue group so that only
// one service instance handles each message.
func (c *Client) QueueSubscribe(subject, queue string, handler func(data []byte)) (*nats.Subscription, error) {
	if c == nil || c.conn == nil {
		return nil, nil
	}
	return c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Close drains the connection, letting in-flight handlers finish.
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	_ = c.conn.Drain()
}
