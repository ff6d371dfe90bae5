package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// QueueGroup is shared by every arbiter replica so each event is handled once.
const QueueGroup = "arbiter"

// DrainTimeout bounds how long Close waits for in-flight handlers.
const DrainTimeout = 10 * time.Second

// Handler receives a message's subject and raw payload.
type Handler func(subject string, data []byte)

type Client struct {
	conn   *nats.Conn
	closed chan struct{}
	logger *slog.Logger
}

// NewClient connects to NATS and waits for the first connection to be
// confirmed or ctx to end. An empty token connects without auth.
func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	closed := make(chan struct{})
	opts := []nats.Option{
		nats.Name("arbiter"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			close(closed)
		}),
		nats.DrainTimeout(DrainTimeout),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats flush: %w", err)
	}

	return &Client{conn: nc, closed: closed, logger: logger}, nil
}

// Publish sends data as JSON.
func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe joins the arbiter queue group on subject. A panicking handler is
// logged and the message dropped.
func (c *Client) Subscribe(subject string, handler Handler) error {
	_, err := c.conn.QueueSubscribe(subject, QueueGroup, func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("handler panicked", "subject", msg.Subject, "panic", r)
			}
		}()
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.logger.Info("subscribed", "subject", subject, "queue", QueueGroup)
	return nil
}

// Close drains in-flight messages and returns once the connection is closed
// or DrainTimeout has passed.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed", "error", err)
		c.conn.Close()
	}
	select {
	case <-c.closed:
	case <-time.After(DrainTimeout + time.Second):
		c.logger.Warn("nats drain timed out")
		c.conn.Close()
	}
}
