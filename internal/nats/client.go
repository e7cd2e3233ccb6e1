package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// connection is the part of *nats.Conn the forwarder needs after connect.
type connection interface {
	IsConnected() bool
	Status() nats.Status
	Drain() error
	Close()
}

// Client is the collector's link to JetStream: one connection, one
// JetStream context and the name of the stream accepted events land in.
type Client struct {
	conn   connection
	js     jetstream.JetStream
	stream string
	logger *slog.Logger
}

// Connect dials the configured server and opens a JetStream context.
// Reconnects happen in the background; forwarding fails fast meanwhile.
func Connect(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "event-forwarder")

	nc, err := nats.Connect(cfg.URL, connectOptions(cfg, logger)...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open JetStream: %w", err)
	}

	logger.Info("event forwarding connected",
		"url", nc.ConnectedUrl(),
		"stream", cfg.Stream.Name,
	)
	return &Client{conn: nc, js: js, stream: cfg.Stream.Name, logger: logger}, nil
}

func connectOptions(cfg Config, logger *slog.Logger) []nats.Option {
	return []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("event forwarding paused", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("event forwarding resumed", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("event forwarding stopped")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("forwarder connection error", "error", err)
		}),
	}
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Ready reports whether forwarded events can reach the events stream.
// It is registered as a collector readiness check.
func (c *Client) Ready(ctx context.Context) error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("%w: %s", ErrDisconnected, c.conn.Status())
	}
	if _, err := c.js.Stream(ctx, c.stream); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStreamUnavailable, c.stream, err)
	}
	return nil
}

// Drain lets in-flight publishes finish, then closes the connection.
func (c *Client) Drain() error {
	c.logger.Info("draining event forwarder")
	return c.conn.Drain()
}

// Close closes the connection without waiting for in-flight publishes.
func (c *Client) Close() {
	c.conn.Close()
}
