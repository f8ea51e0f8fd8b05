package client

import (
	"log/slog"
	"time"

	"github.com/xraph/conveyor/stream"
	"github.com/xraph/conveyor/wsnotify"
)

// Option configures a Client.
type Option func(*Client)

// WithTopics sets the initial topic subscriptions. Defaults to the
// firehose when unset.
func WithTopics(topics ...string) Option {
	return func(c *Client) {
		if len(topics) > 0 {
			c.topics = topics
		}
	}
}

// WithFormat sets the wire format for frame encoding.
// Supported values: "json" (default), "msgpack".
func WithFormat(format string) Option {
	return func(c *Client) { c.codec = wsnotify.GetCodec(format) }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithReconnect enables automatic reconnection with the given parameters.
func WithReconnect(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.reconnect = true
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
	}
}

// WithEventBuffer sets the Events channel buffer size.
func WithEventBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.events = make(chan *stream.Envelope, n)
		}
	}
}
