// Package client provides a Go client for consuming Conveyor lifecycle
// events from a wsnotify server over WebSocket.
//
// Usage:
//
//	c, err := client.Dial("ws://host/ws",
//	    client.WithTopics("jobs"),
//	)
//	defer c.Close()
//
//	for env := range c.Events() {
//	    fmt.Printf("%s: %s\n", env.Event.JobID, env.Event.Type)
//	}
//
// Subscriptions can be widened or narrowed after connecting:
//
//	err = c.Subscribe(ctx, stream.KindTopic("email.send"))
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/stream"
	"github.com/xraph/conveyor/wsnotify"
)

// Client consumes lifecycle events pushed by a wsnotify server.
type Client struct {
	rawURL string
	codec  wsnotify.Codec
	logger *slog.Logger

	// Reconnection.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration

	// Connection state. mu serializes writes and guards conn swaps
	// during reconnection.
	conn   net.Conn
	mu     sync.Mutex
	closed atomic.Bool

	// Topic set, kept current across Subscribe/Unsubscribe so a
	// reconnect restores the same subscriptions.
	topicMu sync.Mutex
	topics  []string

	// Command ID → chan *wsnotify.Frame for ack/error correlation.
	pending sync.Map

	events chan *stream.Envelope
}

// Dial connects to a wsnotify server.
func Dial(rawURL string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), rawURL, opts...)
}

// DialContext connects to a wsnotify server with a context.
func DialContext(ctx context.Context, rawURL string, opts ...Option) (*Client, error) {
	c := &Client{
		rawURL:     rawURL,
		codec:      wsnotify.GetCodec(""),
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
		topics:     []string{stream.TopicFirehose},
		events:     make(chan *stream.Envelope, 64),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/client: dial: %w", err)
	}

	go c.readLoop()

	return c, nil
}

// connect establishes the WebSocket connection with the current topic
// set and codec encoded as query parameters.
func (c *Client) connect(ctx context.Context) error {
	u, err := url.Parse(c.rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("format", c.codec.Name())
	c.topicMu.Lock()
	q.Set("topics", strings.Join(c.topics, ","))
	c.topicMu.Unlock()
	u.RawQuery = q.Encode()

	conn, _, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("notification client connected",
		slog.String("url", u.Host),
		slog.String("codec", c.codec.Name()),
	)
	return nil
}

// readLoop reads frames from the WebSocket and routes them: events to
// the Events channel, command replies to the pending map. It is the
// sole closer of the events channel.
func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		data, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			if c.closed.Load() {
				close(c.events)
				return
			}
			c.logger.Warn("notification client read error", slog.String("error", err.Error()))
			if c.reconnect && c.tryReconnect() {
				continue
			}
			close(c.events)
			return
		}

		frame, decErr := c.codec.DecodeFrame(data)
		if decErr != nil {
			c.logger.Warn("notification client: invalid frame", slog.String("error", decErr.Error()))
			continue
		}

		switch frame.Type {
		case wsnotify.FrameEvent:
			if frame.Envelope == nil {
				continue
			}
			select {
			case c.events <- frame.Envelope:
			default:
				// Drop if the consumer is slow.
			}

		case wsnotify.FrameAck, wsnotify.FrameError, wsnotify.FramePong:
			if val, ok := c.pending.Load(frame.CorrelID); ok {
				ch := val.(chan *wsnotify.Frame) //nolint:errcheck // pending always stores chan *wsnotify.Frame
				select {
				case ch <- frame:
				default:
				}
			}
		}
	}
}

// tryReconnect attempts to reconnect with exponential backoff. It
// reports whether a connection was re-established.
func (c *Client) tryReconnect() bool {
	delay := c.baseDelay
	for i := range c.maxRetries {
		c.logger.Info("notification client reconnecting",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)
		time.Sleep(delay)

		if c.closed.Load() {
			return false
		}
		if err := c.connect(context.Background()); err != nil {
			c.logger.Warn("notification client reconnect failed", slog.String("error", err.Error()))
			delay = min(delay*2, 30*time.Second)
			continue
		}
		return true
	}
	c.logger.Error("notification client: max reconnection attempts reached")
	return false
}

// Events returns the channel of received lifecycle envelopes. The
// channel is closed when the connection is lost for good or the client
// is closed.
func (c *Client) Events() <-chan *stream.Envelope { return c.events }

// Subscribe adds a topic to this connection's subscription set.
func (c *Client) Subscribe(ctx context.Context, topic string) error {
	if err := stream.ValidateTopic(topic); err != nil {
		return err
	}
	if err := c.command(ctx, &wsnotify.Command{
		Action: wsnotify.ActionSubscribe,
		Topic:  topic,
	}); err != nil {
		return fmt.Errorf("subscribe to %q: %w", topic, err)
	}

	c.topicMu.Lock()
	defer c.topicMu.Unlock()
	for _, t := range c.topics {
		if t == topic {
			return nil
		}
	}
	c.topics = append(c.topics, topic)
	return nil
}

// Unsubscribe removes a topic from this connection's subscription set.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	if err := c.command(ctx, &wsnotify.Command{
		Action: wsnotify.ActionUnsubscribe,
		Topic:  topic,
	}); err != nil {
		return fmt.Errorf("unsubscribe from %q: %w", topic, err)
	}

	c.topicMu.Lock()
	defer c.topicMu.Unlock()
	for i, t := range c.topics {
		if t == topic {
			c.topics = append(c.topics[:i], c.topics[i+1:]...)
			break
		}
	}
	return nil
}

// AddCredits replenishes flow-control credits for this connection.
func (c *Client) AddCredits(ctx context.Context, n int64) error {
	if err := c.command(ctx, &wsnotify.Command{
		Action:  wsnotify.ActionCredits,
		Credits: n,
	}); err != nil {
		return fmt.Errorf("add credits: %w", err)
	}
	return nil
}

// Ping round-trips a ping through the server.
func (c *Client) Ping(ctx context.Context) error {
	return c.command(ctx, &wsnotify.Command{Action: wsnotify.ActionPing})
}

// command sends a command and waits for the correlated reply.
func (c *Client) command(ctx context.Context, cmd *wsnotify.Command) error {
	cmd.ID = id.NewCommandID().String()

	respCh := make(chan *wsnotify.Frame, 1)
	c.pending.Store(cmd.ID, respCh)
	defer c.pending.Delete(cmd.ID)

	if err := c.writeCommand(cmd); err != nil {
		return err
	}

	select {
	case resp := <-respCh:
		if resp.Type == wsnotify.FrameError {
			return fmt.Errorf("server rejected command: %s", resp.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeCommand encodes and sends a command over the WebSocket.
func (c *Client) writeCommand(cmd *wsnotify.Command) error {
	data, err := c.codec.EncodeCommand(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	op := ws.OpText
	if c.codec.Binary() {
		op = ws.OpBinary
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteClientMessage(c.conn, op, data)
}

// Close closes the client connection. The Events channel is closed by
// the read loop once the connection tears down.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
