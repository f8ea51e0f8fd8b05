// Package wsnotify exposes the stream broker over WebSocket. Clients
// connect with a topic list, receive lifecycle events as frames, and
// replenish flow-control credits by sending commands. Frames are
// serialized with a negotiated codec: JSON (text frames) or
// MessagePack (binary frames).
package wsnotify

import (
	"time"

	"github.com/xraph/conveyor/stream"
)

// FrameType identifies a server-to-client frame.
type FrameType string

const (
	FrameEvent FrameType = "event"
	FrameError FrameType = "error"
	FramePong  FrameType = "pong"
	FrameAck   FrameType = "ack"
)

// Frame is the server-to-client message envelope.
type Frame struct {
	Type      FrameType        `json:"type" msgpack:"type"`
	Timestamp time.Time        `json:"ts" msgpack:"ts"`
	Envelope  *stream.Envelope `json:"envelope,omitempty" msgpack:"envelope,omitempty"`
	Error     string           `json:"error,omitempty" msgpack:"error,omitempty"`

	// CorrelID echoes the ID of the command being acknowledged.
	CorrelID string `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`
}

// Action identifies a client-to-server command.
type Action string

const (
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
	ActionCredits     Action = "credits"
	ActionPing        Action = "ping"
)

// Command is the client-to-server message.
type Command struct {
	ID      string `json:"id,omitempty" msgpack:"id,omitempty"`
	Action  Action `json:"action" msgpack:"action"`
	Topic   string `json:"topic,omitempty" msgpack:"topic,omitempty"`
	Credits int64  `json:"credits,omitempty" msgpack:"credits,omitempty"`
}

func errorFrame(correlID, msg string) *Frame {
	return &Frame{
		Type:      FrameError,
		Timestamp: time.Now().UTC(),
		Error:     msg,
		CorrelID:  correlID,
	}
}

func ackFrame(correlID string) *Frame {
	return &Frame{
		Type:      FrameAck,
		Timestamp: time.Now().UTC(),
		CorrelID:  correlID,
	}
}
