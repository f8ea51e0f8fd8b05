// Package stream provides a real-time fan-out broker for job lifecycle
// events. It implements alert.Notifier, so it can be wired into the
// engine as the alert sink, and distributes events to subscribers via
// topic-based pub/sub with credit-based flow control.
package stream

import (
	"time"

	"github.com/xraph/conveyor/alert"
)

// Envelope is what subscribers receive: the lifecycle event plus the
// topic it was published on.
type Envelope struct {
	Topic       string       `json:"topic" msgpack:"topic"`
	PublishedAt time.Time    `json:"published_at" msgpack:"published_at"`
	Event       *alert.Event `json:"event" msgpack:"event"`
}
