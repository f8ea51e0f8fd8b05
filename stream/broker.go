package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/conveyor/alert"
	"github.com/xraph/conveyor/hook"
	"github.com/xraph/conveyor/id"
)

// Compile-time interface checks.
var (
	_ alert.Notifier = (*Broker)(nil)
	_ hook.Hook      = (*Broker)(nil)
	_ hook.Shutdown  = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber envelope buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker fans job lifecycle events out to subscribers via topic-based
// pub/sub. Wire it into the engine with SetNotifier; delivery is
// best-effort and never blocks the engine.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[id.SubscriberID]*Subscriber

	totalPublished atomic.Int64

	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber envelope buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		subscribers:    make(map[id.SubscriberID]*Subscriber),
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements hook.Hook so the broker can be registered for
// shutdown notification.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry for external use.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics and returns
// it along with its generated ID.
func (b *Broker) Subscribe(topics ...string) *Subscriber {
	sub := NewSubscriber(id.NewSubscriberID(), b.bufferSize, b.defaultCredits)

	b.mu.Lock()
	b.subscribers[sub.ID()] = sub
	b.mu.Unlock()

	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subID id.SubscriberID, topics ...string) {
	b.mu.RLock()
	sub, ok := b.subscribers[subID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subID id.SubscriberID, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subID id.SubscriberID) {
	b.topics.UnsubscribeAll(subID)

	b.mu.Lock()
	sub, ok := b.subscribers[subID]
	delete(b.subscribers, subID)
	b.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subID id.SubscriberID) (*Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sub, ok := b.subscribers[subID]
	return sub, ok
}

// Send implements alert.Notifier: it publishes the event to its job
// topic, its kind topic, the jobs topic, and the firehose.
func (b *Broker) Send(event *alert.Event) error {
	env := &Envelope{
		Topic:       JobTopic(event.JobID.String()),
		PublishedAt: time.Now().UTC(),
		Event:       event,
	}
	topics := []string{
		TopicFirehose,
		TopicJobs,
		KindTopic(event.Kind),
		env.Topic,
	}
	delivered := b.topics.Broadcast(topics, env)
	b.totalPublished.Add(int64(delivered))
	return nil
}

// OnShutdown closes and removes every subscriber.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[id.SubscriberID]*Subscriber)
	b.mu.Unlock()

	for subID, sub := range subs {
		b.topics.UnsubscribeAll(subID)
		sub.Close()
	}
	b.logger.Info("stream broker shut down", slog.Int("subscribers", len(subs)))
	return nil
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	b.mu.RLock()
	count := len(b.subscribers)
	b.mu.RUnlock()

	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}
