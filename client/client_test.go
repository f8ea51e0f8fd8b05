package client_test

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xraph/conveyor/alert"
	"github.com/xraph/conveyor/client"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/stream"
	"github.com/xraph/conveyor/wsnotify"
)

func startServer(t *testing.T) (*stream.Broker, string) {
	t.Helper()
	broker := stream.NewBroker(slog.Default())
	srv := httptest.NewServer(wsnotify.NewServer(broker, slog.Default()))
	t.Cleanup(srv.Close)
	return broker, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialClient(t *testing.T, url string, opts ...client.Option) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := client.DialContext(ctx, url, opts...)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitForSubscriber(t *testing.T, broker *stream.Broker, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for broker.Stats().SubscriberCount != want {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d subscriber(s)", want)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func jobEvent(kind string) *alert.Event {
	return &alert.Event{
		ID:        id.NewEventID(),
		Type:      alert.EventJobSucceeded,
		JobID:     id.NewJobID(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

func recvEvent(t *testing.T, c *client.Client) *stream.Envelope {
	t.Helper()
	select {
	case env, ok := <-c.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestClient_ReceivesEvents(t *testing.T) {
	broker, url := startServer(t)
	c := dialClient(t, url, client.WithTopics("jobs"))
	waitForSubscriber(t, broker, 1)

	evt := jobEvent("email.send")
	if err := broker.Send(evt); err != nil {
		t.Fatalf("send error: %v", err)
	}

	env := recvEvent(t, c)
	if env.Event.JobID != evt.JobID {
		t.Errorf("job id = %s, want %s", env.Event.JobID, evt.JobID)
	}
	if env.Event.Kind != "email.send" {
		t.Errorf("kind = %q", env.Event.Kind)
	}
}

func TestClient_PingAndCredits(t *testing.T) {
	broker, url := startServer(t)
	c := dialClient(t, url)
	waitForSubscriber(t, broker, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping error: %v", err)
	}
	if err := c.AddCredits(ctx, 100); err != nil {
		t.Fatalf("add credits error: %v", err)
	}
	if err := c.AddCredits(ctx, -1); err == nil {
		t.Fatal("expected error for negative credits")
	}
}

func TestClient_DynamicSubscription(t *testing.T) {
	broker, url := startServer(t)
	c := dialClient(t, url, client.WithTopics("jobs"))
	waitForSubscriber(t, broker, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.Subscribe(ctx, stream.KindTopic("report")); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	if err := c.Subscribe(ctx, "not-a-topic"); err == nil {
		t.Fatal("expected error for invalid topic")
	}

	if err := c.Unsubscribe(ctx, "jobs"); err != nil {
		t.Fatalf("unsubscribe error: %v", err)
	}

	// Only the kind topic remains subscribed; a report event arrives,
	// an email event does not.
	_ = broker.Send(jobEvent("report"))
	env := recvEvent(t, c)
	if env.Event.Kind != "report" {
		t.Errorf("kind = %q, want report", env.Event.Kind)
	}
}

func TestClient_MsgpackFormat(t *testing.T) {
	broker, url := startServer(t)
	c := dialClient(t, url, client.WithTopics("jobs"), client.WithFormat("msgpack"))
	waitForSubscriber(t, broker, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping error: %v", err)
	}

	evt := jobEvent("email.send")
	_ = broker.Send(evt)
	env := recvEvent(t, c)
	if env.Event.JobID != evt.JobID {
		t.Errorf("job id = %s, want %s", env.Event.JobID, evt.JobID)
	}
}

func TestClient_CloseClosesEvents(t *testing.T) {
	broker, url := startServer(t)
	c := dialClient(t, url)
	waitForSubscriber(t, broker, 1)

	if err := c.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	// Repeat close is a no-op.
	if err := c.Close(); err != nil {
		t.Fatalf("double close error: %v", err)
	}

	select {
	case _, ok := <-c.Events():
		if ok {
			t.Fatal("expected closed events channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events channel to close")
	}
}
