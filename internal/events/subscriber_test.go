package events

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

const (
	macA = "aa:aa:aa:aa:aa:01"
	macB = "bb:bb:bb:bb:bb:02"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

// busPair returns a connected publisher and subscriber on a fresh server.
func busPair(t *testing.T, opts ...nats.Option) (*NATSPublisher, *NATSSubscriber) {
	t.Helper()
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	t.Cleanup(func() { pub.Close() })
	sub, err := NewNATSSubscriber(url, opts...)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	t.Cleanup(func() { sub.Close() })
	return pub, sub
}

func publish(t *testing.T, pub *NATSPublisher, events ...model.Event) {
	t.Helper()
	for _, e := range events {
		if err := pub.Publish(context.Background(), e.Topic(), e); err != nil {
			t.Fatalf("Publish(%s): %v", e.Kind, err)
		}
	}
	if err := pub.conn.Flush(); err != nil {
		t.Fatal(err)
	}
}

func next(t *testing.T, ch <-chan *model.Event) *model.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestNATSSubscriber_DecodesEvents(t *testing.T) {
	pub, sub := busPair(t)
	ch, cancel, err := sub.Subscribe(TopicAll, "")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	publish(t, pub,
		model.Event{ID: 1, Kind: model.EventSessionGranted, Client: macA, Outcome: model.OutcomeAllow, DurationGranted: 20 * time.Minute},
		model.Event{ID: 2, Kind: model.EventModeChanged, Mode: model.ModeOpen},
	)

	e := next(t, ch)
	if e.Kind != model.EventSessionGranted || e.Client != macA || e.DurationGranted != 20*time.Minute {
		t.Errorf("first event = %+v", e)
	}
	if e := next(t, ch); e.Kind != model.EventModeChanged || e.Mode != model.ModeOpen {
		t.Errorf("second event = %+v", e)
	}
}

func TestNATSSubscriber_ClientFilter(t *testing.T) {
	pub, sub := busPair(t)
	ch, cancel, err := sub.Subscribe(TopicAll, macB)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	publish(t, pub,
		model.Event{ID: 1, Kind: model.EventAccessDenied, Client: macA},
		model.Event{ID: 2, Kind: model.EventModeChanged},
		model.Event{ID: 3, Kind: model.EventAccessDenied, Client: macB},
	)

	if e := next(t, ch); e.ID != 3 {
		t.Fatalf("got event %d for %q, want only %s's", e.ID, e.Client, macB)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNATSSubscriber_TopicFilter(t *testing.T) {
	pub, sub := busPair(t)
	ch, cancel, err := sub.Subscribe(TopicAccessDenied, "")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	publish(t, pub,
		model.Event{ID: 1, Kind: model.EventSessionGranted, Client: macA},
		model.Event{ID: 2, Kind: model.EventAccessDenied, Client: macA},
	)
	if e := next(t, ch); e.ID != 2 {
		t.Fatalf("got event %d, want the access_denied one", e.ID)
	}
}

func TestNATSSubscriber_DropsUndecodable(t *testing.T) {
	pub, sub := busPair(t)
	ch, cancel, err := sub.Subscribe(TopicAll, "")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	if err := pub.conn.Publish(TopicAccessDenied, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	publish(t, pub, model.Event{ID: 9, Kind: model.EventAccessDenied})

	if e := next(t, ch); e.ID != 9 {
		t.Fatalf("got %+v", e)
	}
	if got := sub.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestNATSSubscriber_CancelClosesChannel(t *testing.T) {
	pub, sub := busPair(t)
	ch, cancel, err := sub.Subscribe(TopicAll, "")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 100 {
			_ = pub.Publish(context.Background(), TopicSessionExpired, model.Event{ID: int64(i), Kind: model.EventSessionExpired})
		}
		_ = pub.conn.Flush()
	}()

	cancel()
	cancel()
	<-done

	for range ch {
	}
}

func TestNATSSubscriber_Options(t *testing.T) {
	var _ Subscriber = (*NATSSubscriber)(nil)

	_, sub := busPair(t, nats.ReconnectHandler(func(*nats.Conn) {}))
	if !sub.conn.IsConnected() {
		t.Fatal("expected subscriber to be connected")
	}
	if got := sub.conn.Opts.Name; got != "gatekeeper-watch" {
		t.Errorf("connection name = %q", got)
	}
}
