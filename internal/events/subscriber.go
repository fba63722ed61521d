package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// Subscriber follows recorded events on the bus.
type Subscriber interface {
	// Subscribe delivers events whose subject matches topic. A non-empty
	// client keeps only that device's events. cancel unsubscribes and
	// closes the channel; it is safe to call more than once.
	Subscribe(topic, client string) (events <-chan *model.Event, cancel func(), err error)
	Close() error
}

// subBuffer is how many decoded events a subscription holds before it
// starts dropping.
const subBuffer = 64

// NATSSubscriber decodes gatekeeper events from NATS.
type NATSSubscriber struct {
	conn    *nats.Conn
	dropped atomic.Int64
}

// NewNATSSubscriber connects to url. Extra options (disconnect and
// reconnect handlers, for instance) are applied after the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := connect(url, "gatekeeper-watch", opts...)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Dropped counts messages discarded because they did not decode or the
// consumer fell behind.
func (s *NATSSubscriber) Dropped() int64 { return s.dropped.Load() }

// subscription guards its channel so a late NATS callback never sends on a
// closed channel.
type subscription struct {
	mu     sync.Mutex
	ch     chan *model.Event
	closed bool
}

func (sub *subscription) deliver(e *model.Event) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return true
	}
	select {
	case sub.ch <- e:
		return true
	default:
		return false
	}
}

func (sub *subscription) close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

func (s *NATSSubscriber) Subscribe(topic, client string) (<-chan *model.Event, func(), error) {
	sub := &subscription{ch: make(chan *model.Event, subBuffer)}

	ns, err := s.conn.Subscribe(topic, func(msg *nats.Msg) {
		if client != "" && msg.Header.Get(ClientHeader) != client {
			return
		}
		var e model.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			s.dropped.Add(1)
			return
		}
		if !sub.deliver(&e) {
			s.dropped.Add(1)
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// Round-trip so the interest is registered before anything is published.
	if err := s.conn.Flush(); err != nil {
		_ = ns.Unsubscribe()
		return nil, nil, fmt.Errorf("flushing subscription to %s: %w", topic, err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = ns.Unsubscribe()
			sub.close()
		})
	}
	return sub.ch, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
