package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// ClientHeader carries the event's client MAC so subscribers can filter
// without decoding the payload.
const ClientHeader = "Gatekeeper-Client"

// connect dials url with unlimited reconnects; extra options are applied
// after the defaults.
func connect(url, name string, extra ...nats.Option) (*nats.Conn, error) {
	opts := append([]nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}, extra...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes recorded events as JSON on gatekeeper.<kind>.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to url. A bus outage never blocks the caller:
// messages published while disconnected are buffered by the client.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := connect(url, "gatekeeper")
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", topic, err)
	}
	msg := nats.NewMsg(topic)
	msg.Data = data
	if c := clientOf(event); c != "" {
		msg.Header.Set(ClientHeader, c)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

func clientOf(event any) string {
	switch e := event.(type) {
	case model.Event:
		return e.Client
	case *model.Event:
		if e != nil {
			return e.Client
		}
	}
	return ""
}

// Close drains pending messages, falling back to a hard close.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
	return nil
}
