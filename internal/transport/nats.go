package transport

import (
	"context"

	"github.com/nats-io/nats.go"
)

// NATSBus publishes and subscribes over a NATS connection, for
// multi-node gossip across the network.
type NATSBus struct {
	conn *nats.Conn
}

// NewNATSBus connects to url (e.g. "nats://localhost:4222").
func NewNATSBus(url string) (*NATSBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NATSBus{conn: conn}, nil
}

func (b *NATSBus) Publish(_ context.Context, topic string, payload []byte) error {
	return b.conn.Publish(topic, payload)
}

func (b *NATSBus) Subscribe(_ context.Context, topic string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(topic, func(msg *nats.Msg) {
		handler(context.Background(), msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
