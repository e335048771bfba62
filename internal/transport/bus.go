// Package transport defines the topic-addressed gossip Bus used to
// publish and receive ops between nodes, plus NATS and in-memory
// implementations.
//
// Grounded on internal/consensus/transport/rpc.go's channel-fed
// message delivery and internal/consensus/transport/websocket.go's
// topic-subscription idiom, adapted from point-to-point RPC to
// topic-addressed pub/sub (NATS) since gossip has no fixed peer set.
package transport

import "context"

// Handler processes one received message. Where it runs depends on the
// implementation: InMemoryBus calls handlers synchronously inside
// Publish, so Publish returns only after every handler has returned;
// NATSBus calls them from the NATS client's delivery goroutine.
type Handler func(ctx context.Context, payload []byte)

// Subscription can be canceled to stop receiving further messages.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the minimal publish/subscribe transport the gossip layer
// needs: topic-addressed byte streams, no delivery guarantees beyond
// whatever the concrete implementation provides.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)
	Close() error
}
