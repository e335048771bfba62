package transport

import (
	"context"
	"sync"
)

// InMemoryBus delivers messages to in-process subscribers only, for
// tests and single-node deployments.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]*memorySub
}

type memorySub struct {
	bus     *InMemoryBus
	topic   string
	handler Handler
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]*memorySub)}
}

func (b *InMemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	subs := append([]*memorySub(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(ctx, payload)
	}
	return nil
}

func (b *InMemoryBus) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &memorySub{bus: b, topic: topic, handler: handler}
	b.subs[topic] = append(b.subs[topic], s)
	return s, nil
}

func (b *InMemoryBus) Close() error { return nil }

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	list := s.bus.subs[s.topic]
	for i, sub := range list {
		if sub == s {
			s.bus.subs[s.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}
