package session

import (
	"context"
	"sync"
)

// LocalBroker implements Broker inside a single process, for
// single-replica deployments and tests. Semantics mirror the Redis
// implementation: at-most-once delivery, silent no-op publish when no
// session is registered.
type LocalBroker struct {
	replicaID     string
	subscriptions map[string]*Subscription
	mu            sync.Mutex
}

func NewLocalBroker(replicaID string) *LocalBroker {
	return &LocalBroker{
		replicaID:     replicaID,
		subscriptions: make(map[string]*Subscription),
	}
}

func (b *LocalBroker) Register(ctx context.Context, sessionID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A reconnect for the same session replaces the old subscription.
	if old, exists := b.subscriptions[sessionID]; exists {
		delete(b.subscriptions, sessionID)
		close(old.msgs)
	}

	var sub *Subscription
	sub = newSubscription(sessionID, func() error {
		b.remove(sessionID, sub)
		return nil
	})
	b.subscriptions[sessionID] = sub
	return sub, nil
}

func (b *LocalBroker) Publish(ctx context.Context, sessionID string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subscriptions[sessionID]
	if !exists {
		return nil
	}

	select {
	case sub.msgs <- payload:
	default:
		// Slow consumer, drop. Same at-most-once contract as pub/sub.
	}
	return nil
}

func (b *LocalBroker) Deregister(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, exists := b.subscriptions[sessionID]; exists {
		delete(b.subscriptions, sessionID)
		close(sub.msgs)
	}
	return nil
}

func (b *LocalBroker) Owner(ctx context.Context, sessionID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscriptions[sessionID]; exists {
		return b.replicaID, nil
	}
	return "", nil
}

// remove drops a specific subscription, leaving any replacement that
// was registered for the same session in place.
func (b *LocalBroker) remove(sessionID string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if current, exists := b.subscriptions[sessionID]; exists && current == sub {
		delete(b.subscriptions, sessionID)
		close(sub.msgs)
	}
}
