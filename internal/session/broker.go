package session

import (
	"context"
	"sync"
)

// Broker routes server-to-client pushes to the one replica holding a
// live streaming connection. Delivery is if-connected: publishes are
// at-most-once and non-durable, so anything that must survive a replica
// restart has to be idempotent and retried by the caller.
type Broker interface {
	// Register claims a session for this replica and subscribes to its
	// channel. The subscription is live before Register returns, so no
	// message published afterwards is lost to a race.
	Register(ctx context.Context, sessionID string) (*Subscription, error)
	// Publish sends a payload towards whichever replica owns the
	// session. Publishing to a session with no live registration is a
	// silent no-op.
	Publish(ctx context.Context, sessionID string, payload []byte) error
	// Deregister removes the session registration and ends the
	// subscription so stale publishes stop being attempted.
	Deregister(ctx context.Context, sessionID string) error
	// Owner reports which replica currently holds the session, or ""
	// if none does.
	Owner(ctx context.Context, sessionID string) (string, error)
}

// subscriptionBuffer bounds how far a slow consumer can fall behind
// before messages are dropped.
const subscriptionBuffer = 16

// Subscription is one replica's live feed of payloads for a session.
type Subscription struct {
	sessionID string
	msgs      chan []byte

	closeOnce sync.Once
	closeFn   func() error
}

func newSubscription(sessionID string, closeFn func() error) *Subscription {
	return &Subscription{
		sessionID: sessionID,
		msgs:      make(chan []byte, subscriptionBuffer),
		closeFn:   closeFn,
	}
}

func (s *Subscription) SessionID() string {
	return s.sessionID
}

// Messages returns the receive channel. It is closed when the
// subscription ends.
func (s *Subscription) Messages() <-chan []byte {
	return s.msgs
}

func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			err = s.closeFn()
		}
	})
	return err
}
