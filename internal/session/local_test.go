package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveWithin(t *testing.T, sub *Subscription, d time.Duration) []byte {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed unexpectedly")
		return msg
	case <-time.After(d):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertNoMessage(t *testing.T, sub *Subscription, d time.Duration) {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if ok {
			t.Fatalf("unexpected message: %s", msg)
		}
	case <-time.After(d):
	}
}

func TestLocalBrokerDelivery(t *testing.T) {
	b := NewLocalBroker("replica-1")
	ctx := context.Background()

	sub, err := b.Register(ctx, "s1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, "s1", []byte("hello")))
	assert.Equal(t, []byte("hello"), receiveWithin(t, sub, time.Second))
}

func TestLocalBrokerOnlyOwnerReceives(t *testing.T) {
	b := NewLocalBroker("replica-1")
	ctx := context.Background()

	sub1, err := b.Register(ctx, "s1")
	require.NoError(t, err)
	defer sub1.Close()

	sub2, err := b.Register(ctx, "s2")
	require.NoError(t, err)
	defer sub2.Close()

	require.NoError(t, b.Publish(ctx, "s1", []byte("for-s1")))

	assert.Equal(t, []byte("for-s1"), receiveWithin(t, sub1, time.Second))
	assertNoMessage(t, sub2, 50*time.Millisecond)
}

func TestLocalBrokerPublishAfterDeregister(t *testing.T) {
	b := NewLocalBroker("replica-1")
	ctx := context.Background()

	sub, err := b.Register(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, b.Deregister(ctx, "s1"))

	// No delivery and no error.
	require.NoError(t, b.Publish(ctx, "s1", []byte("late")))

	_, ok := <-sub.Messages()
	assert.False(t, ok, "channel should be closed after deregistration")
}

func TestLocalBrokerPublishUnknownSession(t *testing.T) {
	b := NewLocalBroker("replica-1")

	assert.NoError(t, b.Publish(context.Background(), "ghost", []byte("into the void")))
}

func TestLocalBrokerOwner(t *testing.T) {
	b := NewLocalBroker("replica-1")
	ctx := context.Background()

	owner, err := b.Owner(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, owner)

	sub, err := b.Register(ctx, "s1")
	require.NoError(t, err)

	owner, err = b.Owner(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "replica-1", owner)

	require.NoError(t, sub.Close())

	owner, err = b.Owner(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestLocalBrokerReconnectReplacesSubscription(t *testing.T) {
	b := NewLocalBroker("replica-1")
	ctx := context.Background()

	old, err := b.Register(ctx, "s1")
	require.NoError(t, err)

	replacement, err := b.Register(ctx, "s1")
	require.NoError(t, err)
	defer replacement.Close()

	_, ok := <-old.Messages()
	assert.False(t, ok, "old subscription should be closed")

	require.NoError(t, b.Publish(ctx, "s1", []byte("to the new one")))
	assert.Equal(t, []byte("to the new one"), receiveWithin(t, replacement, time.Second))

	// Closing the stale handle must not tear down the replacement.
	require.NoError(t, old.Close())
	require.NoError(t, b.Publish(ctx, "s1", []byte("still alive")))
	assert.Equal(t, []byte("still alive"), receiveWithin(t, replacement, time.Second))
}

func TestLocalBrokerCloseThenDeregister(t *testing.T) {
	b := NewLocalBroker("replica-1")
	ctx := context.Background()

	sub, err := b.Register(ctx, "s1")
	require.NoError(t, err)

	// Connection teardown closes the subscription first, then
	// deregisters; the second step must be a harmless no-op.
	require.NoError(t, sub.Close())
	require.NoError(t, b.Deregister(ctx, "s1"))

	owner, err := b.Owner(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, owner)

	require.NoError(t, b.Publish(ctx, "s1", []byte("late")))
}

func TestLocalBrokerDropsWhenConsumerStalls(t *testing.T) {
	b := NewLocalBroker("replica-1")
	ctx := context.Background()

	sub, err := b.Register(ctx, "s1")
	require.NoError(t, err)
	defer sub.Close()

	// Fill the buffer without reading; the overflow is dropped, not
	// blocked on.
	for i := 0; i < subscriptionBuffer+8; i++ {
		require.NoError(t, b.Publish(ctx, "s1", []byte("burst")))
	}

	received := 0
	for {
		select {
		case <-sub.Messages():
			received++
		default:
			assert.Equal(t, subscriptionBuffer, received)
			return
		}
	}
}
