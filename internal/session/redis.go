package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"toolgate/internal/models"
)

// Registration TTL and refresh cadence. A replica that dies without
// deregistering stops refreshing, and its registrations fall out within
// one TTL.
const (
	registrationTTL     = 90 * time.Second
	registrationRefresh = 30 * time.Second
)

// RedisBroker implements Broker on Redis pub/sub. Session-to-replica
// affinity lives in a keyed registration record any replica can query;
// payloads travel over a per-session channel that only the owning
// replica subscribes to.
type RedisBroker struct {
	client    *redis.Client
	replicaID string
}

func NewRedisBroker(client *redis.Client, replicaID string) *RedisBroker {
	return &RedisBroker{
		client:    client,
		replicaID: replicaID,
	}
}

func (b *RedisBroker) Register(ctx context.Context, sessionID string) (*Subscription, error) {
	channel := channelName(sessionID)

	// Subscribe before writing the registration record: once the
	// record is visible, publishers expect delivery, so the
	// subscription has to already be live.
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to session channel: %w", err)
	}

	live := &models.LiveSession{
		ID:        sessionID,
		ReplicaID: b.replicaID,
		Channel:   channel,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(live)
	if err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to marshal live session: %w", err)
	}
	if err := b.client.Set(ctx, registrationKey(sessionID), data, registrationTTL).Err(); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to register live session: %w", err)
	}

	done := make(chan struct{})
	sub := newSubscription(sessionID, func() error {
		close(done)
		return pubsub.Close()
	})

	go b.pump(pubsub, sub)
	go b.refreshLoop(sessionID, data, done)

	slog.Debug("Live session registered", "session_id", sessionID, "replica_id", b.replicaID)
	return sub, nil
}

// pump moves payloads from the Redis subscription into the local
// channel. Pub/sub is at-most-once; a consumer that cannot keep up
// loses messages rather than stalling the reader.
func (b *RedisBroker) pump(pubsub *redis.PubSub, sub *Subscription) {
	defer close(sub.msgs)

	for msg := range pubsub.Channel() {
		select {
		case sub.msgs <- []byte(msg.Payload):
		default:
			slog.Warn("Dropping session message for slow consumer", "session_id", sub.sessionID)
		}
	}
}

func (b *RedisBroker) refreshLoop(sessionID string, data []byte, done <-chan struct{}) {
	ticker := time.NewTicker(registrationRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := b.client.Set(ctx, registrationKey(sessionID), data, registrationTTL).Err()
			cancel()
			if err != nil {
				slog.Warn("Failed to refresh live session registration", "session_id", sessionID, "error", err)
			}
		case <-done:
			return
		}
	}
}

func (b *RedisBroker) Publish(ctx context.Context, sessionID string, payload []byte) error {
	// No registration means no live connection anywhere in the fleet;
	// skip the publish instead of shouting into a dead channel.
	exists, err := b.client.Exists(ctx, registrationKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check live session: %w", err)
	}
	if exists == 0 {
		return nil
	}

	if err := b.client.Publish(ctx, channelName(sessionID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish session message: %w", err)
	}
	return nil
}

func (b *RedisBroker) Deregister(ctx context.Context, sessionID string) error {
	if err := b.client.Del(ctx, registrationKey(sessionID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to deregister live session: %w", err)
	}
	slog.Debug("Live session deregistered", "session_id", sessionID)
	return nil
}

func (b *RedisBroker) Owner(ctx context.Context, sessionID string) (string, error) {
	data, err := b.client.Get(ctx, registrationKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get live session: %w", err)
	}

	var live models.LiveSession
	if err := json.Unmarshal([]byte(data), &live); err != nil {
		return "", fmt.Errorf("failed to unmarshal live session: %w", err)
	}
	return live.ReplicaID, nil
}

func registrationKey(sessionID string) string {
	return fmt.Sprintf("livesession:%s", sessionID)
}

func channelName(sessionID string) string {
	return fmt.Sprintf("sessionch:%s", sessionID)
}
