package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"toolgate/internal/models"
)

type RedisStorage struct {
	client *redis.Client
}

func NewRedisStorage(client *redis.Client) *RedisStorage {
	return &RedisStorage{
		client: client,
	}
}

func (r *RedisStorage) CreatePending(ctx context.Context, pending *models.PendingAuthorization, ttl time.Duration) error {
	key := fmt.Sprintf("pending:%s", pending.Code)

	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to marshal pending authorization: %w", err)
	}

	ok, err := r.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save pending authorization: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}

	return nil
}

func (r *RedisStorage) ConsumePending(ctx context.Context, code string) (*models.PendingAuthorization, error) {
	key := fmt.Sprintf("pending:%s", code)

	// GETDEL makes the read-and-delete a single operation, so a
	// replayed upstream callback finds nothing.
	data, err := r.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume pending authorization: %w", err)
	}

	var pending models.PendingAuthorization
	if err := json.Unmarshal([]byte(data), &pending); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending authorization: %w", err)
	}

	return &pending, nil
}

func (r *RedisStorage) PublishExchange(ctx context.Context, exchange *models.TokenExchange, ttl time.Duration) error {
	key := fmt.Sprintf("exchange:%s", exchange.Code)

	data, err := json.Marshal(exchange)
	if err != nil {
		return fmt.Errorf("failed to marshal token exchange: %w", err)
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save token exchange: %w", err)
	}

	return nil
}

func (r *RedisStorage) GetExchange(ctx context.Context, code string) (*models.TokenExchange, error) {
	key := fmt.Sprintf("exchange:%s", code)

	data, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token exchange: %w", err)
	}

	var exchange models.TokenExchange
	if err := json.Unmarshal([]byte(data), &exchange); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token exchange: %w", err)
	}

	return &exchange, nil
}

// redeemExchangeScript flips used=false to used=true and returns the
// record as it was before the flip, all server-side. A plain
// read-then-write would let two concurrent redemptions both observe
// used=false; the script makes exactly one caller win.
//
// KEYS[1] = exchange key
var redeemExchangeScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
    return false
end
local rec = cjson.decode(data)
if rec.used then
    return 'USED'
end
rec.used = true
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
    redis.call('SET', KEYS[1], cjson.encode(rec), 'PX', ttl)
else
    redis.call('SET', KEYS[1], cjson.encode(rec))
end
return data
`)

func (r *RedisStorage) RedeemExchange(ctx context.Context, code string) (*models.TokenExchange, error) {
	key := fmt.Sprintf("exchange:%s", code)

	result, err := redeemExchangeScript.Run(ctx, r.client, []string{key}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to redeem token exchange: %w", err)
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected redeem script result type %T", result)
	}
	if data == "USED" {
		return nil, ErrAlreadyRedeemed
	}

	var exchange models.TokenExchange
	if err := json.Unmarshal([]byte(data), &exchange); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token exchange: %w", err)
	}

	return &exchange, nil
}

func (r *RedisStorage) SaveInstallation(ctx context.Context, inst *models.Installation, ttl time.Duration) error {
	key := fmt.Sprintf("installation:%s", inst.AccessToken)

	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal installation: %w", err)
	}

	// Installation and refresh mapping go out in one transaction so a
	// refresh token never points at an access token with no record.
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, data, ttl)
	if inst.RefreshToken != "" {
		refreshKey := fmt.Sprintf("refresh:%s", inst.RefreshToken)
		pipe.Set(ctx, refreshKey, inst.AccessToken, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save installation: %w", err)
	}

	return nil
}

func (r *RedisStorage) ReplaceInstallation(ctx context.Context, newInst *models.Installation, oldAccessToken string, ttl time.Duration) error {
	data, err := json.Marshal(newInst)
	if err != nil {
		return fmt.Errorf("failed to marshal installation: %w", err)
	}

	// All three writes commit in one transaction: the new record, the
	// repointed mapping, and the old record's deletion. The old access
	// token stops verifying the instant the new one starts.
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf("installation:%s", newInst.AccessToken), data, ttl)
	if newInst.RefreshToken != "" {
		pipe.Set(ctx, fmt.Sprintf("refresh:%s", newInst.RefreshToken), newInst.AccessToken, ttl)
	}
	pipe.Del(ctx, fmt.Sprintf("installation:%s", oldAccessToken))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to replace installation: %w", err)
	}

	return nil
}

func (r *RedisStorage) GetInstallation(ctx context.Context, accessToken string) (*models.Installation, error) {
	key := fmt.Sprintf("installation:%s", accessToken)

	data, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get installation: %w", err)
	}

	var inst models.Installation
	if err := json.Unmarshal([]byte(data), &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal installation: %w", err)
	}

	return &inst, nil
}

func (r *RedisStorage) GetAccessTokenByRefresh(ctx context.Context, refreshToken string) (string, error) {
	key := fmt.Sprintf("refresh:%s", refreshToken)

	accessToken, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get refresh mapping: %w", err)
	}

	return accessToken, nil
}

// deleteInstallationScript deletes the installation record and removes
// the refresh mapping only when it still points at this access token, so
// deleting a stale record cannot drop a mapping that has since been
// repointed.
//
// KEYS[1] = installation key
// KEYS[2] = refresh mapping key ("" sentinel handled caller-side)
// ARGV[1] = access token
var deleteInstallationScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
if KEYS[2] ~= '' then
    local current = redis.call('GET', KEYS[2])
    if current == ARGV[1] then
        redis.call('DEL', KEYS[2])
    end
end
return 1
`)

func (r *RedisStorage) DeleteInstallation(ctx context.Context, accessToken string) error {
	key := fmt.Sprintf("installation:%s", accessToken)

	inst, err := r.GetInstallation(ctx, accessToken)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	refreshKey := ""
	if inst.RefreshToken != "" {
		refreshKey = fmt.Sprintf("refresh:%s", inst.RefreshToken)
	}

	if err := deleteInstallationScript.Run(ctx, r.client, []string{key, refreshKey}, accessToken).Err(); err != nil {
		return fmt.Errorf("failed to delete installation: %w", err)
	}

	return nil
}
