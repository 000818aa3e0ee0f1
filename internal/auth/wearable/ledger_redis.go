package wearable

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisLedgerPrefix = "wearsync:used-code:"

// RedisLedger shares the used-code set between processes with SETNX. Keys hold the
// SHA-256 of the code, never the code itself.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLedger connects to addr and verifies the connection. ttl of zero keeps
// claimed codes forever.
func NewRedisLedger(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("wearable auth: connect redis ledger: %w", err)
	}
	return NewRedisLedgerWithClient(client, ttl), nil
}

// NewRedisLedgerWithClient wraps an existing client.
func NewRedisLedgerWithClient(client *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl}
}

// Claim sets the code key only if absent.
func (l *RedisLedger) Claim(ctx context.Context, code string) (bool, error) {
	ok, err := l.client.SetNX(ctx, redisLedgerKey(code), time.Now().Unix(), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("wearable auth: claim code: %w", err)
	}
	return ok, nil
}

// Close closes the Redis connection.
func (l *RedisLedger) Close() error {
	if l.client != nil {
		return l.client.Close()
	}
	return nil
}

func redisLedgerKey(code string) string {
	sum := sha256.Sum256([]byte(code))
	return redisLedgerPrefix + hex.EncodeToString(sum[:])
}
