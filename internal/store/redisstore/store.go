package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps the redis client used for cross-instance coordination.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// sendLockTTL bounds how long a crashed sender can keep a chat locked.
const sendLockTTL = 2 * time.Minute

func sendLockKey(chatID string) string {
	return "chat:inflight:" + chatID
}

// Acquire takes the per-chat in-flight send lock. It reports false when
// another send already holds it.
func (s *Store) Acquire(ctx context.Context, chatID string) (bool, error) {
	return s.rdb.SetNX(ctx, sendLockKey(chatID), "1", sendLockTTL).Result()
}

// Release drops the per-chat send lock.
func (s *Store) Release(ctx context.Context, chatID string) error {
	return s.rdb.Del(ctx, sendLockKey(chatID)).Err()
}
