package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const keyDeadLetter = "persist:deadletter"

// FailureQueue parks history writes that could not be delivered, so an
// operator (or a reconciliation job) can replay them later. Gameplay
// never reads from it.
type FailureQueue struct {
	rdb *redis.Client
}

func NewFailureQueue(redisURL string) (*FailureQueue, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for failure queue")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &FailureQueue{rdb: rdb}, nil
}

// NewFailureQueueWithClient wraps an existing client (used by tests).
func NewFailureQueueWithClient(rdb *redis.Client) *FailureQueue {
	return &FailureQueue{rdb: rdb}
}

func (q *FailureQueue) Push(ctx context.Context, j Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, keyDeadLetter, raw).Err()
}

// Pop removes and returns the oldest parked job, or nil when empty.
func (q *FailureQueue) Pop(ctx context.Context) (*Job, error) {
	raw, err := q.rdb.LPop(ctx, keyDeadLetter).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var j Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (q *FailureQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, keyDeadLetter).Result()
}

func (q *FailureQueue) Close() error {
	if q == nil || q.rdb == nil {
		return nil
	}
	return q.rdb.Close()
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
