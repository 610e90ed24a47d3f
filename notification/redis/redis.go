package redisnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/parkside-crm/outbound"
)

const feedKeyPrefix = "notifications:"

// feedLimit caps how many entries one user's feed retains.
const feedLimit = 200

// Notifier pushes campaign notifications onto a per-user redis list. The feed
// is a cache, not a system of record: callers treat writes as fire-and-forget.
type Notifier struct {
	rdb *redis.Client
}

func NewNotifier(ctx context.Context, redisURL string) (*Notifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse redis url")
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis ping failed")
	}

	return &Notifier{rdb: rdb}, nil
}

func (n *Notifier) Notify(ctx context.Context, notification outbound.Notification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return errors.Wrap(err, "failed to encode notification")
	}

	key := fmt.Sprintf("%s%s", feedKeyPrefix, notification.UserID)

	pipe := n.rdb.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, feedLimit-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to push notification")
	}

	return nil
}

func (n *Notifier) Close() error {
	return n.rdb.Close()
}
