package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// BoardChange is the pub/sub payload announcing a committed board write.
type BoardChange struct {
	Board string `json:"board"`
	At    int64  `json:"at"`
}

// Notifier evicts the shared snapshot cache and announces the change on a
// Redis channel so every API instance can warm its cache again.
type Notifier struct {
	redis   *redis.Client
	cache   *SnapshotCache
	channel string
	now     func() time.Time
}

func NewNotifier(client *redis.Client, cache *SnapshotCache, channel string) *Notifier {
	return &Notifier{redis: client, cache: cache, channel: channel, now: time.Now}
}

// BoardChanged evicts the cached snapshot and publishes the change. A failed
// eviction is reported but the change is still published.
func (n *Notifier) BoardChanged(ctx context.Context, board string) error {
	evictErr := n.cache.Evict(ctx, board)
	payload, err := sonic.MarshalString(BoardChange{Board: board, At: n.now().UnixNano()})
	if err != nil {
		return err
	}
	if err := n.redis.Publish(ctx, n.channel, payload).Err(); err != nil {
		return err
	}
	return evictErr
}

// SubscribeChanges listens for board changes and calls refresh for each one
// until ctx is cancelled. Closed subscriptions are re-established after a
// second.
func SubscribeChanges(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, refresh func(ctx context.Context, board string)) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var change BoardChange
				if err := sonic.UnmarshalString(msg.Payload, &change); err != nil || change.Board == "" {
					logger.Errorf("unable to parse board change: %v", err)
					continue
				}
				refresh(ctx, change.Board)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
