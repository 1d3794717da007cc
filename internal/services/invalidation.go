package services

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/campusloop/campusloop/internal/logging"
)

// Change-feed topics. Services publish to these after successful writes;
// interested consumers (the invalidator, push UI feeds) subscribe.
const (
	TopicMentorship    = "feed:mentorship"
	TopicConnections   = "feed:connections"
	TopicNotifications = "feed:notifications"
)

// FeedPublisher pushes change events onto the realtime feed.
type FeedPublisher interface {
	Publish(ctx context.Context, topic, ref string) error
}

// RedisFeed implements FeedPublisher over redis pub/sub.
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func (f *RedisFeed) Publish(ctx context.Context, topic, ref string) error {
	return f.client.Publish(ctx, topic, ref).Err()
}

// Invalidator maps change-feed topics to the cache key patterns they make
// stale and deletes those keys when an event arrives. The mapping is static
// and explicit so a new cache must declare which topics invalidate it.
type Invalidator struct {
	client *redis.Client
	topics map[string][]string
}

func NewInvalidator(client *redis.Client) *Invalidator {
	return &Invalidator{
		client: client,
		topics: map[string][]string{
			TopicMentorship: {DirectoryCachePrefix + "*"},
		},
	}
}

// Topics returns the subscribed topic names.
func (inv *Invalidator) Topics() []string {
	names := make([]string, 0, len(inv.topics))
	for t := range inv.topics {
		names = append(names, t)
	}
	return names
}

// Run subscribes and invalidates until ctx is cancelled. Errors are logged
// and the loop continues; a missed invalidation only extends staleness to
// the cache TTL.
func (inv *Invalidator) Run(ctx context.Context) {
	sub := inv.client.Subscribe(ctx, inv.Topics()...)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			inv.invalidate(ctx, msg.Channel)
		}
	}
}

func (inv *Invalidator) invalidate(ctx context.Context, topic string) {
	for _, pattern := range inv.topics[topic] {
		if err := inv.deletePattern(ctx, pattern); err != nil {
			logging.Error("Cache invalidation failed", map[string]interface{}{
				"topic":   topic,
				"pattern": pattern,
				"error":   err.Error(),
			})
		}
	}
}

func (inv *Invalidator) deletePattern(ctx context.Context, pattern string) error {
	iter := inv.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return inv.client.Del(ctx, keys...).Err()
}
