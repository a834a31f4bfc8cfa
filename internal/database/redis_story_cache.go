package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/story"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var _ interfaces.StoryCache = (*redisStoryCache)(nil)

const (
	storyCacheKeyPrefix      = "story_graph:"
	storyInvalidationChannel = "story_graph:invalidated"
)

type redisStoryCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

type cachedStory struct {
	ID    string          `yaml:"id"`
	Story *story.Document `yaml:"story"`
}

// NewRedisStoryCache создает кэш графов историй в Redis.
func NewRedisStoryCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) interfaces.StoryCache {
	return &redisStoryCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisStoryCache"),
	}
}

func storyCacheKey(code string) string {
	return storyCacheKeyPrefix + code
}

func (c *redisStoryCache) Get(ctx context.Context, code string) (*story.Graph, error) {
	raw, err := c.client.Get(ctx, storyCacheKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get story %s: %w", code, err)
	}

	var entry cachedStory
	if err := yaml.Unmarshal(raw, &entry); err != nil || entry.Story == nil {
		c.logger.Warn("Corrupted story cache entry, dropping", zap.String("storyCode", code), zap.Error(err))
		_ = c.client.Del(ctx, storyCacheKey(code)).Err()
		return nil, nil
	}
	id, err := uuid.Parse(entry.ID)
	if err != nil {
		_ = c.client.Del(ctx, storyCacheKey(code)).Err()
		return nil, nil
	}
	g, err := entry.Story.Graph()
	if err != nil {
		return nil, fmt.Errorf("decode cached story %s: %w", code, err)
	}
	g.ID = id
	return g, nil
}

func (c *redisStoryCache) Set(ctx context.Context, g *story.Graph) error {
	raw, err := yaml.Marshal(cachedStory{ID: g.ID.String(), Story: g.Document()})
	if err != nil {
		return fmt.Errorf("encode story %s for cache: %w", g.Code, err)
	}
	if err := c.client.Set(ctx, storyCacheKey(g.Code), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set story %s: %w", g.Code, err)
	}
	c.logger.Debug("Story cached", zap.String("storyCode", g.Code), zap.Duration("ttl", c.ttl))
	return nil
}

func (c *redisStoryCache) Delete(ctx context.Context, code string) error {
	if err := c.client.Del(ctx, storyCacheKey(code)).Err(); err != nil {
		return fmt.Errorf("redis del story %s: %w", code, err)
	}
	if err := c.client.Publish(ctx, storyInvalidationChannel, code).Err(); err != nil {
		return fmt.Errorf("redis publish invalidation %s: %w", code, err)
	}
	return nil
}

func (c *redisStoryCache) Subscribe(ctx context.Context, onInvalidate func(code string)) error {
	sub := c.client.Subscribe(ctx, storyInvalidationChannel)
	defer func() { _ = sub.Close() }()

	// Receive дожидается подтверждения подписки.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", storyInvalidationChannel, err)
	}
	c.logger.Info("Subscribed to story invalidations", zap.String("channel", storyInvalidationChannel))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.logger.Debug("Story invalidated remotely", zap.String("storyCode", msg.Payload))
			onInvalidate(msg.Payload)
		}
	}
}
