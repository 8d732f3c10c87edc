package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type invalidationMessage struct {
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"`
}

// RedisInvalidator broadcasts settings changes over a redis pub/sub channel.
type RedisInvalidator struct {
	client   *redis.Client
	channel  string
	instance string
	logger   *zap.Logger
}

func NewRedisInvalidator(client *redis.Client, channel, instance string, logger *zap.Logger) *RedisInvalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisInvalidator{client: client, channel: channel, instance: instance, logger: logger}
}

func (i *RedisInvalidator) Publish(ctx context.Context) error {
	data, err := json.Marshal(invalidationMessage{Source: i.instance, Timestamp: time.Now().UnixNano()})
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}
	if err := i.client.Publish(ctx, i.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

func (i *RedisInvalidator) Subscribe(ctx context.Context, onInvalidate func()) error {
	pubsub := i.client.Subscribe(ctx, i.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", i.channel, err)
	}
	i.logger.Info("subscribed to settings invalidation", zap.String("channel", i.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				i.logger.Warn("settings invalidation channel closed")
				return nil
			}
			var decoded invalidationMessage
			if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
				i.logger.Error("malformed settings invalidation", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			if decoded.Source == i.instance {
				continue
			}
			onInvalidate()
		}
	}
}
