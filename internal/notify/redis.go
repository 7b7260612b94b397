package notify

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// RedisNotifier publishes alerts as JSON on a pub/sub channel.
type RedisNotifier struct {
	rdb     publisher
	channel string
	logger  *zap.Logger
}

func NewRedisNotifier(rdb *goredis.Client, channel string, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: channel, logger: logger}
}

// NewRedisClient builds a client and checks the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (r *RedisNotifier) Send(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("redis: marshal: %w", err)
	}

	receivers, err := r.rdb.Publish(ctx, r.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("redis: publish %s: %w", r.channel, err)
	}

	r.logger.Debug("redis alert published",
		zap.String("channel", r.channel),
		zap.Int64("receivers", receivers),
	)
	return nil
}
