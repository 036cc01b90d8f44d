package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sing3demons/jwtnode/internal/config"
	"github.com/sing3demons/jwtnode/pkg/logAction"
	"github.com/sing3demons/jwtnode/pkg/logger"
	"github.com/sing3demons/jwtnode/pkg/mlog"
)

type RedisClient struct {
	client *redis.Client
}

type IRedisClient interface {
	Close() error
	Ping(ctx context.Context) error
	Publish(ctx context.Context, channel string, payload []byte) error
}

func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (IRedisClient, error) {
	log := mlog.L(ctx)
	log.Info(logAction.DB_REQUEST(logAction.DB_CREATE, "connecting to redis"), map[string]any{"addr": cfg.Addr})

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	c := &RedisClient{client: rdb}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info(logAction.DB_RESPONSE(logAction.DB_CREATE, "redis connected"), map[string]any{"addr": cfg.Addr})
	return c, nil
}

func (c *RedisClient) GetClient() *redis.Client {
	return c.client
}

func (c *RedisClient) Close() error {
	return c.client.Close()
}

func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Publish sends payload on channel and logs the number of receivers.
func (c *RedisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	log := mlog.L(ctx)
	start := time.Now()

	maskingRules := []logger.MaskingRule{
		{Field: "payload", Type: logger.MaskingTypeFull},
	}

	log.SetDependencyMetadata(logger.DependencyMetadata{
		Dependency: "redis",
	}).Debug(logAction.DB_REQUEST(logAction.DB_CREATE, "redis PUBLISH"), map[string]any{
		"channel": channel,
		"payload": string(payload),
	}, maskingRules...)

	receivers, err := c.client.Publish(ctx, channel, payload).Result()
	elapsedMs := time.Since(start).Milliseconds()

	result := map[string]any{}
	if err != nil {
		result = map[string]any{
			"error": err.Error(),
		}
	} else {
		result = map[string]any{
			"receivers": receivers,
		}
	}

	log.SetDependencyMetadata(logger.DependencyMetadata{
		Dependency:   "redis",
		ResponseTime: elapsedMs,
	}).Debug(logAction.DB_RESPONSE(logAction.DB_CREATE, "redis PUBLISH"), result)
	return err
}
