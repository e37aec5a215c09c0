package database

import (
	"context"
	"errors"
	"fmt"

	"realtalk-service/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func RedisConnect(ctx context.Context, settings *config.Settings, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", settings.RedisHost, settings.RedisPort),
		Password: settings.RedisPassword,
		DB:       settings.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connection opened to Redis", zap.Int("db", settings.RedisDB))
	return client, nil
}

const refreshPrefix = "refresh:"

// RefreshTokens keeps one refresh token per user in redis.
type RefreshTokens struct {
	client *redis.Client
}

func NewRefreshTokens(client *redis.Client) *RefreshTokens {
	return &RefreshTokens{client: client}
}

func (r *RefreshTokens) SetRefresh(ctx context.Context, userID, token string) error {
	return r.client.Set(ctx, refreshPrefix+userID, token, 0).Err()
}

func (r *RefreshTokens) GetRefresh(ctx context.Context, userID string) (string, error) {
	token, err := r.client.Get(ctx, refreshPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return token, err
}
