package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/config"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OpenRedis 按配置连接 Redis，单地址为普通客户端，多地址为集群客户端
func OpenRedis(ctx context.Context, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("redis 地址不能为空")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis 连接测试失败: %w", err)
	}

	logger.WithModule("database").Info("Redis连接成功", zap.Strings("addrs", cfg.Addrs))
	return client, nil
}
