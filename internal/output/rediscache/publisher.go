// Package rediscache 将盘口快照发布到 Redis，供外部进程读取最新视图。
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"schwab-bookmap/internal/config"
	"schwab-bookmap/internal/core/model"
)

// Publisher Redis 快照发布器
type Publisher struct {
	// client Redis 客户端
	client *redis.Client
	// prefix key 前缀
	prefix string
	// ttl 快照过期时间
	ttl time.Duration
	// logger 日志记录器
	logger *zap.Logger
}

// NewPublisher 创建发布器
// 参数 cfg: Redis 配置
// 参数 logger: 日志记录器
func NewPublisher(cfg *config.RedisConfig, logger *zap.Logger) *Publisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(rdb, cfg.KeyPrefix, time.Duration(cfg.TTLSec)*time.Second, logger)
}

// NewWithClient 使用已有客户端创建发布器
func NewWithClient(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *Publisher {
	return &Publisher{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.Named("redis"),
	}
}

// BookKey 快照 key: {prefix}:book:{symbol}
func (p *Publisher) BookKey(symbol string) string {
	return fmt.Sprintf("%s:book:%s", p.prefix, symbol)
}

// QuoteKey BBO key: {prefix}:quote:{symbol}
func (p *Publisher) QuoteKey(symbol string) string {
	return fmt.Sprintf("%s:quote:%s", p.prefix, symbol)
}

// Ping 检查连接
func (p *Publisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return nil
}

// PublishSnapshot 写入快照与 BBO，两个 key 使用相同 TTL
func (p *Publisher) PublishSnapshot(ctx context.Context, snap model.BookSnapshot) error {
	book, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("序列化快照失败: %w", err)
	}
	quote, err := json.Marshal(snap.Quote)
	if err != nil {
		return fmt.Errorf("序列化报价失败: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, p.BookKey(snap.Symbol), book, p.ttl)
	pipe.Set(ctx, p.QuoteKey(snap.Symbol), quote, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入 Redis 失败: %w", err)
	}
	return nil
}

// Invalidate 删除标的的缓存
// 进程退出时调用，下游不会读到已停止更新的盘口
func (p *Publisher) Invalidate(ctx context.Context, symbol string) error {
	if err := p.client.Del(ctx, p.BookKey(symbol), p.QuoteKey(symbol)).Err(); err != nil {
		return fmt.Errorf("删除 Redis 缓存失败: %w", err)
	}
	return nil
}

// Close 关闭客户端
func (p *Publisher) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("关闭 Redis 客户端失败: %w", err)
	}
	p.logger.Info("Redis 客户端已关闭")
	return nil
}
