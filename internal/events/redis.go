package events

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	xerrors "AgentFleet/internal/errors"
)

const (
	defaultRedisKey    = "agentfleet:events"
	defaultRedisMaxLen = 1000
)

// RedisPublisher 将事件写入 Redis list，并裁剪到固定长度。
type RedisPublisher struct {
	client redis.UniversalClient
	key    string
	maxLen int64
}

// OpenRedis 解析 redis:// URL 并检查连通性。
func OpenRedis(ctx context.Context, rawURL, key string, maxLen int64) (*RedisPublisher, error) {
	if rawURL == "" {
		return nil, errors.New("Redis URL 不能为空")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 Redis 地址失败")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "连接 Redis 失败")
	}
	return NewRedisPublisher(client, key, maxLen), nil
}

// NewRedisPublisher 包装已有客户端。
func NewRedisPublisher(client redis.UniversalClient, key string, maxLen int64) *RedisPublisher {
	if key == "" {
		key = defaultRedisKey
	}
	if maxLen <= 0 {
		maxLen = defaultRedisMaxLen
	}
	return &RedisPublisher{client: client, key: key, maxLen: maxLen}
}

// Publish 使用 LPUSH 写入事件，LTRIM 只保留最新的 maxLen 条。
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := event.encode()
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "序列化事件失败")
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, p.key, payload)
		pipe.LTrim(ctx, p.key, 0, p.maxLen-1)
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "Redis 发布事件失败")
	}
	return nil
}

// Close 关闭客户端。
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
