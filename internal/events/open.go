package events

import (
	"context"
	"fmt"
	"strings"

	"AgentFleet/internal/config"
	xerrors "AgentFleet/internal/errors"
)

// Open 根据配置创建事件发布器。
func Open(ctx context.Context, cfg config.EventsConfig) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return Nop{}, nil
	case "memory":
		return NewMemoryPublisher(cfg.Buffer), nil
	case "redis":
		pub, err := OpenRedis(ctx, cfg.Redis.URL, cfg.Redis.Prefix, cfg.Redis.MaxLen)
		if err != nil {
			return nil, err
		}
		return pub, nil
	case "rabbitmq":
		pub, err := OpenRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			return nil, err
		}
		return pub, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的事件驱动: %s", cfg.Driver))
	}
}
