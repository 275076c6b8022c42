package quota

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"AgentFleet/internal/config"
	xerrors "AgentFleet/internal/errors"
)

const defaultJournalName = "interaction_log.jsonl"

// Open 根据配置创建交互日志存储。file 驱动未指定路径时写入 dataDir。
func Open(ctx context.Context, cfg config.QuotaStoreConfig, dataDir string, opts ...Option) (Store, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "memory":
		return NewMemoryStore(opts...), nil
	case "", "file":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(dataDir, defaultJournalName)
		}
		store, err := OpenFileStore(path, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DialectMySQL, DialectPostgres:
		store, err := OpenSQL(ctx, driver, cfg.DSN, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		store, err := OpenRedis(ctx, cfg.Redis.URL, cfg.Redis.Prefix, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的配额存储驱动: %s", cfg.Driver))
	}
}
