package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "agentfleet:quota"

// RedisStore 使用 Redis 保存交互日志：每条记录是一个 hash，
// 按地址与类型维护以毫秒时间戳为分值的有序集合索引。
type RedisStore struct {
	mu     sync.Mutex
	client redis.UniversalClient
	prefix string
	opts   options
}

// OpenRedis 解析 redis:// URL 并检查连通性。
func OpenRedis(ctx context.Context, rawURL, prefix string, opts ...Option) (*RedisStore, error) {
	parsed, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, storageError(err, "解析 Redis 地址失败")
	}
	client := redis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, storageError(err, "连接 Redis 失败")
	}
	return NewRedisStore(client, prefix, opts...), nil
}

// NewRedisStore 包装已有客户端。
func NewRedisStore(client redis.UniversalClient, prefix string, opts ...Option) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, opts: buildOptions(opts)}
}

func (r *RedisStore) seqKey() string { return r.prefix + ":seq" }
func (r *RedisStore) allKey() string { return r.prefix + ":all" }

func (r *RedisStore) entryKey(id int64) string {
	return fmt.Sprintf("%s:entry:%d", r.prefix, id)
}

func (r *RedisStore) indexKey(address string, kind Kind) string {
	return fmt.Sprintf("%s:idx:%s:%s", r.prefix, address, kind)
}

// Record 分配自增 ID 并写入记录与索引。
func (r *RedisStore) Record(ctx context.Context, address string, kind Kind) (Entry, error) {
	if err := validate(address, kind); err != nil {
		return Entry{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return Entry{}, storageError(err, "分配记录 ID 失败")
	}
	entry := Entry{ID: id, Address: address, Kind: kind, RecordedAt: time.UnixMilli(r.opts.utcNow().UnixMilli()).UTC()}
	if err := r.write(ctx, entry, nil); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// CountToday 在有序集合索引上做半开区间计数。
func (r *RedisStore) CountToday(ctx context.Context, address string, kind Kind) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start, end := DayWindow(r.opts.utcNow())
	count, err := r.client.ZCount(ctx, r.indexKey(address, kind),
		strconv.FormatInt(start.UnixMilli(), 10),
		"("+strconv.FormatInt(end.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, storageError(err, "查询交互记录失败")
	}
	return int(count), nil
}

// Update 修改记录，必要时迁移索引。
func (r *RedisStore) Update(ctx context.Context, id int64, address string, kind Kind) (Entry, error) {
	if err := validate(address, kind); err != nil {
		return Entry{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, err := r.load(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{ID: id, Address: address, Kind: kind, RecordedAt: time.UnixMilli(r.opts.utcNow().UnixMilli()).UTC()}
	if err := r.write(ctx, entry, &previous); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Delete 删除记录及其索引。
func (r *RedisStore) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	member := strconv.FormatInt(id, 10)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.entryKey(id))
		pipe.ZRem(ctx, r.indexKey(previous.Address, previous.Kind), member)
		pipe.ZRem(ctx, r.allKey(), member)
		return nil
	})
	if err != nil {
		return storageError(err, "删除交互记录失败")
	}
	return nil
}

// All 按 ID 升序返回全部记录。
func (r *RedisStore) All(ctx context.Context) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, err := r.client.ZRange(ctx, r.allKey(), 0, -1).Result()
	if err != nil {
		return nil, storageError(err, "查询交互记录失败")
	}
	entries := make([]Entry, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		entry, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close 关闭客户端。
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) write(ctx context.Context, entry Entry, previous *Entry) error {
	member := strconv.FormatInt(entry.ID, 10)
	score := float64(entry.RecordedAt.UnixMilli())
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != nil {
			pipe.ZRem(ctx, r.indexKey(previous.Address, previous.Kind), member)
		}
		pipe.HSet(ctx, r.entryKey(entry.ID),
			"address", entry.Address,
			"kind", string(entry.Kind),
			"recorded_at", entry.RecordedAt.UnixMilli())
		pipe.ZAdd(ctx, r.indexKey(entry.Address, entry.Kind), redis.Z{Score: score, Member: member})
		pipe.ZAdd(ctx, r.allKey(), redis.Z{Score: float64(entry.ID), Member: member})
		return nil
	})
	if err != nil {
		return storageError(err, "写入交互记录失败")
	}
	return nil
}

func (r *RedisStore) load(ctx context.Context, id int64) (Entry, error) {
	fields, err := r.client.HGetAll(ctx, r.entryKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, storageError(err, "读取交互记录失败")
	}
	if len(fields) == 0 {
		return Entry{}, entryNotFound(id)
	}
	millis, err := strconv.ParseInt(fields["recorded_at"], 10, 64)
	if err != nil {
		return Entry{}, storageError(err, "解析交互记录失败")
	}
	return Entry{
		ID:         id,
		Address:    fields["address"],
		Kind:       Kind(fields["kind"]),
		RecordedAt: time.UnixMilli(millis).UTC(),
	}, nil
}
