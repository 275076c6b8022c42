package quota

import (
	"context"
	"fmt"
	"time"

	xerrors "AgentFleet/internal/errors"
)

// Kind 区分交互日志的类型。
type Kind string

const (
	// KindInteract 表示一次完成的智能体问答，用于每日配额。
	KindInteract Kind = "interact"
	// KindTransfer 表示一次已提交的链上自转账。
	KindTransfer Kind = "transfer"
)

// Entry 是交互日志中的一行。
type Entry struct {
	ID         int64     `json:"id"`
	Address    string    `json:"address"`
	Kind       Kind      `json:"kind"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Store 抽象交互日志的持久化。所有实现都串行访问底层存储。
type Store interface {
	Record(ctx context.Context, address string, kind Kind) (Entry, error)
	CountToday(ctx context.Context, address string, kind Kind) (int, error)
	Update(ctx context.Context, id int64, address string, kind Kind) (Entry, error)
	Delete(ctx context.Context, id int64) error
	All(ctx context.Context) ([]Entry, error)
	Close() error
}

// DayWindow 返回 t 所在 UTC 日的半开区间 [当日 00:00, 次日 00:00)。
func DayWindow(t time.Time) (time.Time, time.Time) {
	start := t.UTC().Truncate(24 * time.Hour)
	return start, start.Add(24 * time.Hour)
}

// Option 定义存储的可选配置。
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func (o options) utcNow() time.Time {
	return o.now().UTC()
}

func storageError(err error, action string) error {
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, action)
}

func entryNotFound(id int64) error {
	return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("交互记录 %d 不存在", id))
}

func validate(address string, kind Kind) error {
	if address == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "地址不能为空")
	}
	if kind == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录类型不能为空")
	}
	return nil
}
