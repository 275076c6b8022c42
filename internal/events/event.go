package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Level 标识事件的日志级别。
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event 是账户状态行的结构化副本。
type Event struct {
	ID         string            `json:"id"`
	Account    int               `json:"account"`
	Address    string            `json:"address,omitempty"`
	Stage      string            `json:"stage"`
	Level      Level             `json:"level"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// New 创建带有随机 ID 与当前时间的事件。
func New(account int, address, stage string, level Level, message string) Event {
	return Event{
		ID:         uuid.NewString(),
		Account:    account,
		Address:    address,
		Stage:      stage,
		Level:      level,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher 负责把事件投递到外部系统。实现必须支持并发调用。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop 丢弃所有事件。
type Nop struct{}

// Publish 不做任何事情。
func (Nop) Publish(context.Context, Event) error { return nil }

// Close 不做任何事情。
func (Nop) Close() error { return nil }
