package events

import (
	"context"
	"sync"
)

// MemoryPublisher 在内存中保留最近的事件，主要用于测试与状态接口。
type MemoryPublisher struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

// NewMemoryPublisher 创建内存发布器，limit 为保留的事件数量。
func NewMemoryPublisher(limit int) *MemoryPublisher {
	if limit <= 0 {
		limit = 256
	}
	return &MemoryPublisher{limit: limit}
}

// Publish 记录事件，超出上限时丢弃最旧的事件。
func (m *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	if overflow := len(m.events) - m.limit; overflow > 0 {
		m.events = append([]Event(nil), m.events[overflow:]...)
	}
	return nil
}

// Events 返回已记录事件的副本，按发布顺序排列。
func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Close 不做任何事情。
func (m *MemoryPublisher) Close() error { return nil }
