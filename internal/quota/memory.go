package quota

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// MemoryStore 在内存中保存交互日志。设置 journal 路径后每次变更都以 JSON 行追加写入，
// 启动时回放以恢复状态。
type MemoryStore struct {
	mu      sync.Mutex
	opts    options
	entries map[int64]Entry
	nextID  int64
	journal string
}

type journalLine struct {
	Op    string `json:"op"`
	Entry Entry  `json:"entry"`
}

const (
	opRecord = "record"
	opUpdate = "update"
	opDelete = "delete"
)

// NewMemoryStore 创建一个不落盘的存储。
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:    buildOptions(opts),
		entries: make(map[int64]Entry),
		nextID:  1,
	}
}

// OpenFileStore 创建以 JSON 行日志持久化的存储，并回放已有日志。
func OpenFileStore(path string, opts ...Option) (*MemoryStore, error) {
	if path == "" {
		return nil, storageError(fmt.Errorf("journal path is empty"), "打开交互日志失败")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storageError(err, "创建数据目录失败")
	}
	store := NewMemoryStore(opts...)
	store.journal = path
	if err := store.replay(); err != nil {
		return nil, err
	}
	if err := store.trimTornTail(); err != nil {
		return nil, err
	}
	return store, nil
}

// Record 追加一条记录。
func (m *MemoryStore) Record(ctx context.Context, address string, kind Kind) (Entry, error) {
	if err := validate(address, kind); err != nil {
		return Entry{}, err
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, storageError(err, "写入交互记录失败")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := Entry{ID: m.nextID, Address: address, Kind: kind, RecordedAt: m.opts.utcNow()}
	if err := m.append(opRecord, entry); err != nil {
		return Entry{}, err
	}
	m.entries[entry.ID] = entry
	m.nextID++
	return entry, nil
}

// CountToday 统计当前 UTC 日内的记录数。
func (m *MemoryStore) CountToday(ctx context.Context, address string, kind Kind) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, storageError(err, "查询交互记录失败")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	start, end := DayWindow(m.opts.utcNow())
	count := 0
	for _, entry := range m.entries {
		if entry.Address != address || entry.Kind != kind {
			continue
		}
		if !entry.RecordedAt.Before(start) && entry.RecordedAt.Before(end) {
			count++
		}
	}
	return count, nil
}

// Update 修改记录的地址与类型并刷新时间戳。
func (m *MemoryStore) Update(ctx context.Context, id int64, address string, kind Kind) (Entry, error) {
	if err := validate(address, kind); err != nil {
		return Entry{}, err
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, storageError(err, "更新交互记录失败")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[id]; !ok {
		return Entry{}, entryNotFound(id)
	}
	entry := Entry{ID: id, Address: address, Kind: kind, RecordedAt: m.opts.utcNow()}
	if err := m.append(opUpdate, entry); err != nil {
		return Entry{}, err
	}
	m.entries[id] = entry
	return entry, nil
}

// Delete 删除记录。
func (m *MemoryStore) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return storageError(err, "删除交互记录失败")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return entryNotFound(id)
	}
	if err := m.append(opDelete, entry); err != nil {
		return err
	}
	delete(m.entries, id)
	return nil
}

// All 按 ID 升序返回全部记录。
func (m *MemoryStore) All(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError(err, "查询交互记录失败")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// Close 对内存存储是空操作。
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) append(op string, entry Entry) error {
	if m.journal == "" {
		return nil
	}
	file, err := os.OpenFile(m.journal, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return storageError(err, "打开交互日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(journalLine{Op: op, Entry: entry})
	if err != nil {
		return storageError(err, "序列化交互记录失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return storageError(err, "写入交互日志失败")
	}
	return nil
}

func (m *MemoryStore) replay() error {
	file, err := os.OpenFile(m.journal, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return storageError(err, "读取交互日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var line journalLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			// 进程被强制终止时最后一行可能不完整。
			continue
		}
		switch line.Op {
		case opRecord, opUpdate:
			m.entries[line.Entry.ID] = line.Entry
		case opDelete:
			delete(m.entries, line.Entry.ID)
		}
		if line.Entry.ID >= m.nextID {
			m.nextID = line.Entry.ID + 1
		}
	}
	if err := scanner.Err(); err != nil {
		return storageError(err, "解析交互日志失败")
	}
	return nil
}

// trimTornTail 截掉日志末尾不以换行结束的残缺行，保证后续追加从新行开始。
func (m *MemoryStore) trimTornTail() error {
	raw, err := os.ReadFile(m.journal)
	if err != nil {
		return storageError(err, "读取交互日志失败")
	}
	if len(raw) == 0 || raw[len(raw)-1] == '\n' {
		return nil
	}
	keep := bytes.LastIndexByte(raw, '\n') + 1
	if json.Valid(raw[keep:]) {
		// 完整记录只缺换行，已被回放，补齐即可。
		file, err := os.OpenFile(m.journal, os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return storageError(err, "修复交互日志失败")
		}
		defer file.Close()
		if _, err := file.Write([]byte{'\n'}); err != nil {
			return storageError(err, "修复交互日志失败")
		}
		return nil
	}
	if err := os.Truncate(m.journal, int64(keep)); err != nil {
		return storageError(err, "修复交互日志失败")
	}
	return nil
}
