package status

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"AgentFleet/internal/web3"
)

const shardCount = 32

// Snapshot 是某个账户最新状态的副本。
type Snapshot struct {
	Index             int             `json:"index"`
	Address           string          `json:"address"`
	Stats             json.RawMessage `json:"stats,omitempty"`
	Balance           web3.Balance    `json:"balance"`
	Stage             string          `json:"stage"`
	Message           string          `json:"message"`
	ResumeAt          time.Time       `json:"resume_at,omitempty"`
	InteractionsToday int             `json:"interactions_today"`
	QuotaLimit        int             `json:"quota_limit"`
	Stopped           bool            `json:"stopped"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TotalInteractions 从统计数据中读取累计交互次数，缺失时返回 false。
func (s Snapshot) TotalInteractions() (int64, bool) {
	if len(s.Stats) == 0 {
		return 0, false
	}
	var stats struct {
		Total *int64 `json:"total_interactions"`
	}
	if err := json.Unmarshal(s.Stats, &stats); err != nil || stats.Total == nil {
		return 0, false
	}
	return *stats.Total, true
}

func (s Snapshot) clone() Snapshot {
	if s.Stats != nil {
		s.Stats = append(json.RawMessage(nil), s.Stats...)
	}
	return s
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*Snapshot
}

// Registry 按账户身份分片保存状态。每个键只由其所属的 Worker 写入，读取总是拷贝。
type Registry struct {
	shards [shardCount]shard
	now    func() time.Time
}

// NewRegistry 创建空的状态表。
func NewRegistry() *Registry {
	r := &Registry{now: time.Now}
	for i := range r.shards {
		r.shards[i].entries = make(map[string]*Snapshot)
	}
	return r
}

func (r *Registry) shardFor(key string) *shard {
	return &r.shards[xxhash.Sum64String(key)%shardCount]
}

// GetOrCreate 返回键对应的状态，不存在时以给定序号创建。
func (r *Registry) GetOrCreate(key string, index int) Snapshot {
	sh := r.shardFor(key)
	sh.mu.RLock()
	if snap, ok := sh.entries[key]; ok {
		out := snap.clone()
		sh.mu.RUnlock()
		return out
	}
	sh.mu.RUnlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	snap, ok := sh.entries[key]
	if !ok {
		snap = &Snapshot{Index: index, UpdatedAt: r.now()}
		sh.entries[key] = snap
	}
	return snap.clone()
}

// Update 在分片锁内原子地修改状态，键不存在时先创建。
func (r *Registry) Update(key string, mutate func(*Snapshot)) Snapshot {
	sh := r.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	snap, ok := sh.entries[key]
	if !ok {
		snap = &Snapshot{}
		sh.entries[key] = snap
	}
	mutate(snap)
	snap.UpdatedAt = r.now()
	return snap.clone()
}

// Snapshot 返回单个键的副本。
func (r *Registry) Snapshot(key string) (Snapshot, bool) {
	sh := r.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	snap, ok := sh.entries[key]
	if !ok {
		return Snapshot{}, false
	}
	return snap.clone(), true
}

// Snapshots 返回全部状态的副本，按账户序号排序。
func (r *Registry) Snapshots() []Snapshot {
	var out []Snapshot
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for _, snap := range sh.entries {
			out = append(out, snap.clone())
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Len 返回已登记的账户数量。
func (r *Registry) Len() int {
	total := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		total += len(sh.entries)
		sh.mu.RUnlock()
	}
	return total
}
