package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
)

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// Memory is an in-process Cache. Keys are spread over independently locked
// shards so lookups for different users rarely contend.
type Memory struct {
	shards    [shardCount]*shard
	retention time.Duration
	now       func() time.Time
}

// NewMemory creates a Memory cache keeping entries for retention after they are stored.
func NewMemory(retention time.Duration) *Memory {
	m := &Memory{retention: retention, now: time.Now}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[string]Entry)}
	}
	return m
}

var _ Cache = (*Memory)(nil)

func (m *Memory) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return m.shards[h.Sum32()%shardCount]
}

func (m *Memory) Get(_ context.Context, userID string) (*Entry, error) {
	s := m.shardFor(userID)
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if m.now().Sub(e.StoredAt) >= m.retention {
		s.mu.Lock()
		if cur, ok := s.entries[userID]; ok && cur.StoredAt.Equal(e.StoredAt) {
			delete(s.entries, userID)
		}
		s.mu.Unlock()
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) Set(_ context.Context, userID string, ent domain.Entitlement) error {
	s := m.shardFor(userID)
	s.mu.Lock()
	s.entries[userID] = Entry{Entitlement: ent, StoredAt: m.now()}
	s.mu.Unlock()
	return nil
}

func (m *Memory) Invalidate(_ context.Context, userID string) error {
	s := m.shardFor(userID)
	s.mu.Lock()
	delete(s.entries, userID)
	s.mu.Unlock()
	return nil
}

// Sweep drops entries past retention and returns how many were removed.
func (m *Memory) Sweep() int {
	now := m.now()
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for id, e := range s.entries {
			if now.Sub(e.StoredAt) >= m.retention {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
