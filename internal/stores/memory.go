package stores

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryAttempts struct {
	scores    []int64
	expiresAt time.Time
}

// MemoryAttemptLog is an in-process AttemptLog. It gives the same counting
// semantics as the Redis backend but is only shared within one process.
type MemoryAttemptLog struct {
	mu   sync.Mutex
	keys map[string]*memoryAttempts
}

func NewMemoryAttemptLog() *MemoryAttemptLog {
	return &MemoryAttemptLog{keys: make(map[string]*memoryAttempts)}
}

func (l *MemoryAttemptLog) Record(_ context.Context, key string, at time.Time, retention time.Duration) error {
	if retention < time.Second {
		retention = time.Second
	}
	score := at.Unix()
	cutoff := score - int64(retention/time.Second)

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.keys[key]
	if entry == nil || !at.Before(entry.expiresAt) {
		entry = &memoryAttempts{}
		l.keys[key] = entry
	}

	kept := entry.scores[:0]
	for _, s := range entry.scores {
		if s >= cutoff {
			kept = append(kept, s)
		}
	}
	entry.scores = append(kept, score)
	entry.expiresAt = at.Add(retention)
	return nil
}

func (l *MemoryAttemptLog) CountInRange(_ context.Context, key string, from, to time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.keys[key]
	if entry == nil {
		return 0, nil
	}
	if !to.Before(entry.expiresAt) {
		delete(l.keys, key)
		return 0, nil
	}

	lo, hi := from.Unix(), to.Unix()
	var count int64
	for _, s := range entry.scores {
		if s >= lo && s <= hi {
			count++
		}
	}
	return count, nil
}

func (l *MemoryAttemptLog) Clear(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.keys, key)
	l.mu.Unlock()
	return nil
}

// Keys lists tracked keys in sorted order.
func (l *MemoryAttemptLog) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.keys))
	for k := range l.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MemoryBlockRegistry is an in-process BlockRegistry. Records are kept until
// deleted or overwritten; staleness is judged by the caller's clock.
type MemoryBlockRegistry struct {
	mu      sync.RWMutex
	records map[string]BlockRecord
}

func NewMemoryBlockRegistry() *MemoryBlockRegistry {
	return &MemoryBlockRegistry{records: make(map[string]BlockRecord)}
}

func (r *MemoryBlockRegistry) Get(_ context.Context, key string) (BlockRecord, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[key]
	return record, ok, nil
}

func (r *MemoryBlockRegistry) Set(_ context.Context, record BlockRecord, _ time.Time) error {
	r.mu.Lock()
	r.records[record.Key] = record
	r.mu.Unlock()
	return nil
}

func (r *MemoryBlockRegistry) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	delete(r.records, key)
	r.mu.Unlock()
	return nil
}
