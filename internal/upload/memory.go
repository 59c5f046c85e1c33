package upload

import (
	"context"
	"sync"
	"time"
)

// MemorySink keeps entries in process. It is the development default and
// backs the /logs view when no remote store is configured.
type MemorySink struct {
	mu     sync.RWMutex
	logs   map[string][]Record
	max    int
	now    func() time.Time
	closed bool
}

// NewMemorySink keeps at most max records per path (0 = unbounded).
func NewMemorySink(max int) *MemorySink {
	return &MemorySink{
		logs: make(map[string][]Record),
		max:  max,
		now:  time.Now,
	}
}

func (m *MemorySink) Push(ctx context.Context, path string, entry LogEntry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := newKey()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", context.Canceled
	}
	recs := append(m.logs[path], Record{Key: key, Time: m.now(), Entry: entry})
	if m.max > 0 && len(recs) > m.max {
		recs = recs[len(recs)-m.max:]
	}
	m.logs[path] = recs
	return key, nil
}

func (m *MemorySink) List(ctx context.Context, path string, n int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.logs[path]
	if n <= 0 || n > len(recs) {
		n = len(recs)
	}
	out := make([]Record, 0, n)
	for i := len(recs) - 1; i >= len(recs)-n; i-- {
		out = append(out, recs[i])
	}
	return out, nil
}

// Len returns the number of records stored under path.
func (m *MemorySink) Len(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs[path])
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
