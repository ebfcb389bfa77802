package reqauth

import (
	"context"
	"sync"
	"time"
)

// MemReplayGuard — кэш принятых подписей в памяти процесса (один инстанс).
type MemReplayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time // подпись -> когда можно забыть
	now  func() time.Time
}

func NewMemReplayGuard() *MemReplayGuard {
	return &MemReplayGuard{seen: make(map[string]time.Time), now: time.Now}
}

func (m *MemReplayGuard) Seen(_ context.Context, signature string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	// GC старых подписей
	for s, exp := range m.seen {
		if !now.Before(exp) {
			delete(m.seen, s)
		}
	}
	if _, ok := m.seen[signature]; ok {
		return true, nil
	}
	m.seen[signature] = now.Add(ttl)
	return false, nil
}
