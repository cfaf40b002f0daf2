package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"kimhanh/internal/pkg/metrics"

	"github.com/google/uuid"
)

// Manager 管理内存中的会话，并回收长时间无操作的会话。
type Manager struct {
	deps *Deps
	idle time.Duration
	now  func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager 创建会话管理器。idle <= 0 时不回收。
func NewManager(deps Deps, idle time.Duration) *Manager {
	return &Manager{
		deps:     &deps,
		idle:     idle,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create 创建新会话。
func (m *Manager) Create() *Session {
	s := newSession(uuid.NewString(), m.deps, m.now())
	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	m.deps.Logger.Info("session created", slog.String("session_id", s.ID))
	return s
}

// Get 查找会话并刷新活动时间。
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		s.touch(m.now())
	}
	return s, ok
}

// Remove 关闭并删除会话。
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if ok {
		s.Close()
		metrics.ActiveSessions.Set(float64(n))
	}
	return ok
}

// Len 当前会话数。
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EvictIdle 关闭超过空闲时间的会话，返回回收数量。
func (m *Manager) EvictIdle() int {
	if m.idle <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idle)

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range expired {
		s.Close()
		m.deps.Logger.Info("session evicted", slog.String("session_id", s.ID))
	}
	if len(expired) > 0 {
		metrics.ActiveSessions.Set(float64(n))
	}
	return len(expired)
}

// Run 周期性回收空闲会话，直到 ctx 结束；退出前关闭全部会话。
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer m.CloseAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictIdle()
		}
	}
}

// CloseAll 关闭并删除全部会话。
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	metrics.ActiveSessions.Set(0)
}
