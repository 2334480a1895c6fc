package selection

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tbraz/crm-dashboard-bff-go/internal/domain"
	"github.com/tbraz/crm-dashboard-bff-go/internal/infra/observability"
	"github.com/tbraz/crm-dashboard-bff-go/internal/port"
)

// Manager owns the live sessions. Idle sessions are evicted after the
// configured TTL; the dashboard simply creates a new one.
type Manager struct {
	directory port.Directory
	metrics   *observability.Metrics
	logger    *zap.Logger
	ttl       time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager and starts the eviction loop.
func NewManager(directory port.Directory, ttl time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Manager {
	m := &Manager{
		directory: directory,
		metrics:   metrics,
		logger:    logger,
		ttl:       ttl,
		sessions:  make(map[string]*Session),
	}
	go m.evictLoop()
	return m
}

// Create starts a new session for owner, carrying the CRM credential
// that every dependent fetch of this session will use.
func (m *Manager) Create(owner string, creds domain.Credentials) *Session {
	s := newSession(uuid.New().String(), owner, creds, m.directory, m.metrics, m.logger)

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.metrics.IncrSessionCreated()
	m.logger.Info("session created",
		zap.String("session_id", s.id),
		zap.String("owner", owner),
	)
	return s
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, &domain.ErrNotFound{Resource: "session", ID: id}
	}
	return s, nil
}

// Delete removes a session. Unknown ids are a no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok {
		m.metrics.DecrSessionsActive()
		m.logger.Info("session deleted", zap.String("session_id", id))
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) evictLoop() {
	interval := m.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-m.ttl)

		m.mu.Lock()
		var evicted []string
		for id, s := range m.sessions {
			s.mu.Lock()
			idle := s.lastTouched.Before(cutoff)
			s.mu.Unlock()
			if idle {
				delete(m.sessions, id)
				evicted = append(evicted, id)
			}
		}
		m.mu.Unlock()

		for _, id := range evicted {
			m.metrics.DecrSessionsActive()
			m.logger.Info("session evicted", zap.String("session_id", id))
		}
	}
}
