// Package history keeps a bounded per-user conversation log and renders it
// as prompt context.
package history

import (
	"context"
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store owns per-user session state. Implementations serialize updates per
// user key and never keep more than their configured number of entries.
type Store interface {
	// Append adds entries in order and trims the oldest beyond the cap.
	Append(ctx context.Context, user string, entries ...Entry) error
	Entries(ctx context.Context, user string) ([]Entry, error)
	Clear(ctx context.Context, user string) error
	// NextQueue returns the user's next request number, starting at 1.
	NextQueue(ctx context.Context, user string) (int64, error)
}

type session struct {
	mu       sync.Mutex
	entries  []Entry
	queue    int64
	lastSeen time.Time
}

// MemoryStore keeps sessions in process memory with one lock per user.
// Sessions idle longer than the idle TTL are dropped, queue counter
// included, the way Redis keys expire.
type MemoryStore struct {
	maxEntries int
	idleTTL    time.Duration
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore builds a store capped at maxEntries per user. A positive
// idleTTL starts a background sweep; call Stop to end it.
func NewMemoryStore(maxEntries int, idleTTL time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	m := &MemoryStore{
		maxEntries: maxEntries,
		idleTTL:    idleTTL,
		now:        time.Now,
		sessions:   make(map[string]*session),
		stop:       make(chan struct{}),
	}
	if idleTTL > 0 {
		go m.cleanup(sweepInterval(idleTTL))
	}
	return m
}

func sweepInterval(ttl time.Duration) time.Duration {
	if every := ttl / 4; every < 5*time.Minute {
		return every
	}
	return 5 * time.Minute
}

func (m *MemoryStore) session(user string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[user]
	if !ok {
		s = &session{}
		m.sessions[user] = s
	}
	s.lastSeen = m.now()
	return s
}

func (m *MemoryStore) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.EvictIdle()
		case <-m.stop:
			return
		}
	}
}

// EvictIdle drops sessions not touched within the idle TTL and reports how
// many were removed.
func (m *MemoryStore) EvictIdle() int {
	if m.idleTTL <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.idleTTL)
	evicted := 0
	for user, s := range m.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(m.sessions, user)
			evicted++
		}
	}
	return evicted
}

// Len is the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *MemoryStore) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *MemoryStore) Append(_ context.Context, user string, entries ...Entry) error {
	s := m.session(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	if over := len(s.entries) - m.maxEntries; over > 0 {
		s.entries = append([]Entry(nil), s.entries[over:]...)
	}
	return nil
}

func (m *MemoryStore) Entries(_ context.Context, user string) ([]Entry, error) {
	s := m.session(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...), nil
}

// Clear drops the conversation but keeps the queue counter.
func (m *MemoryStore) Clear(_ context.Context, user string) error {
	s := m.session(user)
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
	return nil
}

func (m *MemoryStore) NextQueue(_ context.Context, user string) (int64, error) {
	s := m.session(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue++
	return s.queue, nil
}
