package store

import (
	"sort"
	"sync"
	"time"

	"eduflow/pkg/domain"
)

// MemoryStore keeps all records in-process. Used by tests and DATABASE_URL=memory://.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[uint]domain.User
	byEmail     map[string]uint
	byUsername  map[string]uint
	generations map[uint]domain.ContentGeneration
	uploads     map[uint]domain.FileUpload
	sessions    map[uint]domain.StudySession

	nextUser, nextGeneration, nextUpload, nextSession uint
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[uint]domain.User),
		byEmail:     make(map[string]uint),
		byUsername:  make(map[string]uint),
		generations: make(map[uint]domain.ContentGeneration),
		uploads:     make(map[uint]domain.FileUpload),
		sessions:    make(map[uint]domain.StudySession),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateUser(u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return domain.User{}, ErrDuplicateEmail
	}
	if _, ok := m.byUsername[u.Username]; ok {
		return domain.User{}, ErrDuplicateUsername
	}
	m.nextUser++
	u.ID = m.nextUser
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.users[u.ID] = u
	m.byEmail[u.Email] = u.ID
	m.byUsername[u.Username] = u.ID
	return u, nil
}

func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byUsername[username]
	if !ok {
		return domain.User{}, false, nil
	}
	return m.users[id], true, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[email]
	if !ok {
		return domain.User{}, false, nil
	}
	return m.users[id], true, nil
}

func (m *MemoryStore) UserCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// SetUserActive toggles a user's active flag.
func (m *MemoryStore) SetUserActive(id uint, active bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return false
	}
	now := time.Now().UTC()
	u.IsActive = active
	u.UpdatedAt = &now
	m.users[id] = u
	return true
}

func (m *MemoryStore) RecordGeneration(g domain.ContentGeneration) (domain.ContentGeneration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertGeneration(g), nil
}

func (m *MemoryStore) RecordUploadGeneration(u domain.FileUpload, g domain.ContentGeneration) (domain.FileUpload, domain.ContentGeneration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextUpload++
	u.ID = m.nextUpload
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.uploads[u.ID] = u
	return u, m.insertGeneration(g), nil
}

func (m *MemoryStore) insertGeneration(g domain.ContentGeneration) domain.ContentGeneration {
	m.nextGeneration++
	g.ID = m.nextGeneration
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	m.generations[g.ID] = g
	return g
}

// Uploads returns every recorded upload in insertion order.
func (m *MemoryStore) Uploads() []domain.FileUpload {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.FileUpload, 0, len(m.uploads))
	for _, u := range m.uploads {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) ListGenerationsByUser(userID uint, limit int) ([]domain.ContentGeneration, error) {
	if limit <= 0 {
		return []domain.ContentGeneration{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ContentGeneration, 0)
	for _, g := range m.generations {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetGeneration(id uint) (domain.ContentGeneration, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.generations[id]
	return g, ok, nil
}

func (m *MemoryStore) CreateStudySession(s domain.StudySession) (domain.StudySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSession++
	s.ID = m.nextSession
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemoryStore) ListStudySessionsByUser(userID uint) ([]domain.StudySession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.StudySession, 0)
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}
