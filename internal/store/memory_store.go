package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in-process. It backs tests and local runs
// without Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]User      // key: user ID
	email    map[string]string    // email -> user ID
	sessions map[string]Session   // key: session ID
	messages map[string][]Message // key: session ID, append order
	seq      int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]User),
		email:    make(map[string]string),
		sessions: make(map[string]Session),
		messages: make(map[string][]Message),
	}
}

func (m *MemoryStore) now() time.Time {
	// Monotonic tiebreak so ordering stays deterministic even when two
	// writes land in the same wall-clock tick.
	m.seq++
	return time.Now().UTC().Add(time.Duration(m.seq) * time.Nanosecond)
}

func (m *MemoryStore) UpsertUser(email, profileURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.email[email]; exists {
		return nil
	}
	user := User{
		ID:         uuid.NewString(),
		Email:      email,
		ProfileURL: profileURL,
		CreatedAt:  m.now(),
	}
	m.users[user.ID] = user
	m.email[email] = user.ID
	return nil
}

func (m *MemoryStore) UserIDByEmail(email string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	return id, ok, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return User{}, false, nil
	}
	return m.users[id], true, nil
}

func (m *MemoryStore) CreateSession(userID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: m.now(),
	}
	m.sessions[session.ID] = session
	return session, nil
}

func (m *MemoryStore) GetSessionForUser(id, userID string) (Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok || session.UserID != userID {
		return Session{}, false, nil
	}
	return session, true, nil
}

func (m *MemoryStore) ListSessions(userID string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0)
	for _, session := range m.sessions {
		if session.UserID == userID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) RenameSession(id, userID, title string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok || session.UserID != userID {
		return Session{}, false, nil
	}
	session.Title = title
	m.sessions[id] = session
	return session, true, nil
}

func (m *MemoryStore) SetSessionTitle(id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil
	}
	session.Title = title
	m.sessions[id] = session
	return nil
}

func (m *MemoryStore) AppendMessage(msg Message) error {
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return nil
}

func (m *MemoryStore) SessionHasMessages(sessionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[sessionID]) > 0, nil
}

func (m *MemoryStore) ListMessages(sessionID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[sessionID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
