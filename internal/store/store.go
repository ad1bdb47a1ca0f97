package store

import "time"

// Message roles accepted by the message log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// User is an account created on first Google login.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	ProfileURL string    `json:"profile_url"`
	CreatedAt  time.Time `json:"created_at"`
}

// Session is an owned container for an ordered sequence of chat messages.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one turn inside a session.
type Message struct {
	ID        string    `json:"-"`
	SessionID string    `json:"-"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"-"`
}

// Store defines persistence operations for users, sessions, and messages.
//
// Session lookups that take a userID enforce ownership: a session belonging
// to another user is reported as absent, never as forbidden. Message
// operations carry no ownership check; callers must have already authorized
// the session.
type Store interface {
	// users
	UpsertUser(email, profileURL string) error
	UserIDByEmail(email string) (string, bool, error)
	GetUserByEmail(email string) (User, bool, error)

	// sessions
	CreateSession(userID string) (Session, error)
	GetSessionForUser(id, userID string) (Session, bool, error)
	ListSessions(userID string) ([]Session, error)
	RenameSession(id, userID, title string) (Session, bool, error)
	SetSessionTitle(id, title string) error

	// messages
	AppendMessage(msg Message) error
	SessionHasMessages(sessionID string) (bool, error)
	ListMessages(sessionID string) ([]Message, error)
}
