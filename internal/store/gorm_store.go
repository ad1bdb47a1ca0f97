package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 48291047

// PoolOptions bounds the underlying connection pool.
type PoolOptions struct {
	MinConns        int
	MaxConns        int
	ConnMaxIdleTime time.Duration
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB, sizes the pool, and runs auto-migrations.
func NewGormStore(dsn string, pool PoolOptions) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if pool.MinConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MinConns)
	}
	if pool.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxConns)
	}
	if pool.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &SessionModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Close drains the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// UpsertUser registers a user on first login. Existing rows are left
// untouched: a new login never overwrites stored profile data.
func (s *GormStore) UpsertUser(email, profileURL string) error {
	model := UserModel{
		ID:         uuid.NewString(),
		Email:      email,
		ProfileURL: profileURL,
		CreatedAt:  time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(&model).Error
}

// UserIDByEmail resolves the internal user id for an email.
func (s *GormStore) UserIDByEmail(email string) (string, bool, error) {
	var model UserModel
	if err := s.db.Select("id").Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return model.ID, true, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateSession inserts a new owned session.
func (s *GormStore) CreateSession(userID string) (Session, error) {
	model := SessionModel{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&model).Error; err != nil {
		return Session{}, err
	}
	return sessionFromModel(model), nil
}

// GetSessionForUser looks up a session by (id, user_id). A session owned by
// someone else is reported as absent.
func (s *GormStore) GetSessionForUser(id, userID string) (Session, bool, error) {
	var model SessionModel
	if err := s.db.Where("id = ? AND user_id = ?", id, userID).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	return sessionFromModel(model), true, nil
}

// ListSessions returns a user's sessions, most recent first.
func (s *GormStore) ListSessions(userID string) ([]Session, error) {
	var models []SessionModel
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(models))
	for _, model := range models {
		sessions = append(sessions, sessionFromModel(model))
	}
	return sessions, nil
}

// RenameSession updates the title, guarded by the ownership predicate.
// Zero rows affected is reported as not-found regardless of whether the
// session exists under another owner.
func (s *GormStore) RenameSession(id, userID, title string) (Session, bool, error) {
	res := s.db.Model(&SessionModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("title", title)
	if res.Error != nil {
		return Session{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return Session{}, false, nil
	}
	return Session{ID: id, UserID: userID, Title: title}, true, nil
}

// SetSessionTitle updates the title without an ownership predicate. Used by
// auto-titling, where the caller has already resolved the session.
func (s *GormStore) SetSessionTitle(id, title string) error {
	return s.db.Model(&SessionModel{}).Where("id = ?", id).Update("title", title).Error
}

// AppendMessage records one turn. The session id must already have been
// validated by the caller.
func (s *GormStore) AppendMessage(msg Message) error {
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}
	model := MessageModel{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	return s.db.Create(&model).Error
}

// SessionHasMessages reports whether any message was ever appended.
func (s *GormStore) SessionHasMessages(sessionID string) (bool, error) {
	var count int64
	if err := s.db.Model(&MessageModel{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListMessages returns a session's messages in ascending creation order.
func (s *GormStore) ListMessages(sessionID string) ([]Message, error) {
	var models []MessageModel
	if err := s.db.Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, Message{
			ID:        model.ID,
			SessionID: model.SessionID,
			Role:      model.Role,
			Content:   model.Content,
			CreatedAt: model.CreatedAt,
		})
	}
	return msgs, nil
}

func userFromModel(m UserModel) User {
	return User{
		ID:         m.ID,
		Email:      m.Email,
		ProfileURL: m.ProfileURL,
		CreatedAt:  m.CreatedAt,
	}
}

func sessionFromModel(m SessionModel) Session {
	title := ""
	if m.Title != nil {
		title = strings.TrimSpace(*m.Title)
	}
	return Session{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     title,
		CreatedAt: m.CreatedAt,
	}
}
