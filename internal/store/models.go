package store

import "time"

// GORM models used for persistence. Table names match the schema the web
// client was built against.

type UserModel struct {
	ID         string `gorm:"primaryKey"`
	Email      string `gorm:"uniqueIndex;not null"`
	ProfileURL string
	CreatedAt  time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users_info" }

type SessionModel struct {
	ID        string  `gorm:"primaryKey"`
	UserID    string  `gorm:"not null;index"`
	Title     *string `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (SessionModel) TableName() string { return "chat_sessions" }

type MessageModel struct {
	ID        string    `gorm:"primaryKey"`
	SessionID string    `gorm:"not null;index"`
	Role      string    `gorm:"not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (MessageModel) TableName() string { return "chat_messages" }
